package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/parser"
)

type Config struct {
	Port     string
	LogLevel string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int
	ParseWorkers int

	// Loading
	MaxSourceBytes       int64
	NormalizeUnicode     bool
	PDFFallbackPdftotext bool
	RemoteTimeout        time.Duration
	RemoteRPS            float64
	EnableS3             bool
	AllowLocalFiles      bool // let API callers name server-side paths

	// Chunking defaults
	ChunkMaxSize    int
	ChunkMinSize    int
	ChunkOverlap    int
	ChunkTolerance  float64
	ChunkPreference []doctree.BoundaryKind

	// Parsing
	GrammarFile string

	// Results
	ResultTTL       time.Duration
	ResultStoreURL  string
	ResultStoreKey  string
	ResultKeyPrefix string
}

// Load reads a .env file if present, then the environment.
func Load() Config {
	_ = godotenv.Load()

	def := chunker.DefaultConfig()
	cfg := Config{
		Port:     envOr("PORT", "8090"),
		LogLevel: envOr("LOG_LEVEL", "info"),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),
		ParseWorkers: envInt("PARSE_WORKERS", 8),

		MaxSourceBytes:       envInt64("MAX_SOURCE_BYTES", 52428800), // 50MB
		NormalizeUnicode:     envBool("NORMALIZE_UNICODE", true),
		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
		RemoteTimeout:        envDuration("REMOTE_TIMEOUT", 30*time.Second),
		RemoteRPS:            envFloat("REMOTE_RPS", 5),
		EnableS3:             envBool("ENABLE_S3", false),
		AllowLocalFiles:      envBool("ALLOW_LOCAL_FILES", false),

		ChunkMaxSize:    envInt("CHUNK_MAX_SIZE", def.MaxChunkSize),
		ChunkMinSize:    envInt("CHUNK_MIN_SIZE", def.MinChunkSize),
		ChunkOverlap:    envInt("CHUNK_OVERLAP", def.OverlapSize),
		ChunkTolerance:  envFloat("CHUNK_TOLERANCE", def.Tolerance),
		ChunkPreference: envBoundaries("CHUNK_BOUNDARIES", def.BoundaryPreference),

		GrammarFile: os.Getenv("PARSE_GRAMMAR_FILE"),

		ResultTTL:       envDuration("RESULT_TTL", 1*time.Hour),
		ResultStoreURL:  os.Getenv("RESULT_STORE_URL"),
		ResultStoreKey:  os.Getenv("RESULT_STORE_API_KEY"),
		ResultKeyPrefix: envOr("RESULT_STORE_PREFIX", "docflow/runs"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.ParseWorkers <= 0 {
		cfg.ParseWorkers = 8
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 52428800
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 30 * time.Second
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 1 * time.Hour
	}

	return cfg
}

// Validate checks the chunking defaults and the grammar file.
func (c Config) Validate() error {
	if _, err := c.ChunkConfig().Validate(); err != nil {
		return fmt.Errorf("chunk defaults: %w", err)
	}
	if _, err := c.ParseConfig(); err != nil {
		return fmt.Errorf("grammar: %w", err)
	}
	if c.RemoteRPS < 0 {
		return fmt.Errorf("REMOTE_RPS must not be negative")
	}
	return nil
}

// ChunkConfig returns the default chunker configuration.
func (c Config) ChunkConfig() chunker.Config {
	return chunker.Config{
		MaxChunkSize:       c.ChunkMaxSize,
		MinChunkSize:       c.ChunkMinSize,
		OverlapSize:        c.ChunkOverlap,
		BoundaryPreference: c.ChunkPreference,
		Tolerance:          c.ChunkTolerance,
	}
}

// ParseConfig returns the grammar from GrammarFile, or the built-in one.
func (c Config) ParseConfig() (parser.Config, error) {
	if c.GrammarFile == "" {
		return parser.DefaultConfig(), nil
	}
	return parser.LoadGrammarFile(c.GrammarFile)
}

// LoadOptions returns the loader options shared by every run.
func (c Config) LoadOptions(f *loader.Fetcher) loader.Options {
	return loader.Options{
		MaxBytes:         c.MaxSourceBytes,
		NormalizeUnicode: c.NormalizeUnicode,
		PDFFallback:      c.PDFFallbackPdftotext,
		Fetcher:          f,
	}
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envBoundaries reads a comma-separated list such as "paragraph,sentence".
func envBoundaries(key string, fallback []doctree.BoundaryKind) []doctree.BoundaryKind {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []doctree.BoundaryKind
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, doctree.BoundaryKind(strings.ToLower(part)))
		}
	}
	return out
}
