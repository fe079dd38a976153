// Package cli implements the docflow command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/parser"
)

var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "Load, chunk and parse documents",
	Long: `docflow turns files, streams and remote objects into chunks and
structured records. Every command prints JSON on stdout.`,
	SilenceUsage: true,
}

// Flags shared by several commands.
var (
	logLevel string
	pretty   bool

	loadFormat    string
	loadTitle     string
	loadMaxBytes  int64
	loadNormalize bool
	loadTimeout   time.Duration

	chunkMax        int
	chunkMin        int
	chunkOverlap    int
	chunkTolerance  float64
	chunkBoundaries []string

	grammarFile string
	workers     int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Indent JSON output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&loadFormat, "format", "", "Force the source format (text, markdown, html, csv, pdf, docx)")
	cmd.Flags().StringVar(&loadTitle, "title", "", "Document title")
	cmd.Flags().Int64Var(&loadMaxBytes, "max-bytes", 50<<20, "Maximum source size in bytes (0 for no limit)")
	cmd.Flags().BoolVar(&loadNormalize, "nfc", false, "Normalize text to Unicode NFC")
	cmd.Flags().DurationVar(&loadTimeout, "timeout", 30*time.Second, "Timeout for remote sources")
}

func addChunkFlags(cmd *cobra.Command) {
	def := chunker.DefaultConfig()
	cmd.Flags().IntVar(&chunkMax, "max-chunk", def.MaxChunkSize, "Maximum chunk size in characters")
	cmd.Flags().IntVar(&chunkMin, "min-chunk", def.MinChunkSize, "Minimum chunk size in characters")
	cmd.Flags().IntVar(&chunkOverlap, "overlap", def.OverlapSize, "Characters shared by consecutive chunks")
	cmd.Flags().Float64Var(&chunkTolerance, "tolerance", def.Tolerance, "Fraction of the window searched for a boundary")
	cmd.Flags().StringSliceVar(&chunkBoundaries, "boundaries", nil, "Boundary preference, most preferred first")
}

func addParseFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&grammarFile, "grammar", "", "TOML grammar file (default: built-in grammar)")
}

func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// sourceFor maps a command-line argument to a loader source: "-" is stdin,
// URLs are remote and anything else is a file path.
func sourceFor(arg string, stdin io.Reader) loader.Source {
	switch {
	case arg == "-":
		return loader.StreamSource("", stdin)
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"), strings.HasPrefix(arg, "s3://"):
		return loader.RemoteSource(arg)
	default:
		return loader.FileSource(arg)
	}
}

func loadOptions(ctx context.Context, src loader.Source, log *slog.Logger) (loader.Options, error) {
	opts := loader.Options{
		MaxBytes:         loadMaxBytes,
		Format:           doctree.Format(loadFormat),
		Title:            loadTitle,
		NormalizeUnicode: loadNormalize,
		PDFFallback:      true,
	}
	if src.Kind != doctree.SourceRemote {
		return opts, nil
	}
	opts.Fetcher = loader.NewFetcher(loadTimeout, 0, log)
	if strings.HasPrefix(src.Location, "s3://") {
		client, err := loader.NewS3Client(ctx)
		if err != nil {
			return opts, err
		}
		opts.Fetcher.S3 = client
	}
	return opts, nil
}

// chunkConfig builds the chunk config from flags. Overlap and minimum size
// left at their defaults shrink with a smaller --max-chunk so it works alone.
func chunkConfig(cmd *cobra.Command) chunker.Config {
	cfg := chunker.Config{
		MaxChunkSize: chunkMax,
		MinChunkSize: chunkMin,
		OverlapSize:  chunkOverlap,
		Tolerance:    chunkTolerance,
	}
	if !cmd.Flags().Changed("overlap") {
		cfg.OverlapSize = min(cfg.OverlapSize, cfg.MaxChunkSize/5)
	}
	if !cmd.Flags().Changed("min-chunk") {
		cfg.MinChunkSize = min(cfg.MinChunkSize, cfg.MaxChunkSize/10)
	}
	for _, b := range chunkBoundaries {
		cfg.BoundaryPreference = append(cfg.BoundaryPreference, doctree.BoundaryKind(strings.ToLower(strings.TrimSpace(b))))
	}
	return cfg
}

func parseConfig() (parser.Config, error) {
	if grammarFile == "" {
		return parser.DefaultConfig(), nil
	}
	return parser.LoadGrammarFile(grammarFile)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
