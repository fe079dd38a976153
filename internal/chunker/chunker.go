// Package chunker splits a Document into bounded, overlapping chunks that
// end on the most preferred structural boundary available.
package chunker

import (
	"fmt"
	"iter"
	"slices"

	"github.com/dgallion1/docflow/internal/doctree"
)

// Config controls chunking behavior. Sizes are in characters.
type Config struct {
	MaxChunkSize int `json:"max_chunk_size" toml:"max_chunk_size"`
	// MinChunkSize is the shortest non-final chunk; boundaries closer than
	// this to the chunk start are ignored.
	MinChunkSize int `json:"min_chunk_size" toml:"min_chunk_size"`
	OverlapSize  int `json:"overlap_size" toml:"overlap_size"`
	// BoundaryPreference is tried in order; the first kind with a candidate
	// in the search window wins. Empty means DefaultPreference.
	BoundaryPreference []doctree.BoundaryKind `json:"boundary_preference,omitempty" toml:"boundary_preference"`
	// Tolerance is the fraction of the window, counted back from its end,
	// searched for a boundary before forcing a split. Zero means 0.2.
	Tolerance float64 `json:"tolerance,omitempty" toml:"tolerance"`
}

// DefaultPreference is used when Config.BoundaryPreference is empty.
var DefaultPreference = []doctree.BoundaryKind{
	doctree.BoundaryHeading,
	doctree.BoundaryParagraph,
	doctree.BoundarySentence,
	doctree.BoundaryWord,
}

const defaultTolerance = 0.2

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:       1000,
		MinChunkSize:       100,
		OverlapSize:        200,
		BoundaryPreference: slices.Clone(DefaultPreference),
		Tolerance:          defaultTolerance,
	}
}

// ErrorKind classifies chunker failures.
type ErrorKind string

const InvalidConfig ErrorKind = "invalid_config"

// ChunkError reports a rejected configuration.
type ChunkError struct {
	Kind  ErrorKind
	Field string
	Msg   string
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk config %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) *ChunkError {
	return &ChunkError{Kind: InvalidConfig, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks cfg and returns it with defaults filled in.
func (cfg Config) Validate() (Config, error) {
	if cfg.MaxChunkSize <= 0 {
		return cfg, invalid("max_chunk_size", "must be positive, got %d", cfg.MaxChunkSize)
	}
	if cfg.OverlapSize < 0 {
		return cfg, invalid("overlap_size", "must not be negative, got %d", cfg.OverlapSize)
	}
	if cfg.OverlapSize >= cfg.MaxChunkSize {
		return cfg, invalid("overlap_size", "%d must be smaller than max_chunk_size %d", cfg.OverlapSize, cfg.MaxChunkSize)
	}
	if cfg.MinChunkSize < 0 {
		return cfg, invalid("min_chunk_size", "must not be negative, got %d", cfg.MinChunkSize)
	}
	if cfg.MinChunkSize > cfg.MaxChunkSize {
		return cfg, invalid("min_chunk_size", "%d exceeds max_chunk_size %d", cfg.MinChunkSize, cfg.MaxChunkSize)
	}
	if cfg.Tolerance < 0 || cfg.Tolerance > 1 {
		return cfg, invalid("tolerance", "must be within (0, 1], got %g", cfg.Tolerance)
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = defaultTolerance
	}

	if len(cfg.BoundaryPreference) == 0 {
		cfg.BoundaryPreference = slices.Clone(DefaultPreference)
	}
	seen := make(map[doctree.BoundaryKind]bool, len(cfg.BoundaryPreference))
	for _, k := range cfg.BoundaryPreference {
		if _, ok := matchers[k]; !ok {
			return cfg, invalid("boundary_preference", "unsupported boundary kind %q", k)
		}
		if seen[k] {
			return cfg, invalid("boundary_preference", "duplicate boundary kind %q", k)
		}
		seen[k] = true
	}
	return cfg, nil
}

// Chunks returns a lazy, restartable sequence of chunks. Iterating it twice
// yields identical chunks.
func Chunks(doc doctree.Document, cfg Config) (iter.Seq[doctree.Chunk], error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	return func(yield func(doctree.Chunk) bool) {
		s := newSplitter(doc, cfg)
		for {
			c, ok := s.next()
			if !ok || !yield(c) {
				return
			}
		}
	}, nil
}

// Chunk collects every chunk of doc.
func Chunk(doc doctree.Document, cfg Config) ([]doctree.Chunk, error) {
	seq, err := Chunks(doc, cfg)
	if err != nil {
		return nil, err
	}
	chunks := []doctree.Chunk{}
	for c := range seq {
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// splitter holds the state of one pass over a document.
type splitter struct {
	doc      doctree.Document
	cfg      Config
	runes    []rune
	cursor   int
	prevEnd  int
	index    int
	done     bool
	headings headingTracker
	pages    map[int]bool // page start offsets
}

func newSplitter(doc doctree.Document, cfg Config) *splitter {
	runes := []rune(doc.Text)
	s := &splitter{
		doc:      doc,
		cfg:      cfg,
		runes:    runes,
		done:     len(runes) == 0,
		headings: headingTracker{runes: runes},
	}
	if len(doc.Pages) > 0 {
		s.pages = make(map[int]bool, len(doc.Pages))
		for _, p := range doc.Pages {
			s.pages[p.Start] = true
		}
	}
	return s
}

func (s *splitter) matcher(kind doctree.BoundaryKind) matcher {
	if kind == doctree.BoundaryPage {
		return func(_ []rune, p int) bool { return s.pages[p] }
	}
	return matchers[kind]
}

func (s *splitter) next() (doctree.Chunk, bool) {
	if s.done {
		return doctree.Chunk{}, false
	}
	n := len(s.runes)
	start := s.cursor
	winEnd := min(start+s.cfg.MaxChunkSize, n)

	var (
		end  int
		kind doctree.BoundaryKind
	)
	if winEnd == n {
		end, kind = n, doctree.BoundaryEnd
		s.done = true
	} else {
		end, kind = s.split(start, winEnd)
	}

	overlap := 0
	if s.index > 0 {
		overlap = s.prevEnd - start
	}
	text := string(s.runes[start:end])
	c := doctree.Chunk{
		Index:         s.index,
		Start:         start,
		End:           end,
		Overlap:       overlap,
		Boundary:      kind,
		Text:          text,
		WordCount:     CountWords(text),
		TokenEstimate: EstimateTokens(text),
		Breadcrumb:    s.headings.at(start),
	}
	if len(s.doc.Pages) > 0 {
		c.PageStart = s.doc.PageAt(start)
		c.PageEnd = s.doc.PageAt(end - 1)
	}

	s.index++
	s.prevEnd = end
	s.cursor = end - s.cfg.OverlapSize
	return c, true
}

// split picks the split position for a window that does not reach the end
// of the text. Candidates lie in [lo, winEnd]; lo keeps every chunk longer
// than the overlap so the cursor always advances.
func (s *splitter) split(start, winEnd int) (int, doctree.BoundaryKind) {
	lo := max(
		winEnd-int(float64(s.cfg.MaxChunkSize)*s.cfg.Tolerance),
		start+s.cfg.OverlapSize+1,
		start+s.cfg.MinChunkSize,
	)
	for _, kind := range s.cfg.BoundaryPreference {
		match := s.matcher(kind)
		for p := winEnd; p >= lo; p-- {
			if match(s.runes, p) {
				return p, kind
			}
		}
	}
	return winEnd, doctree.BoundaryForced
}
