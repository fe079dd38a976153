package chunker

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/dgallion1/docflow/internal/doctree"
)

func docOf(text string) doctree.Document {
	return doctree.Document{Text: text, LineStarts: doctree.BuildLineStarts(text)}
}

func mustChunk(t *testing.T, text string, cfg Config) []doctree.Chunk {
	t.Helper()
	chunks, err := Chunk(docOf(text), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return chunks
}

// checkTiling asserts the chunks cover text with exactly the configured
// overlap and no gaps.
func checkTiling(t *testing.T, text string, cfg Config, chunks []doctree.Chunk) {
	t.Helper()
	runes := []rune(text)
	if len(runes) == 0 {
		if len(chunks) != 0 {
			t.Fatalf("expected no chunks for empty text, got %d", len(chunks))
		}
		return
	}
	if chunks[0].Start != 0 || chunks[0].Overlap != 0 {
		t.Errorf("first chunk must start at 0 with no overlap, got start=%d overlap=%d", chunks[0].Start, chunks[0].Overlap)
	}
	if last := chunks[len(chunks)-1]; last.End != len(runes) || last.Boundary != doctree.BoundaryEnd {
		t.Errorf("last chunk must end at %d with boundary end, got %d %s", len(runes), last.End, last.Boundary)
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d: expected index %d, got %d", i, i, c.Index)
		}
		if c.Len() > cfg.MaxChunkSize || c.Len() <= 0 {
			t.Errorf("chunk %d: length %d outside (0, %d]", i, c.Len(), cfg.MaxChunkSize)
		}
		if c.Text != string(runes[c.Start:c.End]) {
			t.Errorf("chunk %d: text does not match offsets", i)
		}
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if c.Overlap != cfg.OverlapSize {
			t.Errorf("chunk %d: expected overlap %d, got %d", i, cfg.OverlapSize, c.Overlap)
		}
		if c.Start != prev.End-c.Overlap {
			t.Errorf("chunk %d: start %d does not continue previous end %d with overlap %d", i, c.Start, prev.End, c.Overlap)
		}
	}
}

func TestChunk_SentenceFixture(t *testing.T) {
	text := "Para one. Para two. Para three."
	cfg := Config{
		MaxChunkSize:       12,
		OverlapSize:        2,
		BoundaryPreference: []doctree.BoundaryKind{doctree.BoundarySentence},
	}
	chunks := mustChunk(t, text, cfg)

	wantText := []string{"Para one. ", ". Para two. ", ". Para three", "ee."}
	wantKind := []doctree.BoundaryKind{
		doctree.BoundarySentence,
		doctree.BoundarySentence,
		doctree.BoundaryForced,
		doctree.BoundaryEnd,
	}
	wantStart := []int{0, 8, 18, 28}

	if len(chunks) != len(wantText) {
		t.Fatalf("expected %d chunks, got %d", len(wantText), len(chunks))
	}
	for i, c := range chunks {
		if c.Text != wantText[i] {
			t.Errorf("chunk %d: expected text %q, got %q", i, wantText[i], c.Text)
		}
		if c.Boundary != wantKind[i] {
			t.Errorf("chunk %d: expected boundary %s, got %s", i, wantKind[i], c.Boundary)
		}
		if c.Start != wantStart[i] {
			t.Errorf("chunk %d: expected start %d, got %d", i, wantStart[i], c.Start)
		}
	}
	checkTiling(t, text, cfg, chunks)
}

func TestChunk_EmptyDocument(t *testing.T) {
	chunks := mustChunk(t, "", DefaultConfig())
	if len(chunks) != 0 {
		t.Fatalf("expected 0 chunks, got %d", len(chunks))
	}
}

func TestChunk_SmallDocumentFitsOneChunk(t *testing.T) {
	text := "A short note."
	chunks := mustChunk(t, text, DefaultConfig())
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Start != 0 || c.End != len(text) || c.Overlap != 0 {
		t.Errorf("expected [0,%d) with no overlap, got [%d,%d) overlap %d", len(text), c.Start, c.End, c.Overlap)
	}
	if c.WordCount != 11 {
		t.Errorf("expected 11 non-space chars, got %d", c.WordCount)
	}
}

func TestChunk_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero max", Config{MaxChunkSize: 0}},
		{"negative max", Config{MaxChunkSize: -5}},
		{"overlap equals max", Config{MaxChunkSize: 10, OverlapSize: 10}},
		{"overlap exceeds max", Config{MaxChunkSize: 10, OverlapSize: 50}},
		{"negative overlap", Config{MaxChunkSize: 10, OverlapSize: -1}},
		{"negative min", Config{MaxChunkSize: 10, MinChunkSize: -1}},
		{"min exceeds max", Config{MaxChunkSize: 10, MinChunkSize: 11}},
		{"tolerance above one", Config{MaxChunkSize: 10, Tolerance: 1.5}},
		{"unknown boundary", Config{MaxChunkSize: 10, BoundaryPreference: []doctree.BoundaryKind{"clause"}}},
		{"forced is not a preference", Config{MaxChunkSize: 10, BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryForced}}},
		{"duplicate boundary", Config{MaxChunkSize: 10, BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryWord, doctree.BoundaryWord}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunks(docOf("anything"), tt.cfg)
			var ce *ChunkError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ChunkError, got %v", err)
			}
			if ce.Kind != InvalidConfig {
				t.Errorf("expected invalid_config, got %s", ce.Kind)
			}
		})
	}
}

func TestChunk_InvalidConfigOnEmptyDocument(t *testing.T) {
	if _, err := Chunk(docOf(""), Config{MaxChunkSize: 5, OverlapSize: 5}); err == nil {
		t.Fatal("expected config error even for an empty document")
	}
}

func TestChunk_PrefersParagraphThenSentence(t *testing.T) {
	text := "aaaa bbbb.\n\ncccc dddd. eeee ffff."
	cfg := Config{
		MaxChunkSize: 16,
		BoundaryPreference: []doctree.BoundaryKind{
			doctree.BoundaryParagraph, doctree.BoundarySentence, doctree.BoundaryWord,
		},
		Tolerance: 0.5,
	}
	chunks := mustChunk(t, text, cfg)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []struct {
		text string
		kind doctree.BoundaryKind
	}{
		{"aaaa bbbb.\n\n", doctree.BoundaryParagraph},
		{"cccc dddd. ", doctree.BoundarySentence},
		{"eeee ffff.", doctree.BoundaryEnd},
	}
	for i, w := range want {
		if chunks[i].Text != w.text || chunks[i].Boundary != w.kind {
			t.Errorf("chunk %d: expected %q/%s, got %q/%s", i, w.text, w.kind, chunks[i].Text, chunks[i].Boundary)
		}
	}
	checkTiling(t, text, cfg, chunks)
}

func TestChunk_ForcedWhenNoBoundary(t *testing.T) {
	text := "abcdefghij"
	cfg := Config{MaxChunkSize: 4, OverlapSize: 1, BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryWord}}
	chunks := mustChunk(t, text, cfg)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Boundary != doctree.BoundaryForced || chunks[1].Boundary != doctree.BoundaryForced {
		t.Errorf("expected forced splits, got %s, %s", chunks[0].Boundary, chunks[1].Boundary)
	}
	checkTiling(t, text, cfg, chunks)
}

func TestChunk_CJKSentences(t *testing.T) {
	text := "你好。世界！再见。"
	cfg := Config{MaxChunkSize: 4, BoundaryPreference: []doctree.BoundaryKind{doctree.BoundarySentence}, Tolerance: 0.5}
	chunks := mustChunk(t, text, cfg)
	want := []string{"你好。", "世界！", "再见。"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, chunks[i].Text)
		}
	}
	if chunks[1].Start != 3 || chunks[1].End != 6 {
		t.Errorf("offsets must count characters, got [%d,%d)", chunks[1].Start, chunks[1].End)
	}
	checkTiling(t, text, cfg, chunks)
}

func TestChunk_MinChunkSizeIgnoresEarlyBoundaries(t *testing.T) {
	text := "ab cdefghijklmnop"
	base := Config{MaxChunkSize: 10, BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryWord}, Tolerance: 1}

	chunks := mustChunk(t, text, base)
	if chunks[0].End != 3 || chunks[0].Boundary != doctree.BoundaryWord {
		t.Errorf("without a minimum expected a word split at 3, got %d %s", chunks[0].End, chunks[0].Boundary)
	}

	withMin := base
	withMin.MinChunkSize = 5
	chunks = mustChunk(t, text, withMin)
	if chunks[0].End != 10 || chunks[0].Boundary != doctree.BoundaryForced {
		t.Errorf("with a minimum expected a forced split at 10, got %d %s", chunks[0].End, chunks[0].Boundary)
	}
}

func TestChunk_Breadcrumbs(t *testing.T) {
	text := "# A\n\nintro text here\n\n## B\n\nbody of b here"
	cfg := Config{
		MaxChunkSize:       24,
		BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryHeading, doctree.BoundaryParagraph},
	}
	chunks := mustChunk(t, text, cfg)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Boundary != doctree.BoundaryHeading || chunks[0].End != 22 {
		t.Errorf("expected heading split at 22, got %s at %d", chunks[0].Boundary, chunks[0].End)
	}
	if !slices.Equal(chunks[0].Breadcrumb, []string{"A"}) {
		t.Errorf("unexpected breadcrumb %v", chunks[0].Breadcrumb)
	}
	if !slices.Equal(chunks[1].Breadcrumb, []string{"A", "B"}) {
		t.Errorf("unexpected breadcrumb %v", chunks[1].Breadcrumb)
	}
}

func TestChunks_RestartableAndLazy(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	cfg := Config{MaxChunkSize: 120, OverlapSize: 15}
	seq, err := Chunks(docOf(text), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var first, second []doctree.Chunk
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("expected identical non-empty runs, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Start != second[i].Start || first[i].End != second[i].End || first[i].Boundary != second[i].Boundary {
			t.Fatalf("chunk %d differs between iterations", i)
		}
	}

	taken := 0
	for range seq {
		taken++
		if taken == 2 {
			break
		}
	}
	if taken != 2 {
		t.Errorf("expected early break after 2 chunks, got %d", taken)
	}
}

func TestChunk_TilingProperty(t *testing.T) {
	paragraph := "Lorem ipsum dolor sit amet. Consectetur adipiscing elit! Sed do eiusmod?\n\n"
	texts := []string{
		strings.Repeat(paragraph, 12),
		"# Title\n\n" + strings.Repeat("word ", 300),
		strings.Repeat("x", 503),
		strings.Repeat("日本語の文章です。", 40),
		"one\ntwo\nthree",
	}
	configs := []Config{
		{MaxChunkSize: 50, OverlapSize: 10},
		{MaxChunkSize: 97, OverlapSize: 0, MinChunkSize: 20},
		{MaxChunkSize: 7, OverlapSize: 6},
		{MaxChunkSize: 200, OverlapSize: 40, BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryCharacter}},
		{MaxChunkSize: 64, OverlapSize: 8, Tolerance: 1},
	}
	for _, text := range texts {
		for _, cfg := range configs {
			chunks := mustChunk(t, text, cfg)
			checkTiling(t, text, cfg, chunks)
		}
	}
}

func TestChunk_PageSpans(t *testing.T) {
	text := "page one text\n\npage two text"
	doc := docOf(text)
	doc.Pages = []doctree.PageSpan{{Page: 1, Start: 0, End: 13}, {Page: 2, Start: 15, End: 28}}

	chunks, err := Chunk(doc, Config{MaxChunkSize: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks[0].PageStart != 1 || chunks[0].PageEnd != 2 {
		t.Errorf("expected pages 1-2, got %d-%d", chunks[0].PageStart, chunks[0].PageEnd)
	}
}

func TestChunk_PageBoundary(t *testing.T) {
	pages := []string{"Page one ends here. Still one.", "Page two. More two.", "Page three."}
	text := strings.Join(pages, "\n\n")
	doc := docOf(text)
	start := 0
	for i, p := range pages {
		doc.Pages = append(doc.Pages, doctree.PageSpan{Page: i + 1, Start: start, End: start + len(p)})
		start += len(p) + 2
	}

	cfg := Config{MaxChunkSize: 40, Tolerance: 1, BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryPage}}
	chunks, err := Chunk(doc, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Boundary != doctree.BoundaryPage || chunks[0].End != doc.Pages[1].Start {
		t.Errorf("expected page split at %d, got %s at %d", doc.Pages[1].Start, chunks[0].Boundary, chunks[0].End)
	}
	if chunks[1].Start != doc.Pages[1].Start || chunks[1].PageStart != 2 {
		t.Errorf("expected second chunk to start page 2, got start %d page %d", chunks[1].Start, chunks[1].PageStart)
	}

	// Without page spans the page kind never matches.
	chunks = mustChunk(t, text, cfg)
	if chunks[0].Boundary != doctree.BoundaryForced {
		t.Errorf("expected forced split without pages, got %s", chunks[0].Boundary)
	}
}

func TestEstimateTokensAndCountWords(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("expected 0 tokens for empty text")
	}
	if got := EstimateTokens("one two three"); got != 3 {
		t.Errorf("expected 3 tokens, got %d", got)
	}
	if got := CountWords("你好 world\n"); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}
