package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/metrics"
	"github.com/dgallion1/docflow/internal/parser"
)

// fieldsText is ten 17-character "FieldN: value N" paragraphs.
func fieldsText() string {
	var sb strings.Builder
	for i := range 10 {
		fmt.Fprintf(&sb, "Field%d: value %d\n\n", i, i)
	}
	return sb.String()
}

func fieldsChunkConfig() chunker.Config {
	return chunker.Config{
		MaxChunkSize:       17,
		BoundaryPreference: []doctree.BoundaryKind{doctree.BoundaryParagraph},
	}
}

func stream(text string) loader.Source {
	return loader.StreamSource("fields.txt", strings.NewReader(text))
}

func TestRun_Completes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCoordinator(4, slog.New(slog.DiscardHandler), metrics.New(reg))

	res := c.Run(context.Background(), stream(fieldsText()), loader.Options{}, fieldsChunkConfig(), parser.DefaultConfig())

	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.Cancelled)
	assert.Empty(t, res.Errors)
	assert.Equal(t, doctree.OutcomeCompleted, res.Outcome())
	require.Len(t, res.Chunks, 10)
	require.Len(t, res.Records, 10)
	for i, rec := range res.Records {
		assert.Equal(t, i, rec.ChunkIndex, "records are in chunk order")
		assert.Equal(t, fmt.Sprintf("Field%d", i), rec.Fields["key"])
	}
	assert.Contains(t, res.DurationMs, doctree.StageLoad)
	assert.Contains(t, res.DurationMs, doctree.StageChunk)
	assert.Contains(t, res.DurationMs, doctree.StageParse)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	n, err := testutil.GatherAndCount(reg, "docflow_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_RunIDOption(t *testing.T) {
	res := Run(context.Background(), stream("x"), loader.Options{}, chunker.DefaultConfig(), parser.DefaultConfig(), WithRunID("fixed"))
	assert.Equal(t, "fixed", res.RunID)
}

func TestRun_LoadFailure(t *testing.T) {
	src := loader.FileSource(filepath.Join(t.TempDir(), "missing.md"))
	res := Run(context.Background(), src, loader.Options{}, chunker.DefaultConfig(), parser.DefaultConfig())

	require.Len(t, res.Errors, 1)
	assert.Equal(t, doctree.StageLoad, res.Errors[0].Stage)
	assert.Equal(t, string(loader.NotFound), res.Errors[0].Kind)
	assert.Nil(t, res.Errors[0].ChunkIndex)
	assert.Empty(t, res.Document.ID)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Records)
	assert.Equal(t, doctree.OutcomeFailed, res.Outcome())
}

func TestRun_UnreadableSource(t *testing.T) {
	src := loader.StreamSource("broken.txt", iotest.ErrReader(errors.New("disk on fire")))
	res := Run(context.Background(), src, loader.Options{}, chunker.DefaultConfig(), parser.DefaultConfig())

	require.Len(t, res.Errors, 1)
	assert.Equal(t, string(loader.Unreadable), res.Errors[0].Kind)
	assert.Contains(t, res.Errors[0].Message, "disk on fire")
	assert.Empty(t, res.Document.Text)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Records)
}

func TestRun_ChunkFailure(t *testing.T) {
	res := Run(context.Background(), stream("hello"), loader.Options{}, chunker.Config{MaxChunkSize: 0}, parser.DefaultConfig())

	require.Len(t, res.Errors, 1)
	assert.Equal(t, doctree.StageChunk, res.Errors[0].Stage)
	assert.Equal(t, string(chunker.InvalidConfig), res.Errors[0].Kind)
	assert.Equal(t, "hello", res.Document.Text)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Records)
}

func TestRun_GrammarFailureFailsEveryChunk(t *testing.T) {
	res := Run(context.Background(), stream(fieldsText()), loader.Options{}, fieldsChunkConfig(), parser.Config{})

	require.Len(t, res.Chunks, 10)
	errs := res.ErrorsFor(doctree.StageParse)
	require.Len(t, errs, 10)
	for i, e := range errs {
		require.NotNil(t, e.ChunkIndex)
		assert.Equal(t, i, *e.ChunkIndex)
		assert.Equal(t, string(parser.Fatal), e.Kind)
	}
	assert.Empty(t, res.Records)
}

func TestRun_GrammarFailureOnEmptyDocument(t *testing.T) {
	res := Run(context.Background(), stream(""), loader.Options{}, fieldsChunkConfig(), parser.Config{})

	assert.Empty(t, res.Chunks)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, doctree.StageParse, res.Errors[0].Stage)
	assert.Equal(t, string(parser.Fatal), res.Errors[0].Kind)
	assert.Nil(t, res.Errors[0].ChunkIndex)
	assert.Equal(t, doctree.OutcomeFailed, res.Outcome())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, stream(fieldsText()), loader.Options{}, fieldsChunkConfig(), parser.DefaultConfig())
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Errors, "cancellation is not an error")
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Records)
}

func TestRun_CancelDuringParse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := Run(ctx, stream(fieldsText()), loader.Options{}, fieldsChunkConfig(), parser.DefaultConfig(),
		WithWorkers(1),
		OnChunkParsed(func(i int) {
			if i == 2 {
				cancel()
			}
		}),
	)

	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Chunks, 10, "chunking finished before cancellation")
	require.Len(t, res.Records, 3)
	for i, rec := range res.Records {
		assert.Equal(t, i, rec.ChunkIndex)
	}
	assert.Equal(t, doctree.OutcomeCancelled, res.Outcome())
}

func TestRun_ConcurrencyDoesNotChangeResult(t *testing.T) {
	var sb strings.Builder
	for i := range 40 {
		fmt.Fprintf(&sb, "# Section %d\n\nKey%d: value\n- item a\n- item b\n  continued\n\nSome prose line %d.\n\n", i, i, i)
	}
	text := sb.String()
	ccfg := chunker.Config{MaxChunkSize: 120, MinChunkSize: 20, OverlapSize: 10}

	seq := Run(context.Background(), stream(text), loader.Options{}, ccfg, parser.DefaultConfig(), WithWorkers(1), WithRunID("r"))
	par := Run(context.Background(), stream(text), loader.Options{}, ccfg, parser.DefaultConfig(), WithWorkers(8), WithRunID("r"))

	require.Empty(t, seq.Errors)
	assert.Equal(t, seq.Chunks, par.Chunks)
	assert.Equal(t, seq.Records, par.Records)
}

func TestRun_Hooks(t *testing.T) {
	var (
		mu     sync.Mutex
		stages []doctree.Stage
		parsed []int
		total  int
	)
	Run(context.Background(), stream(fieldsText()), loader.Options{}, fieldsChunkConfig(), parser.DefaultConfig(),
		OnStage(func(s doctree.Stage) { stages = append(stages, s) }),
		OnChunkCount(func(n int) { total = n }),
		OnChunkParsed(func(i int) {
			mu.Lock()
			parsed = append(parsed, i)
			mu.Unlock()
		}),
	)
	assert.Equal(t, []doctree.Stage{doctree.StageLoad, doctree.StageChunk, doctree.StageParse}, stages)
	assert.Equal(t, 10, total)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, parsed)
}

func TestParseChunk_RecoversPanic(t *testing.T) {
	r := &run{c: &Coordinator{}, log: slog.New(slog.DiscardHandler)}
	doc := doctree.Document{Text: "abc"}
	ch := doctree.Chunk{Index: 4, Start: 0, End: 3, Text: "abc"}

	// A nil grammar panics once scanning starts.
	out := r.parseChunk(nil, ch, doc)
	require.True(t, out.ran)
	require.NotNil(t, out.err)
	assert.Equal(t, doctree.StageParse, out.err.Stage)
	assert.Equal(t, 4, *out.err.ChunkIndex)
	assert.Contains(t, out.err.Message, "panic")
	assert.Nil(t, out.records)
}

func TestParseChunks_IsolatesFailures(t *testing.T) {
	text := "Name: Alice\n\nAge: 30"
	doc := doctree.Document{Text: text, LineStarts: doctree.BuildLineStarts(text)}
	chunks := []doctree.Chunk{
		{Index: 0, Start: 0, End: 11, Text: "Name: Alice"},
		{Index: 1, Start: 5, End: 99, Text: "out of range"},
		{Index: 2, Start: 13, End: 20, Text: "Age: 30"},
	}
	g, err := parser.Compile(parser.DefaultConfig())
	require.NoError(t, err)

	records, errs := ParseChunks(context.Background(), g, doc, chunks)
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].ChunkIndex)
	assert.Equal(t, 2, records[1].ChunkIndex)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, *errs[0].ChunkIndex)
	assert.Equal(t, string(parser.Fatal), errs[0].Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	records, errs = ParseChunks(ctx, g, doc, chunks)
	assert.Empty(t, records)
	assert.Empty(t, errs)
}
