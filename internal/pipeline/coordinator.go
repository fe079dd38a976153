// Package pipeline runs Load, Chunk and Parse over a source and collects
// everything into a doctree.PipelineResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/metrics"
	"github.com/dgallion1/docflow/internal/parser"
)

// Coordinator runs pipelines. The zero value is usable: it logs nowhere,
// records no metrics and parses with GOMAXPROCS workers.
type Coordinator struct {
	Workers int
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

func NewCoordinator(workers int, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{Workers: workers, Log: log, Metrics: m}
}

// Option customizes a single run.
type Option func(*runOptions)

type runOptions struct {
	runID   string
	workers int
	onStage func(doctree.Stage)
	onChunk func(index int)
	onCount func(total int)
}

// WithRunID sets the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(o *runOptions) { o.runID = id }
}

// WithWorkers overrides the coordinator's parse concurrency for one run.
func WithWorkers(n int) Option {
	return func(o *runOptions) { o.workers = n }
}

// OnStage is called as each stage starts.
func OnStage(fn func(doctree.Stage)) Option {
	return func(o *runOptions) { o.onStage = fn }
}

// OnChunkCount is called once chunking has produced total chunks.
func OnChunkCount(fn func(total int)) Option {
	return func(o *runOptions) { o.onCount = fn }
}

// OnChunkParsed is called after each chunk's parse finishes, from the
// goroutine that parsed it.
func OnChunkParsed(fn func(index int)) Option {
	return func(o *runOptions) { o.onChunk = fn }
}

// Run executes a pipeline with a zero-value Coordinator.
func Run(ctx context.Context, src loader.Source, lopts loader.Options, ccfg chunker.Config, pcfg parser.Config, opts ...Option) doctree.PipelineResult {
	var c Coordinator
	return c.Run(ctx, src, lopts, ccfg, pcfg, opts...)
}

// Run loads src, chunks the document and parses every chunk. It never
// returns an error: stage failures are recorded in the result and a
// cancelled ctx yields whatever was finished with Cancelled set.
func (c *Coordinator) Run(ctx context.Context, src loader.Source, lopts loader.Options, ccfg chunker.Config, pcfg parser.Config, opts ...Option) doctree.PipelineResult {
	ro := runOptions{workers: c.Workers}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.NewString()
	}
	if ro.workers <= 0 {
		ro.workers = runtime.GOMAXPROCS(0)
	}

	r := &run{
		c:    c,
		opts: ro,
		log:  c.logger().With("run_id", ro.runID),
		res: doctree.PipelineResult{
			RunID:      ro.runID,
			Chunks:     []doctree.Chunk{},
			Records:    []doctree.Record{},
			Errors:     []doctree.StageError{},
			StartedAt:  time.Now().UTC(),
			DurationMs: make(map[doctree.Stage]int64),
		},
	}
	r.execute(ctx, src, lopts, ccfg, pcfg)

	r.res.FinishedAt = time.Now().UTC()
	outcome := r.res.Outcome()
	c.Metrics.RunFinished(outcome)
	r.log.Info("run finished",
		"outcome", outcome,
		"chunks", len(r.res.Chunks),
		"records", len(r.res.Records),
		"errors", len(r.res.Errors),
		"elapsed", r.res.FinishedAt.Sub(r.res.StartedAt),
	)
	return r.res
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.New(slog.DiscardHandler)
}

// run is the state of one Coordinator.Run call.
type run struct {
	c    *Coordinator
	opts runOptions
	log  *slog.Logger
	res  doctree.PipelineResult
}

func (r *run) execute(ctx context.Context, src loader.Source, lopts loader.Options, ccfg chunker.Config, pcfg parser.Config) {
	// Load
	if r.cancelled(ctx) {
		return
	}
	done := r.begin(doctree.StageLoad)
	doc, err := loader.Load(ctx, src, lopts)
	done()
	if err != nil {
		if r.cancelled(ctx) {
			return
		}
		r.fail(loadStageError(err))
		return
	}
	r.res.Document = doc
	r.c.Metrics.Document(doc)
	r.log.Info("loaded document", "doc_id", doc.ID, "format", doc.Format, "chars", doc.Len())

	// Chunk
	if r.cancelled(ctx) {
		return
	}
	done = r.begin(doctree.StageChunk)
	chunks, err := chunker.Chunk(doc, ccfg)
	done()
	if err != nil {
		r.fail(chunkStageError(err))
		return
	}
	r.res.Chunks = chunks
	r.c.Metrics.Chunks(len(chunks))
	if r.opts.onCount != nil {
		r.opts.onCount(len(chunks))
	}
	r.log.Info("chunked document", "chunks", len(chunks))

	// Parse
	if r.cancelled(ctx) {
		return
	}
	done = r.begin(doctree.StageParse)
	r.parse(ctx, doc, chunks, pcfg)
	done()
}

// begin marks the start of a stage and returns a func that records its
// duration.
func (r *run) begin(stage doctree.Stage) func() {
	if r.opts.onStage != nil {
		r.opts.onStage(stage)
	}
	start := time.Now()
	return func() {
		d := time.Since(start)
		r.res.DurationMs[stage] = d.Milliseconds()
		r.c.Metrics.ObserveStage(stage, d)
	}
}

func (r *run) cancelled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	if !r.res.Cancelled {
		r.log.Warn("run cancelled", "error", ctx.Err())
	}
	r.res.Cancelled = true
	return true
}

func (r *run) fail(e doctree.StageError) {
	r.log.Error("stage failed", "stage", e.Stage, "kind", e.Kind, "error", e.Message)
	r.c.Metrics.StageError(e)
	r.res.Errors = append(r.res.Errors, e)
}

// chunkOutcome is what one parse task leaves in its slot.
type chunkOutcome struct {
	ran     bool
	records []doctree.Record
	err     *doctree.StageError
}

func (r *run) parse(ctx context.Context, doc doctree.Document, chunks []doctree.Chunk, pcfg parser.Config) {
	g, err := parser.Compile(pcfg)
	if err != nil {
		// Every chunk fails the same way. With no chunks the error is
		// reported once without a chunk index.
		for _, ch := range chunks {
			r.fail(parseStageError(ch.Index, err))
		}
		if len(chunks) == 0 {
			e := parseStageError(0, err)
			e.ChunkIndex = nil
			r.fail(e)
		}
		return
	}

	slots := make([]chunkOutcome, len(chunks))
	var eg errgroup.Group
	eg.SetLimit(r.opts.workers)
	for i, ch := range chunks {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slots[i] = r.parseChunk(g, ch, doc)
			if r.opts.onChunk != nil {
				r.opts.onChunk(ch.Index)
			}
			return nil
		})
	}
	eg.Wait()

	for _, s := range slots {
		if !s.ran {
			continue
		}
		if s.err != nil {
			r.fail(*s.err)
			continue
		}
		r.res.Records = append(r.res.Records, s.records...)
		r.c.Metrics.Records(s.records)
	}
	r.cancelled(ctx)
}

// parseChunk parses one chunk for a slot of the fan-out.
func (r *run) parseChunk(g *parser.Grammar, ch doctree.Chunk, doc doctree.Document) chunkOutcome {
	recs, se := parseOne(g, ch, doc)
	return chunkOutcome{ran: true, records: recs, err: se}
}

// ParseChunks parses chunks in order with a compiled grammar. A chunk that
// fails adds one StageError and no records; the rest still parse. It stops
// early when ctx is done.
func ParseChunks(ctx context.Context, g *parser.Grammar, doc doctree.Document, chunks []doctree.Chunk) ([]doctree.Record, []doctree.StageError) {
	records := []doctree.Record{}
	errs := []doctree.StageError{}
	for _, ch := range chunks {
		if ctx.Err() != nil {
			break
		}
		recs, se := parseOne(g, ch, doc)
		if se != nil {
			errs = append(errs, *se)
			continue
		}
		records = append(records, recs...)
	}
	return records, errs
}

// parseOne parses a single chunk. A panic becomes a fatal error for that
// chunk only.
func parseOne(g *parser.Grammar, ch doctree.Chunk, doc doctree.Document) (recs []doctree.Record, se *doctree.StageError) {
	defer func() {
		if p := recover(); p != nil {
			e := parseStageError(ch.Index, fmt.Errorf("panic: %v", p))
			recs, se = nil, &e
		}
	}()
	recs, err := g.Parse(ch, doc)
	if err != nil {
		e := parseStageError(ch.Index, err)
		return nil, &e
	}
	return recs, nil
}

func loadStageError(err error) doctree.StageError {
	kind := loader.KindOf(err)
	if kind == "" {
		kind = loader.Unreadable
	}
	return doctree.StageError{Stage: doctree.StageLoad, Kind: string(kind), Message: err.Error()}
}

func chunkStageError(err error) doctree.StageError {
	kind := string(chunker.InvalidConfig)
	var ce *chunker.ChunkError
	if errors.As(err, &ce) {
		kind = string(ce.Kind)
	}
	return doctree.StageError{Stage: doctree.StageChunk, Kind: kind, Message: err.Error()}
}

func parseStageError(index int, err error) doctree.StageError {
	kind := string(parser.Fatal)
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		kind = string(pe.Kind)
	}
	return doctree.StageError{Stage: doctree.StageParse, Kind: kind, ChunkIndex: &index, Message: err.Error()}
}
