package doctree

import (
	"fmt"
	"time"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageLoad  Stage = "load"
	StageChunk Stage = "chunk"
	StageParse Stage = "parse"
)

// StageError is the serializable form of a stage failure. ChunkIndex is set
// only for parse errors scoped to a single chunk.
type StageError struct {
	Stage      Stage  `json:"stage"`
	Kind       string `json:"kind"`
	ChunkIndex *int   `json:"chunk_index,omitempty"`
	Message    string `json:"message"`
}

func (e StageError) Error() string {
	if e.ChunkIndex != nil {
		return fmt.Sprintf("%s (%s) chunk %d: %s", e.Stage, e.Kind, *e.ChunkIndex, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Stage, e.Kind, e.Message)
}

// PipelineResult is everything one run produced. It is always returned,
// even when a stage failed or the run was cancelled.
type PipelineResult struct {
	RunID      string          `json:"run_id"`
	Document   Document        `json:"document"`
	Chunks     []Chunk         `json:"chunks"`
	Records    []Record        `json:"records"`
	Errors     []StageError    `json:"errors"`
	Cancelled  bool            `json:"cancelled"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMs map[Stage]int64 `json:"duration_ms,omitempty"`
}

// ErrorsFor returns the errors recorded for a stage.
func (r PipelineResult) ErrorsFor(stage Stage) []StageError {
	var out []StageError
	for _, e := range r.Errors {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// Outcome values summarize how a run ended.
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Outcome classifies the result. A run whose only errors are parse errors
// on some of its chunks is partial.
func (r PipelineResult) Outcome() string {
	switch {
	case r.Cancelled:
		return OutcomeCancelled
	case len(r.Errors) == 0:
		return OutcomeCompleted
	}
	parseErrs := r.ErrorsFor(StageParse)
	if len(parseErrs) == len(r.Errors) && len(parseErrs) < len(r.Chunks) {
		return OutcomePartial
	}
	return OutcomeFailed
}
