// Package runstore keeps finished pipeline results so they can be fetched
// after an asynchronous run completes.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/dgallion1/docflow/internal/doctree"
)

// ErrNotFound is returned by Get and Delete for an unknown run.
var ErrNotFound = errors.New("run not found")

// Store persists pipeline results by run ID.
type Store interface {
	Put(ctx context.Context, res doctree.PipelineResult) error
	Get(ctx context.Context, runID string) (doctree.PipelineResult, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, runID string) error
}

// Summary is the listing view of a stored result.
type Summary struct {
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Source     string    `json:"source,omitempty"`
	Outcome    string    `json:"outcome"`
	Chunks     int       `json:"chunks"`
	Records    int       `json:"records"`
	Errors     int       `json:"errors"`
	FinishedAt time.Time `json:"finished_at"`
}

// Summarize builds the listing view of res.
func Summarize(res doctree.PipelineResult) Summary {
	return Summary{
		RunID:      res.RunID,
		DocumentID: res.Document.ID,
		Title:      res.Document.Title,
		Source:     res.Document.Source,
		Outcome:    res.Outcome(),
		Chunks:     len(res.Chunks),
		Records:    len(res.Records),
		Errors:     len(res.Errors),
		FinishedAt: res.FinishedAt,
	}
}

// newestFirst orders summaries by finish time, most recent first.
func newestFirst(a, b Summary) int {
	return b.FinishedAt.Compare(a.FinishedAt)
}
