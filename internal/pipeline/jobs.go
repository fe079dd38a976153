package pipeline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/parser"
)

// JobStatus represents the state of an asynchronous run.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusLoading   JobStatus = "loading"
	StatusChunking  JobStatus = "chunking"
	StatusParsing   JobStatus = "parsing"
	StatusCompleted JobStatus = JobStatus(doctree.OutcomeCompleted)
	StatusPartial   JobStatus = JobStatus(doctree.OutcomePartial)
	StatusFailed    JobStatus = JobStatus(doctree.OutcomeFailed)
	StatusCancelled JobStatus = JobStatus(doctree.OutcomeCancelled)
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func statusForStage(s doctree.Stage) JobStatus {
	switch s {
	case doctree.StageLoad:
		return StatusLoading
	case doctree.StageChunk:
		return StatusChunking
	default:
		return StatusParsing
	}
}

// Request is everything a run needs.
type Request struct {
	Source loader.Source
	Load   loader.Options
	Chunk  chunker.Config
	Parse  parser.Config
}

// Job tracks the state of a single asynchronous run.
type Job struct {
	mu sync.Mutex

	ID     string    `json:"run_id"`
	Source string    `json:"source"`
	Status JobStatus `json:"status"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	req    Request
	cancel context.CancelFunc
	errors []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks  int      `json:"total_chunks"`
	ChunksParsed int      `json:"chunks_parsed"`
	Errors       []string `json:"errors"`
}

// NewJob creates a queued job for req.
func NewJob(req Request) *Job {
	now := time.Now()
	source := req.Source.Location
	if source == "" {
		source = req.Source.Name
	}
	return &Job{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		req:       req,
	}
}

// SetStatus updates job status atomically. Terminal statuses are final.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// IncrChunksParsed atomically increments chunks parsed.
func (j *Job) IncrChunksParsed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksParsed++
	j.UpdatedAt = time.Now()
}

// SetTotalChunks records total chunk count.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = n
	j.UpdatedAt = time.Now()
}

// start hands the job its cancel func and returns its request. It returns
// false if the job was cancelled while queued.
func (j *Job) start(cancel context.CancelFunc) (Request, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == StatusCancelled {
		return Request{}, false
	}
	j.cancel = cancel
	return j.req, true
}

// finish sets the final status and drops the request so uploaded bytes can
// be collected.
func (j *Job) finish(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.req = Request{}
	j.cancel = nil
	j.UpdatedAt = time.Now()
}

// Cancel stops a running job or prevents a queued one from starting. It
// returns false if the job had already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return false
	}
	if j.cancel != nil {
		j.cancel()
		return true
	}
	j.Status = StatusCancelled
	j.req = Request{}
	j.UpdatedAt = time.Now()
	return true
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"run_id"`
	Source    string    `json:"source"`
	Status    JobStatus `json:"status"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := slices.Clone(j.Progress.Errors)
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:     j.ID,
		Source: j.Source,
		Status: j.Status,
		Progress: Progress{
			TotalChunks:  j.Progress.TotalChunks,
			ChunksParsed: j.Progress.ChunksParsed,
			Errors:       errs,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// List returns snapshots of every job, newest first.
func (s *JobStore) List() []JobSnapshot {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobSnapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	slices.SortFunc(out, func(a, b JobSnapshot) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

// Cleanup removes finished jobs idle for longer than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if job.Snapshot().Status.Terminal() && now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
