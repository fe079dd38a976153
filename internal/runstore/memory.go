package runstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dgallion1/docflow/internal/doctree"
)

// Memory is a thread-safe in-process Store with TTL eviction.
type Memory struct {
	mu   sync.Mutex
	runs map[string]memEntry
	ttl  time.Duration
	now  func() time.Time
}

type memEntry struct {
	res    doctree.PipelineResult
	stored time.Time
}

// NewMemory returns a Memory store. Results older than ttl are removed by
// Cleanup; ttl <= 0 keeps them forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		runs: make(map[string]memEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (m *Memory) Put(ctx context.Context, res doctree.PipelineResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[res.RunID] = memEntry{res: res, stored: m.now()}
	return nil
}

func (m *Memory) Get(ctx context.Context, runID string) (doctree.PipelineResult, error) {
	if err := ctx.Err(); err != nil {
		return doctree.PipelineResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runs[runID]
	if !ok || m.expired(e) {
		return doctree.PipelineResult{}, ErrNotFound
	}
	return e.res, nil
}

func (m *Memory) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]Summary, 0, len(m.runs))
	for _, e := range m.runs {
		if !m.expired(e) {
			out = append(out, Summarize(e.res))
		}
	}
	m.mu.Unlock()
	slices.SortFunc(out, newestFirst)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	delete(m.runs, runID)
	return nil
}

// Cleanup removes expired results and returns how many were dropped.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.runs {
		if m.expired(e) {
			delete(m.runs, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored results, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *Memory) expired(e memEntry) bool {
	return m.ttl > 0 && m.now().Sub(e.stored) > m.ttl
}
