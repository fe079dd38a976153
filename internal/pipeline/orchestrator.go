package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docflow/internal/config"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/runstore"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("run queue is full")

// Orchestrator runs submitted jobs on a fixed pool of workers and saves
// each result to a run store.
type Orchestrator struct {
	jobs  *JobStore
	queue chan *Job
	coord *Coordinator
	store runstore.Store
	log   *slog.Logger
	cfg   config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, coord *Coordinator, store runstore.Store, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:  NewJobStore(cfg.ResultTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		coord: coord,
		store: store,
		log:   log,
		cfg:   cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.coord.Metrics.SetQueueDepth(len(o.queue))
					o.process(workerCtx, job)
				}
			}
		}()
	}

	// Start job and result cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.cleanup()
			}
		}
	}()
}

// Stop cancels running jobs and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.coord.Metrics.SetQueueDepth(len(o.queue))
		return nil
	default:
		job.AddError("queue_full")
		job.finish(StatusFailed)
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// process runs one job to completion and stores its result.
func (o *Orchestrator) process(ctx context.Context, job *Job) {
	log := o.log.With("run_id", job.ID, "source", job.Source)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, ok := job.start(cancel)
	if !ok {
		log.Info("run cancelled before start")
		return
	}

	res := o.coord.Run(runCtx, req.Source, req.Load, req.Chunk, req.Parse,
		WithRunID(job.ID),
		OnStage(func(s doctree.Stage) { job.SetStatus(statusForStage(s)) }),
		OnChunkCount(job.SetTotalChunks),
		OnChunkParsed(func(int) { job.IncrChunksParsed() }),
	)
	for _, e := range res.Errors {
		job.AddError(e.Error())
	}

	// Save even when ctx is done so a cancelled run still has a result.
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer saveCancel()
	if err := o.store.Put(saveCtx, res); err != nil {
		log.Error("store result failed", "error", err)
		job.AddError(fmt.Sprintf("store: %s", err))
	}

	job.finish(JobStatus(res.Outcome()))
	log.Info("run complete", "status", res.Outcome())
}

func (o *Orchestrator) cleanup() {
	o.jobs.Cleanup()
	if c, ok := o.store.(interface{ Cleanup() int }); ok {
		if n := c.Cleanup(); n > 0 {
			o.log.Debug("expired results removed", "count", n)
		}
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// ListJobs returns snapshots of every tracked job.
func (o *Orchestrator) ListJobs() []JobSnapshot {
	return o.jobs.List()
}

// Cancel stops the job with id. It returns false if the job is unknown or
// already finished.
func (o *Orchestrator) Cancel(id string) bool {
	job := o.jobs.Get(id)
	if job == nil {
		return false
	}
	return job.Cancel()
}

// Forget drops a job from the registry.
func (o *Orchestrator) Forget(id string) {
	o.jobs.Delete(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Coordinator returns the coordinator jobs run on.
func (o *Orchestrator) Coordinator() *Coordinator {
	return o.coord
}

// Store returns the result store for direct use by API handlers.
func (o *Orchestrator) Store() runstore.Store {
	return o.store
}
