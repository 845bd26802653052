package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
	"github.com/redV3ls/skill-gap-analysis-sub001/logger"
)

// Executor runs a single job attempt under the configured timeout,
// recovering handler panics and persisting progress updates as they arrive.
type Executor struct {
	registry *HandlerRegistry
	store    *Store
	timeout  time.Duration
}

// NewExecutor creates an executor with the given default job timeout
func NewExecutor(registry *HandlerRegistry, store *Store, timeout time.Duration) *Executor {
	return &Executor{registry: registry, store: store, timeout: timeout}
}

type execResult struct {
	result json.RawMessage
	err    error
}

// Execute runs one attempt of job and returns its result. The attempt is
// bounded by the executor timeout; the handler goroutine is signalled via
// context cancellation on timeout but cannot be forcibly killed, so
// handlers must check ctx to avoid leaking work past the deadline.
func (e *Executor) Execute(ctx context.Context, job *Job) (json.RawMessage, error) {
	handler, err := e.registry.Get(job.Type)
	if err != nil {
		return nil, errors.Wrapf(err, "no handler for job type %q", job.Type)
	}

	timeout := e.timeout
	if job.EstimatedDurationMs > 0 {
		if est := time.Duration(job.EstimatedDurationMs) * time.Millisecond * 2; est > timeout {
			timeout = est
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress := make(chan int, 16)
	progressDone := make(chan struct{})
	go e.trackProgress(job.ID, progress, progressDone)

	resultCh := make(chan execResult, 1)
	go func() {
		defer close(progress)
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("Job handler panicked",
					"job_id", job.ID,
					"type", job.Type,
					"panic", r,
				)
				resultCh <- execResult{err: NewKinded(KindUnknown, "handler panicked: %v", r)}
			}
		}()
		result, err := handler.Execute(execCtx, job, progress)
		resultCh <- execResult{result: result, err: err}
	}()

	select {
	case res := <-resultCh:
		<-progressDone
		return res.result, res.err
	case <-execCtx.Done():
		// Drain the progress writer before returning so a late write cannot
		// land after the scheduler re-queues the job. Handlers close the
		// progress channel when they observe cancellation; the bound covers
		// one that never does.
		select {
		case <-progressDone:
		case <-time.After(5 * time.Second):
			logger.Warnw("Handler ignored cancellation past grace period",
				"job_id", job.ID, "type", job.Type)
		}
		if ctx.Err() != nil {
			// Parent cancelled (shutdown), not a per-job timeout
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(ErrJobTimeout, "job %s exceeded %s", job.ID, timeout)
	}
}

// trackProgress persists monotonically increasing progress values. Writes
// are best-effort; a failed write only costs observability, never the job.
func (e *Executor) trackProgress(jobID string, progress <-chan int, done chan<- struct{}) {
	defer close(done)

	last := 0
	for p := range progress {
		if p <= last || p > 100 {
			continue
		}
		last = p

		stored, err := e.store.GetJob(jobID)
		if err != nil {
			continue
		}
		if stored.Status != JobStatusProcessing || stored.Progress >= p {
			continue
		}
		stored.Progress = p
		stored.UpdatedAt = time.Now().UTC()
		if err := e.store.PutJob(stored, 0); err != nil {
			logger.Debugw("Failed to persist job progress", "job_id", jobID, "error", err)
		}
	}
}
