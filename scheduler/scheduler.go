package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/google/uuid"
	"github.com/redV3ls/skill-gap-analysis-sub001/config"
	"github.com/redV3ls/skill-gap-analysis-sub001/db"
	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
	"github.com/redV3ls/skill-gap-analysis-sub001/logger"
)

// Scheduler polls the store for pending jobs, admits them under the
// concurrency limit in priority order, and drives each admitted job
// through the executor to a terminal or re-queued state.
//
// The store is the source of truth for job state. The scheduler's only
// in-memory state is the active set, which exists to prevent
// double-admission within this process; it is reconciled against stored
// status every poll. Run a single scheduler per store: two processes
// polling the same store can both claim the same job.
type Scheduler struct {
	store    *Store
	registry *HandlerRegistry
	executor *Executor
	breakers *BreakerRegistry
	policy   *RetryPolicy
	cfg      config.SchedulerConfig
	weights  PriorityWeights
	limiter  *rate.Limiter

	mu      sync.Mutex
	active  map[string]struct{}
	running bool
	cancel  context.CancelFunc

	parentCtx context.Context
	wg        sync.WaitGroup

	maxConcurrent int
	timeNow       func() time.Time // Injectable for testing
}

// NewScheduler wires a scheduler from its collaborators. The breaker
// registry is optional wiring for handlers; pass nil if no handler uses
// downstream protection.
func NewScheduler(store *Store, registry *HandlerRegistry, breakers *BreakerRegistry, cfg config.SchedulerConfig, retryCfg config.RetryConfig) *Scheduler {
	policy := NewRetryPolicy(retryCfg)

	var limiter *rate.Limiter
	if cfg.MaxDispatchPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxDispatchPerSecond), 1)
	}

	return &Scheduler{
		store:    store,
		registry: registry,
		executor: NewExecutor(registry, store, cfg.JobTimeout()),
		breakers: breakers,
		policy:   policy,
		cfg:      cfg,
		weights: PriorityWeights{
			High:   cfg.PriorityWeightHigh,
			Normal: cfg.PriorityWeightNormal,
			Low:    cfg.PriorityWeightLow,
		},
		limiter:       limiter,
		active:        make(map[string]struct{}),
		maxConcurrent: cfg.MaxConcurrentJobs,
		parentCtx:     context.Background(),
		timeNow:       time.Now,
	}
}

// Breakers exposes the breaker registry for administrative tooling
func (s *Scheduler) Breakers() *BreakerRegistry { return s.breakers }

// Start launches the scheduling loop. The loop's context derives from ctx,
// so cancelling ctx halts admission, interrupts executions, and re-queues
// them; Stop cancels only the loop and drains running jobs instead of
// killing them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	s.running = true
	s.parentCtx = ctx
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if safe := calculateSafeConcurrency(s.cfg.MaxConcurrentJobs); safe < s.cfg.MaxConcurrentJobs {
		logger.Warnw("Reducing job concurrency under memory pressure",
			"configured", s.cfg.MaxConcurrentJobs,
			"effective", safe,
		)
		s.mu.Lock()
		s.maxConcurrent = safe
		s.mu.Unlock()
	}

	if n, err := s.recoverStaleJobs(); err != nil {
		logger.Errorw("Startup recovery sweep failed", "error", err)
	} else if n > 0 {
		logger.Infow("Recovered stranded jobs from previous run", "count", n)
	}

	s.wg.Add(1)
	go s.pollLoop(loopCtx)

	logger.Infow("Job scheduler started",
		"max_concurrent", s.maxConcurrent,
		"poll_interval", s.cfg.PollInterval(),
		"handlers", s.registry.Types(),
	)
	return nil
}

// Stop halts admission and waits for every active job to reach a terminal
// or re-queued state, bounded by a generous drain timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infow("Job scheduler stopped")
		return nil
	case <-time.After(30 * time.Second):
		s.mu.Lock()
		remaining := len(s.active)
		s.mu.Unlock()
		return errors.Newf("scheduler drain timed out with %d jobs still active", remaining)
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runCycle performs one admission pass followed by cleanup. Store errors
// are logged and the cycle abandoned; the next poll retries.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	availableSlots := s.maxConcurrent - len(s.active)
	s.mu.Unlock()

	if availableSlots > 0 {
		if err := s.admitPending(ctx, availableSlots); err != nil {
			logger.Errorw("Scheduling pass failed", "error", err)
		}
	}
	s.cleanup()
}

// admitPending claims up to availableSlots eligible pending jobs and
// launches their execution without blocking the loop.
func (s *Scheduler) admitPending(ctx context.Context, availableSlots int) error {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return errors.Wrap(err, "failed to list jobs for admission")
	}

	now := s.timeNow()
	candidates := make([]*Job, 0, len(jobs))
	s.mu.Lock()
	for _, job := range jobs {
		if job.Status != JobStatusPending {
			continue
		}
		if _, isActive := s.active[job.ID]; isActive {
			continue
		}
		if job.NextRetryAt != nil && now.Before(*job.NextRetryAt) {
			continue
		}
		candidates = append(candidates, job)
	}
	s.mu.Unlock()

	// Priority band first, strict FIFO within a band
	sort.SliceStable(candidates, func(i, j int) bool {
		wi, wj := s.weights.Weight(candidates[i].Priority), s.weights.Weight(candidates[j].Priority)
		if wi != wj {
			return wi > wj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if len(candidates) > availableSlots {
		candidates = candidates[:availableSlots]
	}

	for _, job := range candidates {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil // Loop shutting down
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := s.claim(job); err != nil {
			logger.Errorw("Failed to claim job", "job_id", job.ID, "error", err)
			continue
		}

		s.wg.Add(1)
		go s.runJob(job)
	}
	return nil
}

// claim transitions a job to processing and registers it in the active set
func (s *Scheduler) claim(job *Job) error {
	job.Start()
	if err := s.store.PutJob(job, 0); err != nil {
		return err
	}

	s.mu.Lock()
	s.active[job.ID] = struct{}{}
	s.mu.Unlock()

	logger.Infow("Job admitted",
		"job_id", job.ID,
		"type", job.Type,
		"priority", job.Priority,
		"attempt", job.Attempts,
	)
	return nil
}

// runJob drives one execution attempt to its finalization
func (s *Scheduler) runJob(job *Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
	}()

	result, err := s.executor.Execute(s.parentCtx, job)

	if err != nil && s.parentCtx.Err() != nil && errors.Is(err, s.parentCtx.Err()) {
		// Process shutting down mid-execution: hand the attempt back
		// without consuming retry budget.
		job.Requeue()
		if putErr := s.store.PutJob(job, 0); putErr != nil && !db.IsDatabaseClosed(putErr) {
			logger.Errorw("Failed to re-queue interrupted job", "job_id", job.ID, "error", putErr)
		}
		return
	}

	if err == nil {
		s.finalizeSuccess(job, result)
		return
	}
	s.finalizeFailure(job, err)
}

func (s *Scheduler) finalizeSuccess(job *Job, result json.RawMessage) {
	job.Complete(result)

	if len(result) > 0 {
		if err := s.store.PutResult(job.ID, result, s.cfg.ResultRetention()); err != nil {
			logger.Errorw("Failed to persist job result", "job_id", job.ID, "error", err)
		}
	}
	if err := s.store.PutJob(job, s.cfg.Retention()); err != nil {
		logger.Errorw("Failed to persist completed job", "job_id", job.ID, "error", err)
	}

	logger.Infow("Job completed",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.Attempts,
	)
}

func (s *Scheduler) finalizeFailure(job *Job, err error) {
	kind := KindOf(err)

	if kind.IsRetryable() && job.Attempts <= job.MaxRetries {
		delay := s.policy.Delay(job.Attempts)
		job.ScheduleRetry(delay, err)
		if putErr := s.store.PutJob(job, 0); putErr != nil {
			logger.Errorw("Failed to persist job for retry", "job_id", job.ID, "error", putErr)
		}
		logger.Warnw("Job failed, retry scheduled",
			"job_id", job.ID,
			"type", job.Type,
			"kind", kind,
			"attempt", job.Attempts,
			"next_retry_at", job.NextRetryAt,
			"error", err,
		)
		return
	}

	job.Fail(err)
	if putErr := s.store.PutJob(job, s.cfg.Retention()); putErr != nil {
		logger.Errorw("Failed to persist failed job", "job_id", job.ID, "error", putErr)
	}

	exhausted := kind.IsRetryable()
	logger.Errorw("Job failed",
		"job_id", job.ID,
		"type", job.Type,
		"kind", kind,
		"attempts", job.Attempts,
		"retries_exhausted", exhausted,
		"error", err,
	)
	if exhausted {
		alert := &Alert{
			ID:         uuid.NewString(),
			Severity:   "warning",
			ServiceKey: string(job.Type),
			Message:    "job exhausted its retry budget: " + err.Error(),
			CreatedAt:  s.timeNow().UTC(),
		}
		if alertErr := s.store.PutAlert(alert, 24*time.Hour); alertErr != nil {
			logger.Debugw("Failed to persist exhausted-retry alert", "job_id", job.ID, "error", alertErr)
		}
	}
}

// cleanup purges expired entries and recovers stranded processing jobs
func (s *Scheduler) cleanup() {
	if n, err := s.store.PurgeExpired(); err != nil {
		// The connection closing under us just means shutdown won the race.
		if !db.IsDatabaseClosed(err) {
			logger.Errorw("Cleanup purge failed", "error", err)
		}
	} else if n > 0 {
		logger.Debugw("Purged expired entries", "count", n)
	}

	if n, err := s.recoverStaleJobs(); err != nil {
		logger.Errorw("Stale job recovery failed", "error", err)
	} else if n > 0 {
		logger.Warnw("Recovered stranded processing jobs", "count", n)
	}
}

// recoverStaleJobs re-queues processing jobs that no live execution owns
// and that have not been touched within the stale timeout. Covers jobs
// stranded by a crash between claim and finalization.
func (s *Scheduler) recoverStaleJobs() (int, error) {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list jobs for recovery")
	}

	cutoff := s.timeNow().Add(-s.cfg.StaleJobTimeout())
	recovered := 0
	for _, job := range jobs {
		if job.Status != JobStatusProcessing {
			continue
		}
		s.mu.Lock()
		_, isActive := s.active[job.ID]
		s.mu.Unlock()
		if isActive || job.UpdatedAt.After(cutoff) {
			continue
		}

		cause := errors.Newf("job stranded in processing since %s", job.UpdatedAt.Format(time.RFC3339))
		if job.Attempts <= job.MaxRetries {
			job.ScheduleRetry(s.policy.Delay(job.Attempts), cause)
			if err := s.store.PutJob(job, 0); err != nil {
				logger.Errorw("Failed to re-queue stranded job", "job_id", job.ID, "error", err)
				continue
			}
		} else {
			job.Fail(cause)
			if err := s.store.PutJob(job, s.cfg.Retention()); err != nil {
				logger.Errorw("Failed to finalize stranded job", "job_id", job.ID, "error", err)
				continue
			}
		}
		recovered++
	}
	return recovered, nil
}

// SubmitJob validates and persists a new pending job, returning its ID
// immediately without waiting for execution.
func (s *Scheduler) SubmitJob(jobType JobType, owner string, payload json.RawMessage, opts SubmitOptions) (string, error) {
	job, err := NewJob(jobType, owner, payload, opts, s.cfg.DefaultMaxRetries)
	if err != nil {
		return "", err
	}
	if err := s.store.PutJob(job, 0); err != nil {
		return "", errors.Wrap(err, "failed to persist submitted job")
	}

	logger.Infow("Job submitted",
		"job_id", job.ID,
		"type", job.Type,
		"owner", job.Owner,
		"priority", job.Priority,
	)
	return job.ID, nil
}

// GetJob retrieves a job record by ID
func (s *Scheduler) GetJob(jobID string) (*Job, error) {
	return s.store.GetJob(jobID)
}

// GetJobResult retrieves the stored result blob for a completed job
func (s *Scheduler) GetJobResult(jobID string) (json.RawMessage, error) {
	return s.store.GetResult(jobID)
}

// CancelJob cancels a pending job. Jobs already claimed for execution
// cannot be interrupted, and terminal jobs cannot change state.
func (s *Scheduler) CancelJob(jobID string) error {
	s.mu.Lock()
	_, isActive := s.active[jobID]
	s.mu.Unlock()
	if isActive {
		return errors.Wrapf(ErrAlreadyProcessing, "job %s", jobID)
	}

	job, err := s.store.GetJob(jobID)
	if err != nil {
		return err
	}
	switch {
	case job.Status == JobStatusProcessing:
		return errors.Wrapf(ErrAlreadyProcessing, "job %s", jobID)
	case job.Status.IsTerminal():
		return errors.Wrapf(ErrAlreadyTerminal, "job %s is %s", jobID, job.Status)
	}

	job.Cancel("cancelled by owner request")
	if err := s.store.PutJob(job, s.cfg.Retention()); err != nil {
		return errors.Wrap(err, "failed to persist cancelled job")
	}

	logger.Infow("Job cancelled", "job_id", jobID)
	return nil
}

// JobFilter narrows ListUserJobs results
type JobFilter struct {
	Status JobStatus
	Type   JobType
	Limit  int
	Offset int
}

// ListUserJobs returns an owner's jobs, newest first
func (s *Scheduler) ListUserJobs(owner string, filter JobFilter) ([]*Job, error) {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return nil, err
	}

	matched := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Owner != owner {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		matched = append(matched, job)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Job{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// ActiveCount reports how many jobs are currently executing
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// GetStats recomputes the aggregate snapshot by scanning all job records.
// The snapshot is eventually consistent and bounded by the retention
// window for terminal jobs.
func (s *Scheduler) GetStats() (*Stats, error) {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		JobsByType:   make(map[JobType]int),
		JobsByStatus: make(map[JobStatus]int),
		GeneratedAt:  s.timeNow().UTC(),
	}
	for _, job := range jobs {
		stats.JobsByType[job.Type]++
		stats.JobsByStatus[job.Status]++
		switch job.Status {
		case JobStatusCompleted:
			stats.TotalProcessed++
		case JobStatusFailed:
			stats.TotalFailed++
		case JobStatusPending:
			stats.CurrentQueueSize++
		}
	}
	stats.ActiveJobs = s.ActiveCount()
	return stats, nil
}
