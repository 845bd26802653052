package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
	gaptest "github.com/redV3ls/skill-gap-analysis-sub001/internal/testing"
)

func testSchedulerConfig(maxConcurrent int) config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxConcurrentJobs:      maxConcurrent,
		PollIntervalSeconds:    1,
		DefaultMaxRetries:      3,
		JobTimeoutSeconds:      30,
		RetentionHours:         24,
		ResultRetentionHours:   168,
		StaleJobTimeoutSeconds: 1800,
		PriorityWeightHigh:     3,
		PriorityWeightNormal:   2,
		PriorityWeightLow:      1,
	}
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{BaseDelayMs: 1, BackoffMultiplier: 2.0, MaxDelayMs: 10}
}

func newTestScheduler(t *testing.T, maxConcurrent int) (*Scheduler, *HandlerRegistry, *Store) {
	t.Helper()
	store := NewStore(gaptest.CreateTestDB(t))
	registry := NewHandlerRegistry()
	s := NewScheduler(store, registry, nil, testSchedulerConfig(maxConcurrent), testRetryConfig())
	return s, registry, store
}

// waitUntil polls cond until it holds or the deadline lapses
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestSubmitJobStartsPending(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	id, err := s.SubmitJob(JobTypeGapAnalysis, "user-1", json.RawMessage(`{"profileId":"p1"}`), SubmitOptions{})
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}

	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", job.Attempts)
	}
	if job.MaxRetries != 3 {
		t.Errorf("maxRetries = %d, want configured default 3", job.MaxRetries)
	}
}

func TestSubmitJobRejectsUnknownType(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	if _, err := s.SubmitJob("alchemy", "user-1", nil, SubmitOptions{}); !errors.Is(err, ErrUnknownJobType) {
		t.Errorf("expected ErrUnknownJobType, got %v", err)
	}
}

func TestPriorityAdmissionOrder(t *testing.T) {
	s, registry, _ := newTestScheduler(t, 1)

	var mu sync.Mutex
	var order []JobPriority
	registry.RegisterFunc(JobTypeGapAnalysis, func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, job.Priority)
		mu.Unlock()
		return json.RawMessage(`{}`), nil
	})

	for _, p := range []JobPriority{PriorityLow, PriorityHigh, PriorityNormal} {
		if _, err := s.SubmitJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{Priority: p}); err != nil {
			t.Fatalf("submit %s failed: %v", p, err)
		}
		time.Sleep(2 * time.Millisecond) // Distinct createdAt for FIFO tie-break
	}

	// Drive three admission cycles with one slot each
	for i := 0; i < 3; i++ {
		if err := s.admitPending(context.Background(), 1); err != nil {
			t.Fatalf("admission pass %d failed: %v", i, err)
		}
		waitUntil(t, 2*time.Second, func() bool { return s.ActiveCount() == 0 }, "job did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []JobPriority{PriorityHigh, PriorityNormal, PriorityLow}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("admission order = %v, want %v", order, want)
	}
}

func TestSuccessfulJobCompletes(t *testing.T) {
	s, registry, store := newTestScheduler(t, 1)
	registry.RegisterFunc(JobTypeTeamAnalysis, func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
		return json.RawMessage(`{"coverage":0.9}`), nil
	})

	id, _ := s.SubmitJob(JobTypeTeamAnalysis, "u", nil, SubmitOptions{})
	if err := s.admitPending(context.Background(), 1); err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		job, err := s.GetJob(id)
		return err == nil && job.Status == JobStatusCompleted
	}, "job did not complete")

	job, _ := s.GetJob(id)
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	waitUntil(t, 2*time.Second, func() bool { return s.ActiveCount() == 0 }, "active set not drained")

	result, err := store.GetResult(id)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if string(result) != `{"coverage":0.9}` {
		t.Errorf("stored result = %s", result)
	}
}

func TestNonRetryableFailureIsTerminal(t *testing.T) {
	s, registry, _ := newTestScheduler(t, 1)
	registry.RegisterFunc(JobTypeGapAnalysis, func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
		return nil, NewKinded(KindValidation, "profile has no skills")
	})

	id, _ := s.SubmitJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{})
	if err := s.admitPending(context.Background(), 1); err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		job, err := s.GetJob(id)
		return err == nil && job.Status.IsTerminal()
	}, "job did not finalize")

	job, _ := s.GetJob(id)
	if job.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed despite maxRetries=%d", job.Status, job.MaxRetries)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want exactly 1", job.Attempts)
	}
}

func TestRetryableFailureReturnsToPending(t *testing.T) {
	s, registry, _ := newTestScheduler(t, 1)
	registry.RegisterFunc(JobTypeBulkImport, func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
		return nil, errors.New("downstream temporarily unavailable")
	})

	// Large retry gate so the job stays pending for the assertion window
	s.policy = &RetryPolicy{BaseDelay: time.Hour, Multiplier: 2.0, MaxDelay: 2 * time.Hour}

	id, _ := s.SubmitJob(JobTypeBulkImport, "u", nil, SubmitOptions{})
	if err := s.admitPending(context.Background(), 1); err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		job, err := s.GetJob(id)
		return err == nil && job.Status == JobStatusPending && job.Attempts == 1
	}, "job was not re-queued")
	waitUntil(t, 2*time.Second, func() bool { return s.ActiveCount() == 0 }, "active set not drained")

	job, _ := s.GetJob(id)
	if job.NextRetryAt == nil || !job.NextRetryAt.After(time.Now()) {
		t.Fatalf("NextRetryAt = %v, want in the future", job.NextRetryAt)
	}

	// Not re-admitted while the retry gate is in the future
	if err := s.admitPending(context.Background(), 1); err != nil {
		t.Fatalf("second admission failed: %v", err)
	}
	if s.ActiveCount() != 0 {
		t.Error("job re-admitted before NextRetryAt")
	}
	job, _ = s.GetJob(id)
	if job.Status != JobStatusPending || job.Attempts != 1 {
		t.Errorf("job = %s/attempts %d, want pending/1", job.Status, job.Attempts)
	}
}

func TestRetriesExhaustedFails(t *testing.T) {
	s, registry, store := newTestScheduler(t, 1)
	registry.RegisterFunc(JobTypeTrendComputation, func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
		return nil, errors.New("connection refused")
	})

	zero := 0
	id, _ := s.SubmitJob(JobTypeTrendComputation, "u", nil, SubmitOptions{MaxRetries: &zero})
	if err := s.admitPending(context.Background(), 1); err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		job, err := s.GetJob(id)
		return err == nil && job.Status.IsTerminal()
	}, "job did not finalize")

	job, _ := s.GetJob(id)
	if job.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.Error == "" {
		t.Error("last failure reason not preserved")
	}

	// Exhausted retries emit an alert record
	alerts, err := store.ListAlerts()
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(alerts))
	}
}

func TestCancelPendingJob(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	id, _ := s.SubmitJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{})
	if err := s.CancelJob(id); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	job, _ := s.GetJob(id)
	if job.Status != JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}

	if err := s.CancelJob(id); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("cancelling a cancelled job: got %v, want ErrAlreadyTerminal", err)
	}
}

func TestCancelProcessingJobFails(t *testing.T) {
	s, _, store := newTestScheduler(t, 1)

	job, _ := NewJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{}, 3)
	job.Start()
	if err := store.PutJob(job, 0); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}
	s.mu.Lock()
	s.active[job.ID] = struct{}{}
	s.mu.Unlock()

	if err := s.CancelJob(job.ID); !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("got %v, want ErrAlreadyProcessing", err)
	}

	stored, _ := s.GetJob(job.ID)
	if stored.Status != JobStatusProcessing {
		t.Errorf("status changed to %s, want processing untouched", stored.Status)
	}
}

func TestCancelCompletedJobFails(t *testing.T) {
	s, _, store := newTestScheduler(t, 1)

	job, _ := NewJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{}, 3)
	job.Start()
	job.Complete(json.RawMessage(`{}`))
	if err := store.PutJob(job, time.Hour); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}

	if err := s.CancelJob(job.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("got %v, want ErrAlreadyTerminal", err)
	}
}

func TestStopDrainsActiveJobs(t *testing.T) {
	s, registry, _ := newTestScheduler(t, 2)

	release := make(chan struct{})
	registry.RegisterFunc(JobTypeReportGeneration, func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	})

	id, _ := s.SubmitJob(JobTypeReportGeneration, "u", nil, SubmitOptions{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool { return s.ActiveCount() == 1 }, "job was not admitted")

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.ActiveCount() != 0 {
		t.Errorf("active set not empty after Stop: %d", s.ActiveCount())
	}

	job, _ := s.GetJob(id)
	if job.Status != JobStatusCompleted {
		t.Errorf("status = %s, want completed (job drained, not abandoned)", job.Status)
	}
}

func TestCancellingStartContextHaltsAdmission(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	loopDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(loopDone)
	}()
	select {
	case <-loopDone:
	case <-time.After(3 * time.Second):
		t.Fatal("poll loop kept running after the start context was cancelled")
	}

	// With the loop gone, submissions stay queued instead of churning
	// through instantly-cancelled executions
	id, err := s.SubmitJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{})
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if s.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", s.ActiveCount())
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestStaleProcessingJobIsRecovered(t *testing.T) {
	s, _, store := newTestScheduler(t, 1)

	job, _ := NewJob(JobTypeBulkImport, "u", nil, SubmitOptions{}, 3)
	job.Start()
	if err := store.PutJob(job, 0); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}

	// Not yet stale
	if n, err := s.recoverStaleJobs(); err != nil || n != 0 {
		t.Fatalf("recovery = (%d, %v), want (0, nil) for a fresh job", n, err)
	}

	s.timeNow = func() time.Time { return time.Now().Add(31 * time.Minute) }
	n, err := s.recoverStaleJobs()
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	stored, _ := s.GetJob(job.ID)
	if stored.Status != JobStatusPending {
		t.Errorf("status = %s, want pending after recovery", stored.Status)
	}
	if stored.NextRetryAt == nil {
		t.Error("NextRetryAt not set on recovered job")
	}
}

func TestStaleJobWithExhaustedRetriesFails(t *testing.T) {
	s, _, store := newTestScheduler(t, 1)

	zero := 0
	job, _ := NewJob(JobTypeBulkImport, "u", nil, SubmitOptions{MaxRetries: &zero}, 3)
	job.Start()
	if err := store.PutJob(job, 0); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}

	s.timeNow = func() time.Time { return time.Now().Add(31 * time.Minute) }
	if _, err := s.recoverStaleJobs(); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}

	stored, _ := s.GetJob(job.ID)
	if stored.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed (no retry budget left)", stored.Status)
	}
}

func TestListUserJobs(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	for i := 0; i < 3; i++ {
		if _, err := s.SubmitJob(JobTypeGapAnalysis, "alice", nil, SubmitOptions{}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := s.SubmitJob(JobTypeTeamAnalysis, "alice", nil, SubmitOptions{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := s.SubmitJob(JobTypeGapAnalysis, "bob", nil, SubmitOptions{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	jobs, err := s.ListUserJobs("alice", JobFilter{})
	if err != nil {
		t.Fatalf("ListUserJobs failed: %v", err)
	}
	if len(jobs) != 4 {
		t.Errorf("alice has %d jobs, want 4", len(jobs))
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].CreatedAt.After(jobs[i-1].CreatedAt) {
			t.Error("jobs not ordered newest first")
		}
	}

	jobs, _ = s.ListUserJobs("alice", JobFilter{Type: JobTypeTeamAnalysis})
	if len(jobs) != 1 {
		t.Errorf("type filter returned %d, want 1", len(jobs))
	}

	jobs, _ = s.ListUserJobs("alice", JobFilter{Limit: 2, Offset: 1})
	if len(jobs) != 2 {
		t.Errorf("pagination returned %d, want 2", len(jobs))
	}

	jobs, _ = s.ListUserJobs("alice", JobFilter{Offset: 10})
	if len(jobs) != 0 {
		t.Errorf("out-of-range offset returned %d, want 0", len(jobs))
	}
}

func TestGetStatsSnapshot(t *testing.T) {
	s, registry, _ := newTestScheduler(t, 1)
	registry.RegisterFunc(JobTypeGapAnalysis, func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	done, _ := s.SubmitJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{})
	if err := s.admitPending(context.Background(), 1); err != nil {
		t.Fatalf("admission failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		job, err := s.GetJob(done)
		return err == nil && job.Status == JobStatusCompleted
	}, "job did not complete")

	if _, err := s.SubmitJob(JobTypeTeamAnalysis, "u", nil, SubmitOptions{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalProcessed != 1 {
		t.Errorf("totalProcessed = %d, want 1", stats.TotalProcessed)
	}
	if stats.CurrentQueueSize != 1 {
		t.Errorf("currentQueueSize = %d, want 1", stats.CurrentQueueSize)
	}
	if stats.JobsByStatus[JobStatusCompleted] != 1 || stats.JobsByStatus[JobStatusPending] != 1 {
		t.Errorf("jobsByStatus = %+v", stats.JobsByStatus)
	}
	if stats.JobsByType[JobTypeGapAnalysis] != 1 || stats.JobsByType[JobTypeTeamAnalysis] != 1 {
		t.Errorf("jobsByType = %+v", stats.JobsByType)
	}
}

func TestStatsAggregatorPersistsSnapshot(t *testing.T) {
	s, _, store := newTestScheduler(t, 1)
	if _, err := s.SubmitJob(JobTypeGapAnalysis, "u", nil, SubmitOptions{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	agg := NewStatsAggregator(s, store, config.StatsConfig{IntervalSeconds: 3600, SnapshotTTLMinutes: 60})
	agg.Start()
	defer agg.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		snap, err := store.GetStatsSnapshot()
		return err == nil && snap.CurrentQueueSize == 1
	}, "snapshot not persisted")
}
