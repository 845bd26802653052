package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
	gaptest "github.com/redV3ls/skill-gap-analysis-sub001/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(gaptest.CreateTestDB(t))
}

func TestStorePutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("greeting", []byte("hello"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value, err := store.Get("greeting")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "hello" {
		t.Errorf("Get = %q, want %q", value, "hello")
	}

	// Overwrite is last-write-wins
	if err := store.Put("greeting", []byte("goodbye"), 0); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	value, _ = store.Get("greeting")
	if string(value) != "goodbye" {
		t.Errorf("Get after overwrite = %q, want %q", value, "goodbye")
	}
}

func TestStoreGetAbsentKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("nope")
	if err == nil {
		t.Fatal("expected error for absent key")
	}
	if !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("k", []byte("v"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("k"); err != nil {
		t.Errorf("deleting absent key should succeed, got %v", err)
	}
	if _, err := store.Get("k"); !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found after delete, got %v", err)
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	store.timeNow = func() time.Time { return now }

	if err := store.Put("ephemeral", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Get("ephemeral"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	store.timeNow = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := store.Get("ephemeral"); !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found after TTL, got %v", err)
	}

	purged, err := store.PurgeExpired()
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

func TestStoreListByPrefix(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"job:b", "job:a", "job_result:a", "circuit:llm"} {
		if err := store.Put(key, []byte("v"), 0); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	keys, err := store.ListByPrefix("job:")
	if err != nil {
		t.Fatalf("ListByPrefix failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "job:a" || keys[1] != "job:b" {
		t.Errorf("ListByPrefix = %v, want [job:a job:b]", keys)
	}

	keys, err = store.ListByPrefix("alert:")
	if err != nil {
		t.Fatalf("ListByPrefix on empty prefix failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no alert keys, got %v", keys)
	}
}

func TestStoreListByPrefixEscapesWildcards(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("report_daily", []byte("v"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put("reportXdaily", []byte("v"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The underscore must match literally, not as a LIKE wildcard
	keys, err := store.ListByPrefix("report_")
	if err != nil {
		t.Fatalf("ListByPrefix failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "report_daily" {
		t.Errorf("ListByPrefix = %v, want [report_daily]", keys)
	}
}

func TestStoreJobRoundtrip(t *testing.T) {
	store := newTestStore(t)

	job, err := NewJob(JobTypeGapAnalysis, "user-7", json.RawMessage(`{"profileId":"p9"}`), SubmitOptions{Priority: PriorityHigh}, 3)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if err := store.PutJob(job, 0); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}

	loaded, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if loaded.ID != job.ID || loaded.Type != job.Type || loaded.Priority != PriorityHigh {
		t.Errorf("loaded job mismatch: %+v", loaded)
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("ListJobs returned %d jobs, want 1", len(jobs))
	}

	if err := store.DeleteJob(job.ID); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := store.GetJob(job.ID); !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found after DeleteJob, got %v", err)
	}
}

func TestStoreResultStoredSeparately(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutResult("j1", json.RawMessage(`{"gaps":[]}`), time.Hour); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}
	result, err := store.GetResult("j1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if string(result) != `{"gaps":[]}` {
		t.Errorf("GetResult = %s", result)
	}

	// The result key lives outside the job: prefix
	keys, _ := store.ListByPrefix(jobKeyPrefix)
	if len(keys) != 0 {
		t.Errorf("result leaked into job prefix: %v", keys)
	}
}

func TestStoreBreakerStatusRoundtrip(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	status := &BreakerStatus{
		State:           BreakerOpen,
		FailureCount:    5,
		TotalRequests:   12,
		LastFailureTime: &now,
	}
	if err := store.PutBreakerStatus("llm-service", status, time.Hour); err != nil {
		t.Fatalf("PutBreakerStatus failed: %v", err)
	}

	loaded, err := store.GetBreakerStatus("llm-service")
	if err != nil {
		t.Fatalf("GetBreakerStatus failed: %v", err)
	}
	if loaded.State != BreakerOpen || loaded.FailureCount != 5 {
		t.Errorf("loaded status mismatch: %+v", loaded)
	}

	all, err := store.ListBreakerStatuses()
	if err != nil {
		t.Fatalf("ListBreakerStatuses failed: %v", err)
	}
	if len(all) != 1 || all["llm-service"] == nil {
		t.Errorf("ListBreakerStatuses = %+v", all)
	}
}

func TestStoreStatsSnapshotRoundtrip(t *testing.T) {
	store := newTestStore(t)

	stats := &Stats{
		TotalProcessed:   7,
		CurrentQueueSize: 2,
		JobsByType:       map[JobType]int{JobTypeGapAnalysis: 9},
		JobsByStatus:     map[JobStatus]int{JobStatusCompleted: 7},
		GeneratedAt:      time.Now().UTC(),
	}
	if err := store.PutStatsSnapshot(stats, time.Hour); err != nil {
		t.Fatalf("PutStatsSnapshot failed: %v", err)
	}

	loaded, err := store.GetStatsSnapshot()
	if err != nil {
		t.Fatalf("GetStatsSnapshot failed: %v", err)
	}
	if loaded.TotalProcessed != 7 || loaded.JobsByType[JobTypeGapAnalysis] != 9 {
		t.Errorf("loaded snapshot mismatch: %+v", loaded)
	}
}

func TestStoreAlertsOrderedOldestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"third", "first", "second"} {
		offset := map[string]time.Duration{"first": 0, "second": time.Second, "third": 2 * time.Second}[id]
		alert := &Alert{
			ID:         id,
			Severity:   "warning",
			ServiceKey: "svc",
			Message:    "breaker opened",
			CreatedAt:  base.Add(offset),
		}
		if err := store.PutAlert(alert, time.Hour); err != nil {
			t.Fatalf("PutAlert %d failed: %v", i, err)
		}
	}

	alerts, err := store.ListAlerts()
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("ListAlerts returned %d, want 3", len(alerts))
	}
	if alerts[0].ID != "first" || alerts[1].ID != "second" || alerts[2].ID != "third" {
		t.Errorf("alerts out of order: %s, %s, %s", alerts[0].ID, alerts[1].ID, alerts[2].ID)
	}
}
