package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
	"github.com/redV3ls/skill-gap-analysis-sub001/logger"
)

// Stats is the aggregate scheduler snapshot
type Stats struct {
	TotalProcessed   int               `json:"total_processed"`
	TotalFailed      int               `json:"total_failed"`
	CurrentQueueSize int               `json:"current_queue_size"`
	ActiveJobs       int               `json:"active_jobs"`
	JobsByType       map[JobType]int   `json:"jobs_by_type"`
	JobsByStatus     map[JobStatus]int `json:"jobs_by_status"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// StatsAggregator periodically recomputes the scheduler snapshot and
// persists it for external observers. It is read-only with respect to
// scheduling decisions.
type StatsAggregator struct {
	scheduler *Scheduler
	store     *Store
	cfg       config.StatsConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStatsAggregator creates an aggregator over a scheduler and its store
func NewStatsAggregator(scheduler *Scheduler, store *Store, cfg config.StatsConfig) *StatsAggregator {
	return &StatsAggregator{scheduler: scheduler, store: store, cfg: cfg}
}

// Start launches the aggregation loop
func (a *StatsAggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go a.loop(ctx)
	logger.Infow("Stats aggregator started", "interval", a.cfg.Interval())
}

// Stop halts the aggregation loop
func (a *StatsAggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.cancel()
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *StatsAggregator) loop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Interval())
	defer ticker.Stop()

	for {
		a.snapshot()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// snapshot computes and persists one stats cycle, best-effort
func (a *StatsAggregator) snapshot() {
	stats, err := a.scheduler.GetStats()
	if err != nil {
		logger.Errorw("Failed to compute scheduler stats", "error", err)
		return
	}
	if err := a.store.PutStatsSnapshot(stats, a.cfg.SnapshotTTL()); err != nil {
		logger.Errorw("Failed to persist scheduler stats", "error", err)
		return
	}
	logger.Debugw("Stats snapshot persisted",
		"queue_size", stats.CurrentQueueSize,
		"active", stats.ActiveJobs,
		"processed", stats.TotalProcessed,
		"failed", stats.TotalFailed,
	)
}
