package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
	"github.com/redV3ls/skill-gap-analysis-sub001/logger"
	"github.com/redV3ls/skill-gap-analysis-sub001/scheduler"
)

// StartCmd starts the scheduler daemon
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon",
	Long: `Start the scheduler daemon in foreground mode.

The daemon will:
- Poll for pending jobs and run them under the concurrency limit
- Retry failed jobs with capped exponential backoff
- Guard downstream calls with per-service circuit breakers
- Recover jobs stranded by a previous crash
- Periodically aggregate queue statistics
- Run until interrupted (Ctrl+C), draining active jobs before exit

Handlers for the job types are registered by the embedding
application; a daemon with no registered handlers fails every job it
admits as unknown-type. See the scheduler package documentation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		return runStart(concurrency)
	},
}

func init() {
	StartCmd.Flags().Int("concurrency", 0, "Override scheduler.max_concurrent_jobs")
}

func runStart(concurrency int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if concurrency > 0 {
		cfg.Scheduler.MaxConcurrentJobs = concurrency
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := scheduler.NewStore(database)
	policy := scheduler.NewRetryPolicy(cfg.Retry)
	breakers := scheduler.NewBreakerRegistry(store, policy, cfg.Breaker)

	// The scheduler core ships no domain handlers. The embedding
	// application registers its analysis handlers here (wrapping
	// downstream calls with the breaker registry) before Start; jobs
	// whose type has no handler fail as unknown-type.
	registry := scheduler.NewHandlerRegistry()

	sched := scheduler.NewScheduler(store, registry, breakers, cfg.Scheduler, cfg.Retry)
	aggregator := scheduler.NewStatsAggregator(sched, store, cfg.Stats)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	aggregator.Start()

	// Hot-reload the concurrency limit when a project config file changes
	if _, statErr := os.Stat("gapsched.toml"); statErr == nil {
		watcher, werr := config.NewWatcher("gapsched.toml")
		if werr != nil {
			logger.Warnw("Config watcher unavailable", "error", werr)
		} else {
			watcher.OnReload(func(newCfg *config.Config) error {
				logger.Infow("Configuration reloaded; restart to apply scheduler changes",
					"max_concurrent_jobs", newCfg.Scheduler.MaxConcurrentJobs)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	fmt.Println("gapsched daemon started")
	fmt.Printf("  Concurrency:   %d\n", cfg.Scheduler.MaxConcurrentJobs)
	fmt.Printf("  Poll interval: %v\n", cfg.Scheduler.PollInterval())
	fmt.Printf("  Job timeout:   %v\n", cfg.Scheduler.JobTimeout())
	fmt.Printf("  Handlers:      %v\n", registry.Types())
	fmt.Println("\nPress Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nDraining active jobs...")

	aggregator.Stop()
	if err := sched.Stop(); err != nil {
		return err
	}

	fmt.Println("gapsched daemon stopped")
	return nil
}
