package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
)

// ConfigCmd shows the effective configuration
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Show the effective configuration after merging all sources.

Precedence (lowest to highest):
  /etc/gapsched/config.toml
  ~/.gapsched/config.toml
  ./gapsched.toml (or nearest ancestor)
  GAPSCHED_* environment variables`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow()
	},
}

func runConfigShow() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("[database]")
	fmt.Printf("  path = %q\n", cfg.Database.Path)

	fmt.Println("\n[scheduler]")
	fmt.Printf("  max_concurrent_jobs = %d\n", cfg.Scheduler.MaxConcurrentJobs)
	fmt.Printf("  poll_interval = %v\n", cfg.Scheduler.PollInterval())
	fmt.Printf("  default_max_retries = %d\n", cfg.Scheduler.DefaultMaxRetries)
	fmt.Printf("  job_timeout = %v\n", cfg.Scheduler.JobTimeout())
	fmt.Printf("  retention = %v\n", cfg.Scheduler.Retention())
	fmt.Printf("  result_retention = %v\n", cfg.Scheduler.ResultRetention())
	fmt.Printf("  stale_job_timeout = %v\n", cfg.Scheduler.StaleJobTimeout())
	fmt.Printf("  max_dispatch_per_second = %g\n", cfg.Scheduler.MaxDispatchPerSecond)
	fmt.Printf("  priority_weights = high:%d normal:%d low:%d\n",
		cfg.Scheduler.PriorityWeightHigh, cfg.Scheduler.PriorityWeightNormal, cfg.Scheduler.PriorityWeightLow)

	fmt.Println("\n[retry]")
	fmt.Printf("  base_delay = %v\n", cfg.Retry.BaseDelay())
	fmt.Printf("  backoff_multiplier = %g\n", cfg.Retry.BackoffMultiplier)
	fmt.Printf("  max_delay = %v\n", cfg.Retry.MaxDelay())

	fmt.Println("\n[breaker]")
	fmt.Printf("  failure_threshold = %d\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("  recovery_timeout = %v\n", cfg.Breaker.RecoveryTimeout())
	fmt.Printf("  status_ttl = %v\n", cfg.Breaker.StatusTTL())

	fmt.Println("\n[stats]")
	fmt.Printf("  interval = %v\n", cfg.Stats.Interval())
	fmt.Printf("  snapshot_ttl = %v\n", cfg.Stats.SnapshotTTL())
	return nil
}
