package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "gapsched.db")

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrent_jobs", 4)
	v.SetDefault("scheduler.poll_interval_seconds", 5)
	v.SetDefault("scheduler.default_max_retries", 3)
	v.SetDefault("scheduler.job_timeout_seconds", 600)        // 10 minutes per job
	v.SetDefault("scheduler.retention_hours", 24)             // Terminal job records
	v.SetDefault("scheduler.result_retention_hours", 168)     // Result blobs, 7 days
	v.SetDefault("scheduler.stale_job_timeout_seconds", 1800) // Stranded processing jobs
	v.SetDefault("scheduler.max_dispatch_per_second", 0.0)    // Unlimited
	v.SetDefault("scheduler.priority_weight_high", 3)
	v.SetDefault("scheduler.priority_weight_normal", 2)
	v.SetDefault("scheduler.priority_weight_low", 1)

	// Retry backoff defaults
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.max_delay_ms", 10000)

	// Circuit breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout_seconds", 60)
	v.SetDefault("breaker.status_ttl_minutes", 60)

	// Stats aggregation defaults
	v.SetDefault("stats.interval_seconds", 30)
	v.SetDefault("stats.snapshot_ttl_minutes", 60)
}
