// Package config loads and watches the gapsched configuration.
package config

import "time"

// Config represents the scheduler daemon configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Stats     StatsConfig     `mapstructure:"stats"`
}

// DatabaseConfig configures the SQLite database backing the job store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the job scheduling loop
type SchedulerConfig struct {
	MaxConcurrentJobs      int     `mapstructure:"max_concurrent_jobs"`       // Admission ceiling (default: 4)
	PollIntervalSeconds    int     `mapstructure:"poll_interval_seconds"`     // Delay between admission cycles (default: 5)
	DefaultMaxRetries      int     `mapstructure:"default_max_retries"`       // Retry ceiling when submit omits one (default: 3)
	JobTimeoutSeconds      int     `mapstructure:"job_timeout_seconds"`       // Per-job execution timeout (default: 600)
	RetentionHours         int     `mapstructure:"retention_hours"`           // TTL for terminal job records (default: 24)
	ResultRetentionHours   int     `mapstructure:"result_retention_hours"`    // TTL for job_result blobs (default: 168)
	StaleJobTimeoutSeconds int     `mapstructure:"stale_job_timeout_seconds"` // Age before a processing job is considered stranded (default: 1800)
	MaxDispatchPerSecond   float64 `mapstructure:"max_dispatch_per_second"`   // Launch throttle, 0 = unlimited

	// Priority weights for admission ordering. Ties break on creation time.
	PriorityWeightHigh   int `mapstructure:"priority_weight_high"`   // default: 3
	PriorityWeightNormal int `mapstructure:"priority_weight_normal"` // default: 2
	PriorityWeightLow    int `mapstructure:"priority_weight_low"`    // default: 1
}

// RetryConfig configures exponential backoff for job retries
type RetryConfig struct {
	BaseDelayMs       int     `mapstructure:"base_delay_ms"`      // First retry delay (default: 1000)
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"` // Growth factor (default: 2.0)
	MaxDelayMs        int     `mapstructure:"max_delay_ms"`       // Delay cap (default: 10000)
}

// BreakerConfig configures circuit breakers guarding downstream calls
type BreakerConfig struct {
	FailureThreshold       int `mapstructure:"failure_threshold"`        // Consecutive failures before opening (default: 5)
	RecoveryTimeoutSeconds int `mapstructure:"recovery_timeout_seconds"` // Cooldown before a half-open trial (default: 60)
	StatusTTLMinutes       int `mapstructure:"status_ttl_minutes"`       // TTL for persisted breaker status (default: 60)
}

// StatsConfig configures the stats aggregation loop
type StatsConfig struct {
	IntervalSeconds    int `mapstructure:"interval_seconds"`     // Recompute cadence (default: 30)
	SnapshotTTLMinutes int `mapstructure:"snapshot_ttl_minutes"` // TTL for scheduler:stats (default: 60)
}

// PollInterval returns the scheduler poll interval as a duration
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// JobTimeout returns the per-job execution timeout as a duration
func (c SchedulerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// StaleJobTimeout returns the stranded-job liveness window as a duration
func (c SchedulerConfig) StaleJobTimeout() time.Duration {
	return time.Duration(c.StaleJobTimeoutSeconds) * time.Second
}

// Retention returns the terminal job record TTL as a duration
func (c SchedulerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// ResultRetention returns the result blob TTL as a duration
func (c SchedulerConfig) ResultRetention() time.Duration {
	return time.Duration(c.ResultRetentionHours) * time.Hour
}

// BaseDelay returns the first retry delay as a duration
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// RecoveryTimeout returns the breaker cooldown as a duration
func (c BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}

// StatusTTL returns the persisted breaker status TTL as a duration
func (c BreakerConfig) StatusTTL() time.Duration {
	return time.Duration(c.StatusTTLMinutes) * time.Minute
}

// Interval returns the stats recompute cadence as a duration
func (c StatsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SnapshotTTL returns the stats snapshot TTL as a duration
func (c StatsConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLMinutes) * time.Minute
}
