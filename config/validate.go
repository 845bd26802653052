package config

import "github.com/redV3ls/skill-gap-analysis-sub001/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "gapsched.db" per defaults.go

	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return errors.Newf("scheduler.max_concurrent_jobs must be > 0, got %d", c.Scheduler.MaxConcurrentJobs)
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		return errors.Newf("scheduler.poll_interval_seconds must be > 0, got %d", c.Scheduler.PollIntervalSeconds)
	}
	if c.Scheduler.DefaultMaxRetries < 0 {
		return errors.Newf("scheduler.default_max_retries must be >= 0, got %d", c.Scheduler.DefaultMaxRetries)
	}
	if c.Scheduler.JobTimeoutSeconds <= 0 {
		return errors.Newf("scheduler.job_timeout_seconds must be > 0, got %d", c.Scheduler.JobTimeoutSeconds)
	}
	// 0 = unlimited dispatch, negative = invalid
	if c.Scheduler.MaxDispatchPerSecond < 0 {
		return errors.Newf("scheduler.max_dispatch_per_second must be >= 0, got %f", c.Scheduler.MaxDispatchPerSecond)
	}
	if c.Scheduler.PriorityWeightHigh <= 0 || c.Scheduler.PriorityWeightNormal <= 0 || c.Scheduler.PriorityWeightLow <= 0 {
		return errors.New("scheduler priority weights must all be > 0")
	}

	if c.Retry.BaseDelayMs <= 0 {
		return errors.Newf("retry.base_delay_ms must be > 0, got %d", c.Retry.BaseDelayMs)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return errors.Newf("retry.backoff_multiplier must be >= 1, got %f", c.Retry.BackoffMultiplier)
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return errors.Newf("retry.max_delay_ms (%d) must be >= retry.base_delay_ms (%d)", c.Retry.MaxDelayMs, c.Retry.BaseDelayMs)
	}

	if c.Breaker.FailureThreshold <= 0 {
		return errors.Newf("breaker.failure_threshold must be > 0, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.RecoveryTimeoutSeconds <= 0 {
		return errors.Newf("breaker.recovery_timeout_seconds must be > 0, got %d", c.Breaker.RecoveryTimeoutSeconds)
	}

	if c.Stats.IntervalSeconds <= 0 {
		return errors.Newf("stats.interval_seconds must be > 0, got %d", c.Stats.IntervalSeconds)
	}

	return nil
}
