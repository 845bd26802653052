package scheduler

import (
	"time"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
)

// RetryPolicy computes backoff delays for failed job attempts
type RetryPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// NewRetryPolicy builds a policy from configuration
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		BaseDelay:  cfg.BaseDelay(),
		Multiplier: cfg.BackoffMultiplier,
		MaxDelay:   cfg.MaxDelay(),
	}
}

// Delay returns the backoff before re-running a job that has completed the
// given number of attempts: base * multiplier^(attempts-1), capped at the
// maximum. Attempts below one are treated as one.
func (p *RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempts; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	d := time.Duration(delay)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
