package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redV3ls/skill-gap-analysis-sub001/config"
	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
	"github.com/redV3ls/skill-gap-analysis-sub001/logger"
)

// BreakerState is the circuit state for one service key
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerStatus is the externally visible snapshot of one breaker
type BreakerStatus struct {
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	TotalRequests   int64        `json:"total_requests"`
	LastFailureTime *time.Time   `json:"last_failure_time,omitempty"`
	NextAttemptTime *time.Time   `json:"next_attempt_time,omitempty"`
}

// Alert is a monitoring record emitted on notable breaker transitions
type Alert struct {
	ID         string    `json:"id"`
	Severity   string    `json:"severity"`
	ServiceKey string    `json:"service_key"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// breaker holds the mutable state for a single service key. All access
// goes through the registry's mutex.
type breaker struct {
	state           BreakerState
	failureCount    int
	successCount    int
	totalRequests   int64
	lastFailureTime *time.Time
	nextAttemptTime *time.Time

	// trialInFlight guards the single HALF_OPEN trial call; concurrent
	// callers are rejected until the trial records its outcome.
	trialInFlight bool
}

// BreakerRegistry tracks a circuit breaker per service key and layers
// retry-with-backoff beneath it. Breakers are created lazily on first use
// and start closed.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker

	store  *Store
	policy *RetryPolicy
	cfg    config.BreakerConfig

	timeNow func() time.Time // Injectable for testing
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewBreakerRegistry creates a registry backed by store for status
// persistence and alerting. Pass a nil store to keep everything in memory.
func NewBreakerRegistry(store *Store, policy *RetryPolicy, cfg config.BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		store:    store,
		policy:   policy,
		cfg:      cfg,
		timeNow:  time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *BreakerRegistry) get(serviceKey string) *breaker {
	b, ok := r.breakers[serviceKey]
	if !ok {
		b = &breaker{state: BreakerClosed}
		r.breakers[serviceKey] = b
	}
	return b
}

// ExecuteWithCircuitBreaker runs fn under the breaker for serviceKey.
// Every call counts toward totalRequests, including rejections while open.
func (r *BreakerRegistry) ExecuteWithCircuitBreaker(serviceKey string, fn func() error) error {
	if err := r.admit(serviceKey); err != nil {
		return err
	}

	err := fn()
	r.record(serviceKey, err)
	return err
}

// admit counts the request and rejects it when the circuit is open
func (r *BreakerRegistry) admit(serviceKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(serviceKey)
	b.totalRequests++

	if b.state == BreakerOpen {
		now := r.timeNow()
		if b.nextAttemptTime != nil && now.Before(*b.nextAttemptTime) {
			return errors.Wrapf(ErrBreakerOpen, "service %s rejecting calls until %s",
				serviceKey, b.nextAttemptTime.Format(time.RFC3339))
		}
		// Recovery window elapsed; let one trial call through
		b.state = BreakerHalfOpen
		b.nextAttemptTime = nil
		logger.Infow("Circuit breaker half-open", "service", serviceKey)
	}
	if b.state == BreakerHalfOpen {
		if b.trialInFlight {
			return errors.Wrapf(ErrBreakerOpen, "service %s trial call already in flight", serviceKey)
		}
		b.trialInFlight = true
	}
	return nil
}

// record applies the call outcome to the breaker state machine
func (r *BreakerRegistry) record(serviceKey string, err error) {
	r.mu.Lock()
	b := r.get(serviceKey)
	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
	}

	if err == nil {
		b.successCount++
		switch b.state {
		case BreakerHalfOpen:
			// Trial succeeded; close and start fresh
			b.state = BreakerClosed
			b.failureCount = 0
			b.successCount = 0
			b.totalRequests = 0
			b.lastFailureTime = nil
			b.nextAttemptTime = nil
			logger.Infow("Circuit breaker closed", "service", serviceKey)
		case BreakerClosed:
			b.failureCount = 0
		}
		status := b.snapshot()
		r.mu.Unlock()
		r.persist(serviceKey, status)
		return
	}

	now := r.timeNow()
	b.failureCount++
	b.lastFailureTime = &now

	opened := false
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failureCount >= r.cfg.FailureThreshold) {
		b.state = BreakerOpen
		next := now.Add(r.cfg.RecoveryTimeout())
		b.nextAttemptTime = &next
		opened = true
	}

	status := b.snapshot()
	r.mu.Unlock()

	if opened {
		logger.Warnw("Circuit breaker opened",
			"service", serviceKey,
			"failures", status.FailureCount,
			"next_attempt", status.NextAttemptTime,
		)
		r.alert(serviceKey, status)
	}
	r.persist(serviceKey, status)
}

func (b *breaker) snapshot() *BreakerStatus {
	status := &BreakerStatus{
		State:         b.state,
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		TotalRequests: b.totalRequests,
	}
	if b.lastFailureTime != nil {
		t := *b.lastFailureTime
		status.LastFailureTime = &t
	}
	if b.nextAttemptTime != nil {
		t := *b.nextAttemptTime
		status.NextAttemptTime = &t
	}
	return status
}

// persist writes breaker status best-effort; the in-memory state is
// authoritative and a failed write only costs observability.
func (r *BreakerRegistry) persist(serviceKey string, status *BreakerStatus) {
	if r.store == nil {
		return
	}
	if err := r.store.PutBreakerStatus(serviceKey, status, r.cfg.StatusTTL()); err != nil {
		logger.Debugw("Failed to persist breaker status", "service", serviceKey, "error", err)
	}
}

func (r *BreakerRegistry) alert(serviceKey string, status *BreakerStatus) {
	if r.store == nil {
		return
	}
	alert := &Alert{
		ID:         uuid.NewString(),
		Severity:   "warning",
		ServiceKey: serviceKey,
		Message:    "circuit breaker opened after consecutive failures",
		CreatedAt:  r.timeNow().UTC(),
	}
	if status.FailureCount >= r.cfg.FailureThreshold*2 {
		alert.Severity = "critical"
	}
	if err := r.store.PutAlert(alert, 24*time.Hour); err != nil {
		logger.Debugw("Failed to persist breaker alert", "service", serviceKey, "error", err)
	}
}

// ExecuteWithRetry runs fn up to maxRetries+1 times, backing off between
// attempts per the retry policy. Non-retryable errors return immediately
// without consuming the remaining budget.
func (r *BreakerRegistry) ExecuteWithRetry(ctx context.Context, fn func() error, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt > maxRetries {
			break
		}

		delay := r.policy.Delay(attempt)
		logger.Debugw("Retrying after failure",
			"attempt", attempt,
			"max_retries", maxRetries,
			"delay", delay,
			"error", lastErr,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return errors.Wrapf(lastErr, "exhausted %d retries", maxRetries)
}

// ExecuteWithFullProtection nests retry inside the breaker: a run of
// failed attempts counts as a single breaker failure, and an open breaker
// rejects before any attempt is made.
func (r *BreakerRegistry) ExecuteWithFullProtection(ctx context.Context, serviceKey string, fn func() error, maxRetries int) error {
	return r.ExecuteWithCircuitBreaker(serviceKey, func() error {
		return r.ExecuteWithRetry(ctx, fn, maxRetries)
	})
}

// Status returns the current snapshot for one service key, or nil if no
// breaker exists for it yet.
func (r *BreakerRegistry) Status(serviceKey string) *BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[serviceKey]
	if !ok {
		return nil
	}
	return b.snapshot()
}

// AllCircuitBreakers returns snapshots for every known breaker
func (r *BreakerRegistry) AllCircuitBreakers() map[string]*BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*BreakerStatus, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = b.snapshot()
	}
	return out
}

// ResetCircuitBreaker forces the breaker for serviceKey back to closed
// with zeroed counters. Intended for operator use after a fix is deployed.
func (r *BreakerRegistry) ResetCircuitBreaker(serviceKey string) {
	r.mu.Lock()
	b := r.get(serviceKey)
	b.state = BreakerClosed
	b.failureCount = 0
	b.successCount = 0
	b.totalRequests = 0
	b.lastFailureTime = nil
	b.nextAttemptTime = nil
	b.trialInFlight = false
	status := b.snapshot()
	r.mu.Unlock()

	logger.Infow("Circuit breaker reset", "service", serviceKey)
	r.persist(serviceKey, status)
}

// BreakerSummary aggregates breaker health across all service keys
type BreakerSummary struct {
	Total    int `json:"total"`
	Closed   int `json:"closed"`
	Open     int `json:"open"`
	HalfOpen int `json:"half_open"`
}

// Summary counts breakers by state
func (r *BreakerRegistry) Summary() BreakerSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := BreakerSummary{Total: len(r.breakers)}
	for _, b := range r.breakers {
		switch b.state {
		case BreakerClosed:
			summary.Closed++
		case BreakerOpen:
			summary.Open++
		case BreakerHalfOpen:
			summary.HalfOpen++
		}
	}
	return summary
}
