// Package scheduler provides asynchronous job scheduling with bounded
// concurrency, priority admission, retry with backoff, and circuit-breaker
// protection for downstream calls.
package scheduler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
)

// JobType identifies which handler executes a job
type JobType string

const (
	JobTypeGapAnalysis      JobType = "gap_analysis"
	JobTypeTeamAnalysis     JobType = "team_analysis"
	JobTypeTrendComputation JobType = "trend_computation"
	JobTypeBulkImport       JobType = "bulk_import"
	JobTypeReportGeneration JobType = "report_generation"
)

// IsValidType returns true if the string names a known job type
func IsValidType(s string) bool {
	switch JobType(s) {
	case JobTypeGapAnalysis, JobTypeTeamAnalysis, JobTypeTrendComputation,
		JobTypeBulkImport, JobTypeReportGeneration:
		return true
	default:
		return false
	}
}

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPriority orders admission within a poll cycle. It never preempts
// running work.
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// IsValidPriority returns true if the string names a known priority band
func IsValidPriority(s string) bool {
	switch JobPriority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

// Job represents a unit of deferred work.
//
// The scheduler is domain-agnostic: Payload is opaque, type-specific input
// owned by the handler that executes the job. Job records are owned by the
// Store; the scheduler holds only transient references while executing.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Owner       string          `json:"owner"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    JobPriority     `json:"priority"`
	MaxRetries  int             `json:"max_retries"`
	Attempts    int             `json:"attempts"` // Execution attempts started; invariant: Attempts <= MaxRetries+1
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"` // 0-100, non-decreasing within an attempt, reset on retry
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`

	// EstimatedDurationMs is a caller-supplied hint. The executor widens
	// the per-job timeout when the estimate exceeds it.
	EstimatedDurationMs int `json:"estimated_duration_ms,omitempty"`
}

// SubmitOptions carries optional submission parameters
type SubmitOptions struct {
	Priority          JobPriority   // Defaults to PriorityNormal
	MaxRetries        *int          // Defaults to the scheduler's configured ceiling
	EstimatedDuration time.Duration // Hint only
}

// NewJob constructs a pending job for the given type, owner and payload
func NewJob(jobType JobType, owner string, payload json.RawMessage, opts SubmitOptions, defaultMaxRetries int) (*Job, error) {
	if !IsValidType(string(jobType)) {
		return nil, errors.Mark(errors.Newf("unknown job type: %s", jobType), ErrUnknownJobType)
	}
	if owner == "" {
		owner = "system"
	}

	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !IsValidPriority(string(priority)) {
		return nil, errors.NewInvalidRequestError("invalid priority: %s", priority)
	}

	maxRetries := defaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}
	if maxRetries < 0 {
		return nil, errors.NewInvalidRequestError("max retries must be >= 0, got %d", maxRetries)
	}

	now := time.Now()
	return &Job{
		ID:                  uuid.NewString(),
		Type:                jobType,
		Owner:               owner,
		Payload:             payload,
		Priority:            priority,
		MaxRetries:          maxRetries,
		Attempts:            0,
		Status:              JobStatusPending,
		Progress:            0,
		CreatedAt:           now,
		UpdatedAt:           now,
		EstimatedDurationMs: int(opts.EstimatedDuration / time.Millisecond),
	}, nil
}

// Start marks the job as processing and counts the execution attempt
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.Attempts++
	j.Progress = 0
	j.StartedAt = &now
	j.NextRetryAt = nil
	j.UpdatedAt = now
}

// Complete marks the job as completed with its result
func (j *Job) Complete(result json.RawMessage) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as terminally failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.Result = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// ScheduleRetry returns the job to pending, gated until nextRetryAt.
// The attempt that just failed stays counted in Attempts.
func (j *Job) ScheduleRetry(delay time.Duration, cause error) {
	now := time.Now()
	retryAt := now.Add(delay)
	j.Status = JobStatusPending
	j.Progress = 0
	j.Error = cause.Error()
	j.NextRetryAt = &retryAt
	j.UpdatedAt = now
}

// Requeue returns the job to pending without consuming retry budget.
// Used when execution was interrupted by shutdown rather than failure.
func (j *Job) Requeue() {
	j.Status = JobStatusPending
	j.Progress = 0
	j.Error = ""
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.StartedAt = nil
	j.UpdatedAt = time.Now()
}

// PriorityWeights maps each priority band to its admission weight
type PriorityWeights struct {
	High   int
	Normal int
	Low    int
}

// DefaultPriorityWeights returns the standard high=3, normal=2, low=1 ordering
func DefaultPriorityWeights() PriorityWeights {
	return PriorityWeights{High: 3, Normal: 2, Low: 1}
}

// Weight returns the admission weight for a priority band
func (w PriorityWeights) Weight(p JobPriority) int {
	switch p {
	case PriorityHigh:
		return w.High
	case PriorityLow:
		return w.Low
	default:
		return w.Normal
	}
}
