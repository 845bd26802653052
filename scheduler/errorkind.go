package scheduler

import (
	"context"
	"strings"

	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
)

// ErrorKind classifies a job execution failure. The kind decides both the
// HTTP-ish severity reported to callers and whether the scheduler retries.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindForbidden      ErrorKind = "forbidden"
	KindNotFound       ErrorKind = "not_found"
	KindUnknownJobType ErrorKind = "unknown_job_type"
	KindTimeout        ErrorKind = "timeout"
	KindTransient      ErrorKind = "transient"
	KindBreakerOpen    ErrorKind = "breaker_open"
	KindUnknown        ErrorKind = "unknown"
)

// Sentinel markers for scheduler-originated failures. Handlers should
// mark their own errors with WithKind; these cover the scheduler's side.
var (
	ErrUnknownJobType    = errors.New("unknown job type")
	ErrJobTimeout        = errors.New("job execution timed out")
	ErrBreakerOpen       = errors.New("circuit breaker is open")
	ErrAlreadyProcessing = errors.New("job is already processing")
	ErrAlreadyTerminal   = errors.New("job is already in a terminal state")
)

// kindedError attaches an ErrorKind to a cause without losing the chain
type kindedError struct {
	kind  ErrorKind
	cause error
}

func (e *kindedError) Error() string { return e.cause.Error() }
func (e *kindedError) Unwrap() error { return e.cause }

// WithKind marks err with an explicit classification. Returns nil for nil.
func WithKind(err error, kind ErrorKind) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, cause: err}
}

// NewKinded creates a classified error from a format string
func NewKinded(kind ErrorKind, format string, args ...interface{}) error {
	return WithKind(errors.Newf(format, args...), kind)
}

// KindOf classifies err. An explicit WithKind mark anywhere in the chain is
// authoritative; otherwise sentinels and context errors are checked, and as
// a last resort the message text is matched for errors crossing process or
// serialization boundaries that stripped their types.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var kinded *kindedError
	if errors.As(err, &kinded) {
		return kinded.kind
	}

	switch {
	case errors.Is(err, ErrUnknownJobType):
		return KindUnknownJobType
	case errors.Is(err, ErrBreakerOpen):
		return KindBreakerOpen
	case errors.Is(err, ErrJobTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return KindTimeout
	case errors.Is(err, errors.ErrInvalidRequest):
		return KindValidation
	case errors.Is(err, errors.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, errors.ErrForbidden):
		return KindForbidden
	case errors.Is(err, errors.ErrNotFound):
		return KindNotFound
	}

	return classifyMessage(err.Error())
}

// classifyMessage is the fallback for untyped errors. Substring matching is
// inherently fragile; handlers that care should mark errors with WithKind.
func classifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "validation"), strings.Contains(lower, "invalid"):
		return KindValidation
	case strings.Contains(lower, "unauthorized"):
		return KindUnauthorized
	case strings.Contains(lower, "forbidden"):
		return KindForbidden
	case strings.Contains(lower, "not found"):
		return KindNotFound
	case strings.Contains(lower, "unknown job type"):
		return KindUnknownJobType
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(lower, "circuit breaker is open"):
		return KindBreakerOpen
	case strings.Contains(lower, "connection"), strings.Contains(lower, "temporarily"), strings.Contains(lower, "unavailable"):
		return KindTransient
	}
	return KindUnknown
}

// IsRetryable reports whether a failure of this kind should consume a retry
// attempt. Caller mistakes (validation, auth, unknown type) never retry;
// unknown failures retry because transient infrastructure errors routinely
// surface untyped.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case KindValidation, KindUnauthorized, KindForbidden, KindNotFound, KindUnknownJobType:
		return false
	case KindTimeout, KindTransient, KindBreakerOpen, KindUnknown:
		return true
	}
	return true
}

// IsRetryableError classifies err and reports whether it warrants a retry
func IsRetryableError(err error) bool {
	return KindOf(err).IsRetryable()
}
