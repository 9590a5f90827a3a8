package effects

import (
	"context"
	"errors"
	"fmt"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrorKind is a closed classification of handler failures. Retry decisions
// match on kinds rather than concrete error types, so handlers from different
// transports (HTTP, database, filesystem, queue) share one retry vocabulary.
type ErrorKind string

const (
	// KindUnknown is the fallback for errors that carry no kind information.
	KindUnknown ErrorKind = "unknown"

	// KindTimeout covers deadline and timeout failures.
	KindTimeout ErrorKind = "timeout"

	// KindUnavailable covers transient downstream outages (connection refused,
	// 503-style responses, broker unreachable).
	KindUnavailable ErrorKind = "unavailable"

	// KindRateLimited covers throttling responses.
	KindRateLimited ErrorKind = "rate_limited"

	// KindConflict covers optimistic-concurrency and duplicate-write failures.
	KindConflict ErrorKind = "conflict"

	// KindValidation covers malformed or rejected input. Almost never retryable.
	KindValidation ErrorKind = "validation"

	// KindNotFound covers missing-resource failures.
	KindNotFound ErrorKind = "not_found"

	// KindInternal covers downstream server-side faults.
	KindInternal ErrorKind = "internal"
)

// ErrDeadlineExhausted is returned when a retry deadline expires before the
// executor could complete a single attempt.
var ErrDeadlineExhausted = errors.New("retry deadline exhausted before first attempt")

// Kinder is implemented by errors that classify themselves.
// Handler layers should attach kinds to their errors, either by implementing
// this interface or by wrapping with WrapKind.
type Kinder interface {
	Kind() ErrorKind
}

// KindError wraps an error with an ErrorKind.
type KindError struct {
	Err error
	K   ErrorKind
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %s", e.K, e.Err.Error())
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *KindError) Unwrap() error {
	return e.Err
}

// Kind returns the attached error kind.
func (e *KindError) Kind() ErrorKind {
	return e.K
}

// WrapKind attaches a kind to an existing error.
//
// Example:
//
//	if err := db.Exec(ctx, stmt); err != nil {
//	    return effects.WrapKind(effects.KindUnavailable, err)
//	}
func WrapKind(kind ErrorKind, err error) error {
	return &KindError{K: kind, Err: err}
}

// KindOf extracts the kind of an error. It checks, in order: a Kinder in the
// wrap chain, context cancellation/deadline errors, and the jp-go-errors
// timeout and rate-limit classifications. Unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var kinder Kinder
	if errors.As(err, &kinder) {
		return kinder.Kind()
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	if jperrors.IsTimeout(err) {
		return KindTimeout
	}
	if errors.Is(err, jperrors.ErrRateLimited) {
		return KindRateLimited
	}

	return KindUnknown
}

// containsKind checks whether a kind is in the list.
func containsKind(kinds []ErrorKind, kind ErrorKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
