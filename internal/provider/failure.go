package provider

import (
	"errors"
	"fmt"
)

// FailureKind classifies terminal provider failures.
type FailureKind string

const (
	// FailureTimeout means the channel's overall time budget elapsed,
	// retries included.
	FailureTimeout FailureKind = "timeout"
	// FailureExhausted means every retry attempt hit a transient error.
	FailureExhausted FailureKind = "exhausted-retries"
	// FailureRejected means the provider refused the request with a
	// non-transient error; retrying would not help.
	FailureRejected FailureKind = "provider-rejected"
)

// Failure is the classified error surfaced by a Generator. It carries the
// attempt count and the last underlying error for logging; it never
// carries prompt or response content.
type Failure struct {
	Kind     FailureKind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("provider %s after %d attempt(s): %v", f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
