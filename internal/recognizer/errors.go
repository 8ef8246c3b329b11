package recognizer

import (
	"errors"
	"fmt"
)

// Kind classifies recognition failures for retry policy.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindBackpressure Kind = "backpressure"
	KindModelFailure Kind = "model_failure"
)

// Error is a window-level recognition failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recognition %s", e.Kind)
	}
	return fmt.Sprintf("recognition %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth one retry with the same
// samples. Model failures are not retried.
func (e *Error) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindBackpressure
}

// KindOf extracts the failure kind, defaulting to model failure for errors
// that did not originate in the dispatcher.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindModelFailure
}

// ErrClosed is returned for submissions after the dispatcher shut down.
var ErrClosed = errors.New("recognition dispatcher closed")
