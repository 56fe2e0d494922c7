package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig reports a bad Config passed to New.
	ErrInvalidConfig = errors.New("sched: invalid config")

	// ErrInvalidDelay reports a negative delay or non-positive period.
	ErrInvalidDelay = errors.New("sched: invalid delay")

	// ErrNilAction reports a missing action callback.
	ErrNilAction = errors.New("sched: nil action")

	// ErrNotFound reports a cancel target that is not queued (or a
	// periodic job that was already cancelled).
	ErrNotFound = errors.New("sched: event not found")

	// ErrRunning reports a second concurrent Run call.
	ErrRunning = errors.New("sched: already running")
)

// ActionError wraps a failure (returned error or recovered panic) of a
// dispatched action.
type ActionError struct {
	ID    uint64
	Label string
	Err   error
}

func (e *ActionError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("action %q failed: %v", e.Label, e.Err)
	}
	return fmt.Sprintf("action #%d failed: %v", e.ID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
