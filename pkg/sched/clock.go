package sched

import (
	"context"
	"time"
)

// WaitResult tells the dispatcher why a wait ended.
type WaitResult int

const (
	// WaitElapsed: the target time was reached.
	WaitElapsed WaitResult = iota
	// WaitWoken: the wake channel fired (queue head may have changed).
	WaitWoken
	// WaitInterrupted: the context was cancelled.
	WaitInterrupted
)

// Clock abstracts time for the scheduler. The real clock sleeps with a
// timer; tests substitute a manual clock to step through scenarios
// deterministically.
type Clock interface {
	Now() time.Time

	// WaitUntil blocks until t is reached, wake fires, or ctx is done.
	// A target at or before Now returns WaitElapsed immediately.
	WaitUntil(ctx context.Context, t time.Time, wake <-chan struct{}) WaitResult
}

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) WaitUntil(ctx context.Context, t time.Time, wake <-chan struct{}) WaitResult {
	d := time.Until(t)
	if d <= 0 {
		return WaitElapsed
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return WaitInterrupted
	case <-wake:
		return WaitWoken
	case <-timer.C:
		return WaitElapsed
	}
}
