// Package graceful guards process shutdown with a hard deadline.
//
// Once shutdown begins, components get a grace window to unwind. If the
// window elapses the watchdog force-exits with status 1 so a stuck job or
// transport can never wedge the process under systemd.
package graceful

import (
	"context"
	"os"
	"sync"
	"time"

	"pacer/pkg/logx"
)

// seam for tests
var exitFn = os.Exit

// Arm installs a shutdown watchdog. The countdown starts when ctx is
// cancelled. Call the returned disarm once cleanup finished in time;
// it is safe to call multiple times.
func Arm(ctx context.Context, grace time.Duration, log logx.Logger) (disarm func()) {
	if grace <= 0 {
		grace = 10 * time.Second
	}

	done := make(chan struct{})
	var once sync.Once
	disarm = func() { once.Do(func() { close(done) }) }

	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			log.Error("shutdown grace period exceeded, forcing exit", logx.Duration("grace", grace))
			exitFn(1)
		}
	}()

	return disarm
}
