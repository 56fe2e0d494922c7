package sched

import (
	"time"

	"pacer/pkg/logx"
)

// PeriodicJob is the reinsertion chain of a recurring action. After each
// run the dispatcher queues the next occurrence one period out (subject
// to the usual slot search), until the job is cancelled.
type PeriodicJob struct {
	s        *Scheduler
	period   time.Duration
	priority int
	label    string
	action   Action

	// guarded by s.mu
	cancelled bool
	pendingID uint64
}

func (j *PeriodicJob) Period() time.Duration { return j.period }
func (j *PeriodicJob) Label() string         { return j.label }

// Cancel stops the chain. A queued occurrence is removed; an occurrence
// currently executing finishes but is not reinserted. Returns ErrNotFound
// when the job was already cancelled.
func (j *PeriodicJob) Cancel() error {
	if j == nil || j.s == nil {
		return ErrNotFound
	}
	s := j.s

	s.mu.Lock()
	if j.cancelled {
		s.mu.Unlock()
		return ErrNotFound
	}
	j.cancelled = true
	removed := false
	if j.pendingID != 0 {
		removed = s.q.removeByID(j.pendingID) != nil
		j.pendingID = 0
	}
	s.mu.Unlock()

	if removed {
		s.notifyWake()
	}
	s.log.Debug("periodic job cancelled",
		logx.String("label", j.label),
		logx.Bool("was_queued", removed))
	return nil
}
