package eventbus

import "time"

// Event types published by the scheduling pipeline.
const (
	TypeJobRun         = "job.run"
	TypeJobError       = "job.error"
	TypeDriftCorrected = "drift.corrected"
	TypeScheduleInsert = "schedule.insert"
	TypeScheduleCancel = "schedule.cancel"
)

// JobRun is published after every job execution, success or failure.
type JobRun struct {
	Job      string
	Started  time.Time
	Duration time.Duration
	Err      string
}

// JobError is published when a job returns an error or panics. It carries
// the message the notifier forwards to the error report.
type JobError struct {
	Job string
	Msg string
}

// DriftCorrected is published when the dispatcher pushed back queued
// events to restore minimum spacing after a late dispatch.
type DriftCorrected struct {
	Job     string
	Late    time.Duration
	Shifted int
}

// ScheduleInsert notes where a new event was slotted.
type ScheduleInsert struct {
	Job       string
	Requested time.Duration
	Effective time.Duration
	Periodic  bool
}

// ScheduleCancel notes a cancellation, including ones that raced a dispatch.
type ScheduleCancel struct {
	Job   string
	Found bool
}
