package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Pprof     *PprofConfig    `json:"pprof,omitempty"`
	Jobs      []JobConfig     `json:"jobs"`
}

// TelegramConfig holds the outbound bot credentials. pacerd never polls for
// updates; the bot is used only as a sink for log lines and notifier alerts.
// An empty token disables the transport entirely.
type TelegramConfig struct {
	Token string `json:"token"`
	// SendTimeout is a Go duration string (e.g. "10s") applied per send call.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls dispatch spacing for the core scheduler.
//
// MinDelay and StartupSpread are Go duration strings. BufferFactor scales
// MinDelay when placing events (0 means the built-in default, 1.05); the
// unscaled MinDelay still decides when a late dispatch triggers push-back.
//
// Changing min_delay or buffer_factor at runtime is not supported: a reload
// that touches them is accepted but takes effect on the next restart.
type SchedulerConfig struct {
	MinDelay     string  `json:"min_delay"`
	BufferFactor float64 `json:"buffer_factor,omitempty"`

	// StartupSpread bounds the random jitter added to the first occurrence of
	// interval jobs that don't use catch-up. "0s" disables spreading.
	StartupSpread string `json:"startup_spread,omitempty"`

	// Timezone for cron expressions ("Local" when empty).
	Timezone string `json:"timezone,omitempty"`
}

// NotifyConfig controls the status/error files and the alert pipeline.
//
// Durations are Go duration strings. Name prefixes the alert text sent to
// sinks ("<name>: Check notification file").
type NotifyConfig struct {
	StatusFile string `json:"status_file"`
	ErrorFile  string `json:"error_file"`
	Name       string `json:"name,omitempty"`

	// FlushInterval is the cadence of the periodic flush loop (default "1m").
	FlushInterval string `json:"flush_interval,omitempty"`

	// AlertMinInterval rate-limits outbound alerts (default "30s").
	AlertMinInterval string `json:"alert_min_interval,omitempty"`

	// AlertChatID is the Telegram chat receiving alerts. 0 disables the sink.
	AlertChatID   int64 `json:"alert_chat_id,omitempty"`
	AlertThreadID int   `json:"alert_thread_id,omitempty"`

	// HistorySize bounds the in-memory run history (default 200).
	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls run-history persistence.
//
// Driver is "file", "sqlite" or "none" (empty means none). The sqlite driver
// requires building with the `sqlite` tag.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./pacer_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional profiling HTTP server. An omitted
// section means disabled. Binding to a non-loopback address requires token
// or allow_insecure; the server refuses to start otherwise.
//
// Durations are Go duration strings. The profile rates map onto the
// runtime knobs; 0 keeps the Go default.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// JobConfig declares one scheduled job.
//
// Spec formats:
//   - "every:<duration>"  fixed period (e.g. "every:15m")
//   - "cron:<expr>"       standard 5-field cron expression
//   - "@hourly" etc.      cron descriptors
//
// Enabled is a pointer so an omitted field defaults to true while an explicit
// false still parses. CatchUp feeds the stored last-run time into insertion
// so a job overdue across a restart fires as soon as spacing allows.
type JobConfig struct {
	Name     string `json:"name"`
	Spec     string `json:"spec"`
	Action   string `json:"action"`
	Priority int    `json:"priority,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
	CatchUp  bool   `json:"catch_up,omitempty"`

	// Config is the action-specific blob, decoded by the action itself.
	Config json.RawMessage `json:"config,omitempty"`
}

// On reloads a silently ignored key in a job block would change behavior
// without any signal, so job blocks reject unknown fields like the top level.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type plain JobConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*j = JobConfig(p)
	return nil
}

// JobEnabled reports the effective enabled state (omitted means enabled).
func (j *JobConfig) JobEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}
