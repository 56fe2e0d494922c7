package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one completed job execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	Job     string    `json:"job"`
	Action  string    `json:"action,omitempty"`
	Started time.Time `json:"started"`
	TookMS  int64     `json:"took_ms"`
	OK      bool      `json:"ok"`
	Error   string    `json:"err,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}
