package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "pacer/pkg/logx"
)

// Store is the minimal persistence API used by the daemon.
//
// RecordRun appends to the history and advances the job's last-run
// checkpoint in one call. RecentRuns returns newest-first; an empty job
// matches every job.
type Store interface {
	RecordRun(ctx context.Context, r RunRecord) error
	LastRun(ctx context.Context, job string) (at time.Time, ok bool, err error)
	RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
