package storage

// Package storage persists job run history and last-run checkpoints.
//
// The checkpoints feed catch-up scheduling after a restart; the history
// backs status snapshots. Schedule state itself is never persisted.
