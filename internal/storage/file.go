package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "pacer/pkg/logx"
)

// compactEvery bounds journal growth: after this many checkpoint writes the
// journal is folded into the snapshot and truncated.
const compactEvery = 64

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl             (append-only JSON Lines history)
//   - <prefix>.lastrun.snapshot.json  (job -> last run, unix milli)
//   - <prefix>.lastrun.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot. The history file
// is append-only and unbounded; RecentRuns scans it with a bounded window.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath string
	runsFile *os.File

	lastSnapshotPath string
	lastJournalFile  *os.File
	lastRun          map[string]int64 // unix milli

	lastWrites int
}

type lastRunRecord struct {
	Job string `json:"job"`
	At  int64  `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	snapPath := prefix + ".lastrun.snapshot.json"
	journalPath := prefix + ".lastrun.journal.jsonl"

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Rebuild the checkpoint map from snapshot + journal.
	last := map[string]int64{}
	_ = loadLastRunSnapshot(snapPath, last)
	_ = replayLastRunJournal(journalPath, last)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:              log,
		runsPath:         runsPath,
		runsFile:         rf,
		lastSnapshotPath: snapPath,
		lastJournalFile:  jf,
		lastRun:          last,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.runsFile != nil {
		err1 = s.runsFile.Close()
		s.runsFile = nil
	}
	if s.lastJournalFile != nil {
		err2 = s.lastJournalFile.Close()
		s.lastJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) RecordRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	job := strings.TrimSpace(r.Job)
	if job == "" {
		return nil
	}
	r.Job = job
	if r.Started.IsZero() {
		r.Started = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil || s.lastJournalFile == nil {
		return errors.New("file store closed")
	}

	if err := json.NewEncoder(s.runsFile).Encode(r); err != nil {
		return err
	}

	// Advance the checkpoint only forward; an out-of-order record must not
	// rewind catch-up.
	ms := r.Started.UnixMilli()
	if prev, ok := s.lastRun[job]; ok && prev >= ms {
		return nil
	}
	if s.lastRun == nil {
		s.lastRun = map[string]int64{}
	}
	s.lastRun[job] = ms

	if err := json.NewEncoder(s.lastJournalFile).Encode(lastRunRecord{Job: job, At: ms}); err != nil {
		return err
	}
	s.lastWrites++
	if s.lastWrites%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("lastrun compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LastRun(ctx context.Context, job string) (time.Time, bool, error) {
	_ = ctx
	job = strings.TrimSpace(job)
	if job == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.lastRun[job]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	_ = ctx
	job = strings.TrimSpace(job)
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	path := s.runsPath
	closed := s.runsFile == nil
	s.mu.Unlock()
	if closed {
		return nil, errors.New("file store closed")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Keep the last `limit` matches in a ring while scanning forward.
	ring := make([]RunRecord, 0, limit)
	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Job == "" || (job != "" && r.Job != job) {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
		} else {
			ring[count%limit] = r
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// Unwrap to chronological order, then flip to newest-first.
	var chron []RunRecord
	if count > limit {
		start := count % limit
		chron = append(chron, ring[start:]...)
		chron = append(chron, ring[:start]...)
	} else {
		chron = ring
	}
	out := make([]RunRecord, 0, len(chron))
	for i := len(chron) - 1; i >= 0; i-- {
		out = append(out, chron[i])
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	if s.lastRun == nil {
		return nil
	}

	tmp := s.lastSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.lastRun); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.lastSnapshotPath); err != nil {
		return err
	}
	// Truncate the journal now that the snapshot covers it.
	if err := s.lastJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.lastJournalFile.Seek(0, io.SeekEnd)
	return err
}

func loadLastRunSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayLastRunJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r lastRunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Job == "" {
			continue
		}
		out[r.Job] = r.At
	}
	return sc.Err()
}
