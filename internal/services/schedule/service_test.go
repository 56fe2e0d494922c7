package schedule

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pacer/internal/config"
	"pacer/internal/eventbus"
	"pacer/internal/jobs"
	"pacer/internal/storage"
	"pacer/pkg/logx"
	"pacer/pkg/sched"
)

type fakeStore struct {
	mu      sync.Mutex
	records []storage.RunRecord
	last    map[string]time.Time
}

func (f *fakeStore) RecordRun(ctx context.Context, r storage.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

func (f *fakeStore) LastRun(ctx context.Context, job string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.last[job]
	return at, ok, nil
}

func (f *fakeStore) RecentRuns(ctx context.Context, job string, limit int) ([]storage.RunRecord, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) recorded() []storage.RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.RunRecord(nil), f.records...)
}

func testRegistry(t *testing.T, runs *atomic.Int32) *jobs.Registry {
	t.Helper()
	reg := jobs.NewRegistry()
	err := reg.Register("test", func(raw json.RawMessage, deps jobs.Deps) (jobs.RunFunc, error) {
		return func(ctx context.Context) (string, error) {
			if runs != nil {
				runs.Add(1)
			}
			return "ok", nil
		}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newTestService(t *testing.T, store storage.Store, bus eventbus.Bus, runs *atomic.Int32, opts Options) (*Service, *sched.Scheduler) {
	t.Helper()
	core, err := sched.New(sched.Config{MinDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(Deps{
		Core:     core,
		Registry: testRegistry(t, runs),
		Store:    store,
		Bus:      bus,
		Log:      logx.Nop(),
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	return svc, core
}

func snapshotIDs(core *sched.Scheduler) map[string]uint64 {
	out := map[string]uint64{}
	for _, info := range core.Snapshot() {
		out[info.Label] = info.ID
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func TestApplyJobsSchedulesConfiguredJobs(t *testing.T) {
	svc, core := newTestService(t, nil, nil, nil, Options{})
	cfgs := []config.JobConfig{
		{Name: "alpha", Spec: "every:1h", Action: "test", Priority: 1},
		{Name: "beta", Spec: "cron:30 4 * * *", Action: "test", Priority: 2},
	}
	if err := svc.ApplyJobs(context.Background(), cfgs); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if core.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", core.Len())
	}

	jobsList := svc.Jobs()
	if len(jobsList) != 2 || jobsList[0].Name != "alpha" || jobsList[1].Name != "beta" {
		t.Fatalf("jobs = %+v", jobsList)
	}
	if !jobsList[0].Periodic || jobsList[1].Periodic {
		t.Fatalf("kind flags wrong: %+v", jobsList)
	}
}

func TestApplyJobsKeepsUnchangedSlots(t *testing.T) {
	svc, core := newTestService(t, nil, nil, nil, Options{})
	cfgs := []config.JobConfig{
		{Name: "alpha", Spec: "every:1h", Action: "test"},
		{Name: "beta", Spec: "every:2h", Action: "test"},
	}
	ctx := context.Background()
	if err := svc.ApplyJobs(ctx, cfgs); err != nil {
		t.Fatal(err)
	}
	before := snapshotIDs(core)

	// Identical reapply must not move anything.
	if err := svc.ApplyJobs(ctx, cfgs); err != nil {
		t.Fatal(err)
	}
	after := snapshotIDs(core)
	if before["alpha"] != after["alpha"] || before["beta"] != after["beta"] {
		t.Fatalf("unchanged jobs were rescheduled: %v -> %v", before, after)
	}

	// Changing one job reschedules it and leaves the other alone.
	cfgs[0].Spec = "every:90m"
	if err := svc.ApplyJobs(ctx, cfgs); err != nil {
		t.Fatal(err)
	}
	final := snapshotIDs(core)
	if final["alpha"] == after["alpha"] {
		t.Fatal("changed job kept its old event")
	}
	if final["beta"] != after["beta"] {
		t.Fatal("untouched job was rescheduled")
	}
}

func TestApplyJobsRemovesAndDisables(t *testing.T) {
	svc, core := newTestService(t, nil, nil, nil, Options{})
	ctx := context.Background()
	cfgs := []config.JobConfig{
		{Name: "alpha", Spec: "every:1h", Action: "test"},
		{Name: "beta", Spec: "every:2h", Action: "test"},
	}
	if err := svc.ApplyJobs(ctx, cfgs); err != nil {
		t.Fatal(err)
	}

	if err := svc.ApplyJobs(ctx, cfgs[1:]); err != nil {
		t.Fatal(err)
	}
	if ids := snapshotIDs(core); len(ids) != 1 || ids["beta"] == 0 {
		t.Fatalf("expected only beta queued, got %v", ids)
	}

	cfgs[1].Enabled = boolPtr(false)
	if err := svc.ApplyJobs(ctx, cfgs[1:]); err != nil {
		t.Fatal(err)
	}
	if core.Len() != 0 {
		t.Fatalf("disabled job still queued, len = %d", core.Len())
	}
}

func TestApplyJobsReportsBadJobs(t *testing.T) {
	svc, core := newTestService(t, nil, nil, nil, Options{})
	cfgs := []config.JobConfig{
		{Name: "good", Spec: "every:1h", Action: "test"},
		{Name: "ghost", Spec: "every:1h", Action: "missing"},
	}
	err := svc.ApplyJobs(context.Background(), cfgs)
	if err == nil || !strings.Contains(err.Error(), `job "ghost"`) {
		t.Fatalf("expected ghost job error, got %v", err)
	}
	// The good job must still be scheduled.
	if ids := snapshotIDs(core); ids["good"] == 0 {
		t.Fatalf("good job missing from queue: %v", ids)
	}
}

func TestValidateJobs(t *testing.T) {
	svc, _ := newTestService(t, nil, nil, nil, Options{})

	err := svc.ValidateJobs([]config.JobConfig{{Name: "x", Spec: "nonsense;;", Action: "test"}})
	if err == nil || !strings.Contains(err.Error(), `job "x"`) {
		t.Fatalf("bad spec should fail with job name: %v", err)
	}

	err = svc.ValidateJobs([]config.JobConfig{{Name: "y", Spec: "every:5m", Action: "missing"}})
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("unknown action should fail: %v", err)
	}

	err = svc.ValidateJobs([]config.JobConfig{{Name: "z", Spec: "every:5m", Action: "test"}})
	if err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
}

func TestCronChainReinserts(t *testing.T) {
	var runs atomic.Int32
	store := &fakeStore{}
	bus := eventbus.New()
	svc, core := newTestService(t, store, bus, &runs, Options{})

	ctx := context.Background()
	cfgs := []config.JobConfig{{Name: "tick", Spec: "cron:*/5 * * * *", Action: "test"}}
	if err := svc.ApplyJobs(ctx, cfgs); err != nil {
		t.Fatal(err)
	}
	e := svc.entries["tick"]
	oldID := e.handle.ID()

	ch, unsub := bus.Subscribe(16)
	defer unsub()

	// Drive one occurrence by hand, as the dispatcher would.
	if err := e.act(ctx); err != nil {
		t.Fatalf("act: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	if e.handle.ID() == oldID {
		t.Fatal("chain did not queue a new occurrence")
	}
	if core.Len() != 2 {
		t.Fatalf("queue length = %d, want 2 (stale + rechained)", core.Len())
	}

	recs := store.recorded()
	if len(recs) != 1 || recs[0].Job != "tick" || !recs[0].OK || recs[0].Detail != "ok" {
		t.Fatalf("run record wrong: %+v", recs)
	}

	types := map[string]bool{}
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types[ev.Type] = true
		default:
			t.Fatalf("missing events, saw %v", types)
		}
	}
	if !types[eventbus.TypeJobRun] || !types[eventbus.TypeScheduleInsert] {
		t.Fatalf("events = %v", types)
	}
}

func TestCronChainStopsAfterClose(t *testing.T) {
	var runs atomic.Int32
	svc, core := newTestService(t, nil, nil, &runs, Options{})
	ctx := context.Background()
	if err := svc.ApplyJobs(ctx, []config.JobConfig{{Name: "tick", Spec: "@hourly", Action: "test"}}); err != nil {
		t.Fatal(err)
	}
	e := svc.entries["tick"]

	svc.Close()
	if core.Len() != 0 {
		t.Fatalf("close left %d events queued", core.Len())
	}

	// A run finishing after close must not reinsert.
	if err := e.act(ctx); err != nil {
		t.Fatalf("act: %v", err)
	}
	if core.Len() != 0 {
		t.Fatalf("cancelled chain reinserted, len = %d", core.Len())
	}
}

func TestCatchUpSchedulesOverdueJobSoon(t *testing.T) {
	store := &fakeStore{last: map[string]time.Time{
		"lag": time.Now().Add(-2 * time.Hour),
	}}
	svc, core := newTestService(t, store, nil, nil, Options{})
	ctx := context.Background()

	if err := svc.ApplyJobs(ctx, []config.JobConfig{
		{Name: "lag", Spec: "every:1h", Action: "test", CatchUp: true},
	}); err != nil {
		t.Fatal(err)
	}
	info := core.Snapshot()[0]
	if d := time.Until(info.FireAt); d > 10*time.Minute {
		t.Fatalf("overdue job scheduled %v out, want near-immediate", d)
	}

	// Same job without catch-up starts a full period out.
	svc.Close()
	if err := svc.ApplyJobs(ctx, []config.JobConfig{
		{Name: "lag", Spec: "every:1h", Action: "test"},
	}); err != nil {
		t.Fatal(err)
	}
	info = core.Snapshot()[0]
	if d := time.Until(info.FireAt); d < 30*time.Minute {
		t.Fatalf("fresh job scheduled %v out, want about an hour", d)
	}
}

func TestCronCatchUpFiresMissedOccurrence(t *testing.T) {
	store := &fakeStore{last: map[string]time.Time{
		"nightly": time.Now().Add(-3 * time.Hour),
	}}
	svc, core := newTestService(t, store, nil, nil, Options{})

	if err := svc.ApplyJobs(context.Background(), []config.JobConfig{
		{Name: "nightly", Spec: "@hourly", Action: "test", CatchUp: true},
	}); err != nil {
		t.Fatal(err)
	}
	info := core.Snapshot()[0]
	if d := time.Until(info.FireAt); d > 10*time.Minute {
		t.Fatalf("missed cron occurrence scheduled %v out, want near-immediate", d)
	}
}

func TestStartupSpread(t *testing.T) {
	svc, core := newTestService(t, nil, nil, nil, Options{StartupSpread: 30 * time.Second})

	j1 := svc.jitterFor("alpha", time.Hour)
	j2 := svc.jitterFor("alpha", time.Hour)
	if j1 != j2 {
		t.Fatalf("jitter not deterministic: %v vs %v", j1, j2)
	}
	if j1 < 0 || j1 >= 30*time.Second {
		t.Fatalf("jitter out of range: %v", j1)
	}
	if j := svc.jitterFor("alpha", 10*time.Second); j >= 10*time.Second {
		t.Fatalf("jitter not capped by period: %v", j)
	}

	// First occurrence lands between one period and period+spread out.
	if err := svc.ApplyJobs(context.Background(), []config.JobConfig{
		{Name: "alpha", Spec: "every:1h", Action: "test"},
	}); err != nil {
		t.Fatal(err)
	}
	d := time.Until(core.Snapshot()[0].FireAt)
	if d < time.Hour-5*time.Second || d > time.Hour+35*time.Second {
		t.Fatalf("first occurrence %v out, want within [1h, 1h30s]", d)
	}

	none, _ := newTestService(t, nil, nil, nil, Options{})
	if j := none.jitterFor("alpha", time.Hour); j != 0 {
		t.Fatalf("spread disabled should give zero jitter, got %v", j)
	}
}
