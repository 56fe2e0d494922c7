// Package schedule binds the jobs declared in config onto the core
// scheduler: it parses specs, builds actions from the registry, applies
// catch-up and startup spread, and keeps the running set reconciled across
// config reloads.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"pacer/internal/config"
	"pacer/internal/eventbus"
	"pacer/internal/jobs"
	"pacer/internal/storage"
	"pacer/pkg/logx"
	"pacer/pkg/notify"
	"pacer/pkg/sched"
)

// Deps are the collaborators the service needs. Store and Bus may be nil;
// run recording and event publication are then skipped.
type Deps struct {
	Core     *sched.Scheduler
	Registry *jobs.Registry
	Store    storage.Store
	Bus      eventbus.Bus
	Reporter notify.Reporter
	Log      logx.Logger
}

type Options struct {
	// Location is the timezone cron expressions are evaluated in.
	// Defaults to the system timezone.
	Location *time.Location
	// StartupSpread caps the first-run jitter of interval jobs that start
	// without a catch-up anchor. 0 disables spreading.
	StartupSpread time.Duration
}

// Service owns the mapping from config job names to queued core events.
type Service struct {
	log      logx.Logger
	core     *sched.Scheduler
	registry *jobs.Registry
	store    storage.Store
	bus      eventbus.Bus
	reporter notify.Reporter

	loc    *time.Location
	spread time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// entry tracks one scheduled job. Interval jobs hold the periodic chain;
// cron jobs hold the handle of their currently queued occurrence.
type entry struct {
	cfg  config.JobConfig
	spec ParsedSpec
	act  sched.Action

	periodic  *sched.PeriodicJob
	handle    *sched.Handle
	cancelled bool
}

func New(deps Deps, opts Options) (*Service, error) {
	if deps.Core == nil {
		return nil, errors.New("schedule: core scheduler required")
	}
	if deps.Registry == nil {
		return nil, errors.New("schedule: action registry required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:      log,
		core:     deps.Core,
		registry: deps.Registry,
		store:    deps.Store,
		bus:      deps.Bus,
		reporter: deps.Reporter,
		loc:      loc,
		spread:   opts.StartupSpread,
		now:      time.Now,
		entries:  map[string]*entry{},
	}, nil
}

// ValidateJobs checks specs and action configs without touching the core.
// The config watcher runs this before committing a reload, so a typo in a
// job definition rejects the new config instead of killing the job.
func (s *Service) ValidateJobs(cfgs []config.JobConfig) error {
	nop := jobs.Deps{Log: logx.Nop()}
	for _, jc := range cfgs {
		if _, err := ParseSpec(jc.Spec); err != nil {
			return fmt.Errorf("job %q: %w", jc.Name, err)
		}
		if _, err := s.registry.Build(jc.Action, jc.Config, nop); err != nil {
			return fmt.Errorf("job %q: %w", jc.Name, err)
		}
	}
	return nil
}

// ApplyJobs reconciles the running job set against cfgs. Unchanged jobs
// keep their queue slot; changed ones are cancelled and reinserted, as are
// jobs that were re-enabled. Disabled and removed jobs are cancelled.
func (s *Service) ApplyJobs(ctx context.Context, cfgs []config.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[string]config.JobConfig, len(cfgs))
	for _, jc := range cfgs {
		if jc.JobEnabled() {
			desired[jc.Name] = jc
		}
	}

	// Cancel removed and changed jobs first so their slots are free before
	// replacements are inserted.
	for name, e := range s.entries {
		jc, keep := desired[name]
		if keep && !config.JobChanged(e.cfg, jc) {
			delete(desired, name)
			continue
		}
		s.cancelEntryLocked(e)
		delete(s.entries, name)
	}

	var errs []error
	for name, jc := range desired {
		e, err := s.startEntryLocked(ctx, jc)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", name, err))
			continue
		}
		s.entries[name] = e
	}
	return errors.Join(errs...)
}

// Close cancels every job, so no action chain reinserts behind a stopping
// dispatcher.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, e := range s.entries {
		s.cancelEntryLocked(e)
		delete(s.entries, name)
	}
}

// JobStatus is a point-in-time view of one scheduled job.
type JobStatus struct {
	Name     string
	Action   string
	Spec     string
	Periodic bool
}

// Jobs lists the currently scheduled jobs, sorted by name.
func (s *Service) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, JobStatus{
			Name:     e.cfg.Name,
			Action:   e.cfg.Action,
			Spec:     e.cfg.Spec,
			Periodic: e.spec.Kind == SpecInterval,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) startEntryLocked(ctx context.Context, jc config.JobConfig) (*entry, error) {
	spec, err := ParseSpec(jc.Spec)
	if err != nil {
		return nil, err
	}
	run, err := s.registry.Build(jc.Action, jc.Config, jobs.Deps{
		Log:      s.log.With(logx.String("job", jc.Name)),
		Reporter: s.reporter,
	})
	if err != nil {
		return nil, err
	}

	e := &entry{cfg: jc, spec: spec}
	e.act = s.instrument(e, run)

	now := s.now()
	var lastRun time.Time
	var haveLast bool
	if jc.CatchUp && s.store != nil {
		last, ok, lerr := s.store.LastRun(ctx, jc.Name)
		if lerr != nil {
			s.log.Warn("last run lookup failed",
				logx.String("job", jc.Name), logx.Err(lerr))
		} else if ok {
			lastRun, haveLast = last, true
		}
	}

	switch spec.Kind {
	case SpecInterval:
		var job *sched.PeriodicJob
		switch {
		case haveLast:
			job, err = s.core.MakePeriodicSince(spec.Every, jc.Priority, e.act, lastRun, sched.WithLabel(jc.Name))
		default:
			if jitter := s.jitterFor(jc.Name, spec.Every); jitter > 0 {
				// A future anchor counts the period from that instant,
				// which delays the first occurrence by the jitter.
				job, err = s.core.MakePeriodicSince(spec.Every, jc.Priority, e.act, now.Add(jitter), sched.WithLabel(jc.Name))
			} else {
				job, err = s.core.MakePeriodic(spec.Every, jc.Priority, e.act, sched.WithLabel(jc.Name))
			}
		}
		if err != nil {
			return nil, err
		}
		e.periodic = job
		s.publishInsert(jc.Name, spec.Every, true)

	case SpecCron:
		from := now
		if haveLast {
			from = lastRun
		}
		next := spec.Schedule.Next(from.In(s.loc))
		if next.IsZero() {
			return nil, fmt.Errorf("cron %q has no upcoming occurrence", spec.Expr)
		}
		delay := next.Sub(from)
		var h *sched.Handle
		if haveLast {
			// Counting the delay from the stored run means an occurrence
			// missed across a restart fires as soon as spacing allows.
			h, err = s.core.InsertSince(delay, jc.Priority, e.act, lastRun, sched.WithLabel(jc.Name))
		} else {
			h, err = s.core.Insert(delay, jc.Priority, e.act, sched.WithLabel(jc.Name))
		}
		if err != nil {
			return nil, err
		}
		e.handle = h
		s.publishInsert(jc.Name, delay, false)
	}

	s.log.Info("job scheduled",
		logx.String("job", jc.Name),
		logx.String("action", jc.Action),
		logx.String("spec", jc.Spec),
		logx.Int("priority", jc.Priority),
		logx.Bool("catch_up", haveLast))
	return e, nil
}

func (s *Service) cancelEntryLocked(e *entry) {
	e.cancelled = true
	found := false
	if e.periodic != nil {
		found = e.periodic.Cancel() == nil
	}
	if e.handle != nil && s.core.Cancel(e.handle) == nil {
		found = true
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeScheduleCancel,
			Data: eventbus.ScheduleCancel{Job: e.cfg.Name, Found: found},
		})
	}
	s.log.Debug("job cancelled",
		logx.String("job", e.cfg.Name), logx.Bool("was_queued", found))
}

// instrument wraps a job action with run recording and event publication.
// For cron jobs it also queues the next occurrence after each run.
func (s *Service) instrument(e *entry, run jobs.RunFunc) sched.Action {
	name := e.cfg.Name
	return func(ctx context.Context) error {
		started := s.now()
		detail, err := run(ctx)
		took := s.now().Sub(started)

		if s.store != nil {
			// Recording must survive shutdown cancellation; a run that
			// finished during stop still counts for catch-up.
			recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			rec := storage.RunRecord{
				Job:     name,
				Action:  e.cfg.Action,
				Started: started,
				TookMS:  took.Milliseconds(),
				OK:      err == nil,
				Detail:  detail,
			}
			if err != nil {
				rec.Error = err.Error()
			}
			if serr := s.store.RecordRun(recCtx, rec); serr != nil {
				s.log.Warn("cannot record run",
					logx.String("job", name), logx.Err(serr))
			}
			cancel()
		}

		if s.bus != nil {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeJobRun,
				Data: eventbus.JobRun{Job: name, Started: started, Duration: took, Err: msg},
			})
			if err != nil {
				s.bus.Publish(eventbus.Event{
					Type: eventbus.TypeJobError,
					Data: eventbus.JobError{Job: name, Msg: msg},
				})
			}
		}

		if e.spec.Kind == SpecCron {
			s.rechain(e)
		}
		return err
	}
}

// rechain queues the next cron occurrence. It runs on the dispatcher
// goroutine right after the previous occurrence finished.
func (s *Service) rechain(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.cancelled {
		return
	}
	now := s.now()
	next := e.spec.Schedule.Next(now.In(s.loc))
	if next.IsZero() {
		s.log.Warn("cron spec has no next occurrence",
			logx.String("job", e.cfg.Name), logx.String("expr", e.spec.Expr))
		return
	}
	h, err := s.core.Insert(next.Sub(now), e.cfg.Priority, e.act, sched.WithLabel(e.cfg.Name))
	if err != nil {
		s.log.Error("cannot requeue cron job",
			logx.String("job", e.cfg.Name), logx.Err(err))
		return
	}
	e.handle = h
	s.publishInsert(e.cfg.Name, next.Sub(now), false)
}

// publishInsert reports where a job landed. The effective delay comes from
// the queue snapshot, so it reflects the slot search.
func (s *Service) publishInsert(name string, requested time.Duration, periodic bool) {
	if s.bus == nil {
		return
	}
	effective := requested
	for _, info := range s.core.Snapshot() {
		if info.Label == name {
			effective = info.FireAt.Sub(s.now())
			break
		}
	}
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeScheduleInsert,
		Data: eventbus.ScheduleInsert{
			Job:       name,
			Requested: requested,
			Effective: effective,
			Periodic:  periodic,
		},
	})
}

// jitterFor spreads first occurrences so a restart does not line every
// interval job up on the same instant. The offset is seeded by job name,
// so a given job keeps its offset across restarts.
func (s *Service) jitterFor(name string, every time.Duration) time.Duration {
	spreadMax := s.spread
	if spreadMax > every {
		spreadMax = every
	}
	if spreadMax <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(int64(fnv64a(name))))
	return time.Duration(rng.Int63n(int64(spreadMax)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
