package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pacer/pkg/logx"
)

// DefaultBufferFactor inflates MinDelay for insertion targets so that a
// dispatch running exactly on time still clears the raw MinDelay check.
const DefaultBufferFactor = 1.05

type Config struct {
	// MinDelay is the guaranteed spacing between any two dispatches.
	MinDelay time.Duration

	// BufferFactor (>= 1.0) inflates MinDelay wherever the scheduler
	// places or pushes events; the drift check compares against the raw
	// MinDelay. Zero means DefaultBufferFactor.
	BufferFactor float64

	// ExitWhenIdle makes Run return once the queue drains instead of
	// blocking for new insertions.
	ExitWhenIdle bool
}

// ErrorReporter receives one message per failed action. Implementations
// must not block; the dispatcher calls this inline.
type ErrorReporter interface {
	ReportError(msg string)
}

type nopReporter struct{}

func (nopReporter) ReportError(string) {}

// DriftHook observes applied push-backs: the event just dispatched, how
// late it ran, and how many queued events were moved.
type DriftHook func(dispatched EventInfo, late time.Duration, moved int)

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.reporter = r
		}
	}
}

func WithDriftHook(h DriftHook) Option {
	return func(s *Scheduler) { s.driftHook = h }
}

// InsertOption annotates a single insertion.
type InsertOption func(*insertCfg)

type insertCfg struct {
	label string
}

// WithLabel names the event in logs, snapshots and error reports.
func WithLabel(label string) InsertOption {
	return func(c *insertCfg) { c.label = label }
}

type Scheduler struct {
	cfg    Config
	effMin time.Duration

	clock     Clock
	log       logx.Logger
	reporter  ErrorReporter
	driftHook DriftHook

	mu      sync.Mutex
	q       eventQueue
	nextID  uint64
	lastNow time.Time

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if cfg.MinDelay < 0 {
		return nil, fmt.Errorf("%w: negative min delay %v", ErrInvalidConfig, cfg.MinDelay)
	}
	if cfg.BufferFactor == 0 {
		cfg.BufferFactor = DefaultBufferFactor
	}
	if cfg.BufferFactor < 1.0 {
		return nil, fmt.Errorf("%w: buffer factor %.3f below 1.0", ErrInvalidConfig, cfg.BufferFactor)
	}

	s := &Scheduler{
		cfg:      cfg,
		effMin:   time.Duration(float64(cfg.MinDelay) * cfg.BufferFactor),
		clock:    SystemClock(),
		log:      logx.Nop(),
		reporter: nopReporter{},
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Scheduler) Config() Config { return s.cfg }

// EffectiveMinDelay is MinDelay inflated by the buffer factor.
func (s *Scheduler) EffectiveMinDelay() time.Duration { return s.effMin }

// Insert queues a one-shot action delay from now, subject to the slot
// search. Delay 0 on an empty queue dispatches immediately.
func (s *Scheduler) Insert(delay time.Duration, priority int, action Action, opts ...InsertOption) (*Handle, error) {
	return s.insertOne(delay, priority, action, time.Time{}, opts)
}

// InsertSince is Insert with catch-up: the requested delay is counted
// from lastRun instead of now, clamped at zero. An action overdue across
// a restart fires as soon as spacing allows.
func (s *Scheduler) InsertSince(delay time.Duration, priority int, action Action, lastRun time.Time, opts ...InsertOption) (*Handle, error) {
	return s.insertOne(delay, priority, action, lastRun, opts)
}

func (s *Scheduler) insertOne(delay time.Duration, priority int, action Action, lastRun time.Time, opts []InsertOption) (*Handle, error) {
	if delay < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelay, delay)
	}
	if action == nil {
		return nil, ErrNilAction
	}
	var ic insertCfg
	for _, o := range opts {
		o(&ic)
	}

	s.mu.Lock()
	ev := s.insertLocked(delay, priority, action, lastRun, nil, ic.label)
	h := &Handle{id: ev.id, label: ev.label, fireAt: ev.fireAt}
	s.mu.Unlock()
	s.notifyWake()

	return h, nil
}

// MakePeriodic queues a recurring action; the first occurrence fires one
// period from now.
func (s *Scheduler) MakePeriodic(period time.Duration, priority int, action Action, opts ...InsertOption) (*PeriodicJob, error) {
	return s.makePeriodic(period, priority, action, time.Time{}, opts)
}

// MakePeriodicSince is MakePeriodic with catch-up for the first
// occurrence: the period is counted from lastRun, clamped at zero.
// Subsequent occurrences fire one period after each run as usual.
func (s *Scheduler) MakePeriodicSince(period time.Duration, priority int, action Action, lastRun time.Time, opts ...InsertOption) (*PeriodicJob, error) {
	return s.makePeriodic(period, priority, action, lastRun, opts)
}

func (s *Scheduler) makePeriodic(period time.Duration, priority int, action Action, lastRun time.Time, opts []InsertOption) (*PeriodicJob, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: period %v", ErrInvalidDelay, period)
	}
	if action == nil {
		return nil, ErrNilAction
	}
	var ic insertCfg
	for _, o := range opts {
		o(&ic)
	}

	j := &PeriodicJob{
		s:        s,
		period:   period,
		priority: priority,
		label:    ic.label,
		action:   action,
	}

	s.mu.Lock()
	ev := s.insertLocked(period, priority, action, lastRun, j, ic.label)
	j.pendingID = ev.id
	s.mu.Unlock()
	s.notifyWake()

	return j, nil
}

// insertLocked places an event into the queue; the caller holds s.mu.
// lastRun, when set, applies the catch-up shift to the requested delay.
func (s *Scheduler) insertLocked(delay time.Duration, priority int, action Action, lastRun time.Time, job *PeriodicJob, label string) *event {
	now := s.clock.Now()

	requested := delay
	if !lastRun.IsZero() {
		delay += lastRun.Sub(now)
		if delay < 0 {
			delay = 0
		}
	}

	at := now.Add(findSlot(s.q.offsets(now), delay, s.effMin))

	s.nextID++
	ev := &event{
		id:       s.nextID,
		fireAt:   at,
		priority: priority,
		seq:      s.nextID,
		label:    label,
		action:   action,
		job:      job,
	}
	s.q.insert(ev)

	s.log.Debug("event queued",
		logx.Uint64("event_id", ev.id),
		logx.String("label", label),
		logx.Duration("requested", requested),
		logx.Duration("effective", at.Sub(now)),
		logx.Bool("periodic", job != nil))
	return ev
}

// Cancel removes a queued one-shot event. Cancelling twice, or an event
// already dispatched, returns ErrNotFound.
func (s *Scheduler) Cancel(h *Handle) error {
	if h == nil {
		return ErrNotFound
	}

	s.mu.Lock()
	ev := s.q.removeByID(h.id)
	s.mu.Unlock()

	if ev == nil {
		return ErrNotFound
	}
	s.notifyWake()
	s.log.Debug("event cancelled",
		logx.Uint64("event_id", h.id),
		logx.String("label", h.label))
	return nil
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.len()
}

// Snapshot returns the queued events in dispatch order.
func (s *Scheduler) Snapshot() []EventInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventInfo, s.q.len())
	for i, ev := range s.q.items {
		out[i] = ev.info()
	}
	return out
}

// Stop requests the dispatch loop to return. Idempotent and permanent;
// an action in flight finishes first. Queued events stay queued.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run dispatches events until Stop is called, ctx is cancelled, or (with
// ExitWhenIdle) the queue drains. It returns ctx.Err() on cancellation
// and nil otherwise. Actions run on this goroutine, one at a time, with
// no per-action timeout; a stuck action stalls the schedule, which is
// visible through drift push-backs once it resumes.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	s.log.Debug("dispatcher started",
		logx.Duration("min_delay", s.cfg.MinDelay),
		logx.Float64("buffer_factor", s.cfg.BufferFactor))

	for {
		s.mu.Lock()
		head := s.q.peek()
		if head == nil {
			s.mu.Unlock()
			if s.cfg.ExitWhenIdle {
				s.log.Debug("queue drained")
				return nil
			}
			select {
			case <-runCtx.Done():
				return s.runErr(ctx)
			case <-s.wake:
				continue
			}
		}
		target := head.fireAt
		s.mu.Unlock()

		switch s.clock.WaitUntil(runCtx, target, s.wake) {
		case WaitInterrupted:
			return s.runErr(ctx)
		case WaitWoken:
			// head may have moved; re-evaluate
			continue
		}

		s.dispatchDue(runCtx)
	}
}

// runErr distinguishes external cancellation from Stop.
func (s *Scheduler) runErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	s.log.Debug("dispatcher stopped")
	return nil
}

// dispatchDue pops and runs the head if it is due. Late dispatches
// trigger drift correction before the action runs.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	s.mu.Lock()
	now := s.clock.Now()

	backward := false
	if now.Before(s.lastNow) {
		backward = true
		s.log.Warn("clock moved backwards, skipping drift correction",
			logx.Time("now", now),
			logx.Time("previous", s.lastNow))
	} else {
		s.lastNow = now
	}

	head := s.q.peek()
	if head == nil || head.fireAt.After(now) {
		// Cancelled, rescheduled, or the clock ran backwards; wait again.
		s.mu.Unlock()
		return
	}
	ev := s.q.pop()

	late := now.Sub(ev.fireAt)
	moved := 0
	if !backward {
		moved = correctDrift(&s.q, now, s.cfg.MinDelay, s.effMin)
	}
	if moved > 0 {
		s.log.Debug("push-back applied",
			logx.Uint64("event_id", ev.id),
			logx.Duration("late", late),
			logx.Int("moved", moved))
	}
	s.mu.Unlock()

	if moved > 0 && s.driftHook != nil {
		s.driftHook(ev.info(), late, moved)
	}

	s.execute(ctx, ev)

	if j := ev.job; j != nil {
		s.mu.Lock()
		if !j.cancelled {
			next := s.insertLocked(j.period, j.priority, j.action, time.Time{}, j, j.label)
			j.pendingID = next.id
			s.mu.Unlock()
			s.notifyWake()
		} else {
			j.pendingID = 0
			s.mu.Unlock()
		}
	}
}

// execute runs the action with panic capture. Failures are logged and
// reported; the dispatch loop always continues.
func (s *Scheduler) execute(ctx context.Context, ev *event) {
	s.log.Debug("dispatching",
		logx.Uint64("event_id", ev.id),
		logx.String("label", ev.label))

	err, stack := runAction(ctx, ev.action)
	if err == nil {
		return
	}

	aerr := &ActionError{ID: ev.id, Label: ev.label, Err: err}
	s.log.Error("action failed",
		logx.Uint64("event_id", ev.id),
		logx.String("label", ev.label),
		logx.Err(err),
		logx.Stack(stack))
	s.reporter.ReportError(aerr.Error())
}

func runAction(ctx context.Context, fn Action) (err error, stack string) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stack = string(debug.Stack())
		}
	}()
	return fn(ctx), ""
}

func (s *Scheduler) notifyWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
