// Package notify runs the delivery side of notifications: the periodic
// flush loop around a pkg/notify Notifier, the Telegram alert sink and a
// bounded run history fed from the event bus.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pacer/internal/eventbus"
	"pacer/internal/transport"
	logx "pacer/pkg/logx"
	notify "pacer/pkg/notify"
)

type Config struct {
	StatusFile string
	ErrorFile  string
	Name       string

	FlushInterval    time.Duration // default 1m
	AlertMinInterval time.Duration // default 30s
	AlertChatID      int64         // 0 disables the sink
	AlertThreadID    int
	HistorySize      int // default 200
}

// RunEntry is one remembered job execution, newest last in the buffer.
type RunEntry struct {
	Job      string
	At       time.Time
	Duration time.Duration
	Err      string
}

// Service owns the notifier lifecycle. Reports go straight to the Notifier;
// the service only decides when batches flush and where alerts land.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	notifier *notify.Notifier

	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	reloaded chan struct{}

	hmu     sync.Mutex
	history []RunEntry
}

func New(cfg Config, sender transport.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		reloaded: make(chan struct{}, 1),
	}
	s.applyLocked(cfg)

	opts := []notify.Option{notify.WithLogger(log)}
	if sender != nil {
		opts = append(opts, notify.WithAlertSink(&telegramSink{svc: s, sender: sender}))
	}
	s.notifier = notify.New(notify.Config{
		StatusFile: cfg.StatusFile,
		ErrorFile:  cfg.ErrorFile,
		Name:       cfg.Name,
	}, opts...)
	return s
}

// Notifier returns the reporter handed to jobs and the scheduler.
func (s *Service) Notifier() *notify.Notifier { return s.notifier }

// Apply updates cadence, alert target and history bound. File paths and the
// alert name are fixed at construction; changing them takes effect on the
// next restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
	select {
	case s.reloaded <- struct{}{}:
	default:
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.AlertMinInterval <= 0 {
		cfg.AlertMinInterval = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Every(cfg.AlertMinInterval), 1)
}

// Flush forwards to the notifier, for shutdown steps that need a final
// flush outside the loop.
func (s *Service) Flush(ctx context.Context) { s.notifier.Flush(ctx) }

// Run drives the flush loop and the bus subscription until ctx ends. On
// shutdown it performs a last flush with its own deadline so a stuck sink
// can't hang the drain.
func (s *Service) Run(ctx context.Context) error {
	var (
		sub   <-chan eventbus.Event
		unsub func()
	)
	if s.bus != nil {
		sub, unsub = s.bus.Subscribe(32)
		defer unsub()
	}

	t := time.NewTimer(s.interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.notifier.Flush(fctx)
			cancel()
			return nil
		case <-s.reloaded:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(s.interval())
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			s.consume(ev)
		case <-t.C:
			s.notifier.Flush(ctx)
			t.Reset(s.interval())
		}
	}
}

func (s *Service) consume(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeJobRun:
		run, ok := ev.Data.(eventbus.JobRun)
		if !ok {
			return
		}
		s.recordRun(run)
	}
}

func (s *Service) recordRun(run eventbus.JobRun) {
	entry := RunEntry{Job: run.Job, At: run.Started, Duration: run.Duration, Err: run.Err}
	s.hmu.Lock()
	s.history = append(s.history, entry)
	if max := s.historySize(); len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// Snapshot returns the remembered runs, newest first.
func (s *Service) Snapshot() []RunEntry {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]RunEntry, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.FlushInterval
}

func (s *Service) historySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.HistorySize
}

func (s *Service) alertTarget() (chatID int64, threadID int, lim *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.AlertChatID, s.cfg.AlertThreadID, s.limiter
}

// telegramSink delivers flush-time alerts through the transport. Routine
// alerts respect the rate limit; urgent ones always go out.
type telegramSink struct {
	svc    *Service
	sender transport.Sender
}

func (t *telegramSink) Alert(ctx context.Context, text string, urgent bool) error {
	chatID, threadID, lim := t.svc.alertTarget()
	if chatID == 0 {
		return nil
	}
	if !urgent && lim != nil && !lim.Allow() {
		t.svc.log.Debug("alert suppressed by rate limit", logx.String("text", text))
		return nil
	}
	if urgent {
		text = "🚨 " + text
	}
	return t.sender.SendText(ctx, transport.Target{ChatID: chatID, ThreadID: threadID}, text, nil)
}
