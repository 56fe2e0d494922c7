// Package app wires config, logging, transport, storage, the scheduler and
// the notify pipeline into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pacer/internal/config"
	"pacer/internal/eventbus"
	"pacer/internal/jobs"
	"pacer/internal/observability/pprof"
	"pacer/internal/runtime/supervisor"
	notifysvc "pacer/internal/services/notify"
	"pacer/internal/services/schedule"
	"pacer/internal/storage"
	"pacer/internal/transport"
	"pacer/internal/transport/telegram"
	logx "pacer/pkg/logx"
	"pacer/pkg/sched"
	"pacer/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sender transport.Sender

	core  *sched.Scheduler
	sched *schedule.Service
	notif *notifysvc.Service
	pprof *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	// The watcher's validator isn't registered yet, so check the initial
	// config by hand. Reloads go through the transactional path in Start.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Transport first so the log service can deliver to it. No token means
	// no sender; the daemon then logs to console/file only and alerts stay
	// in the notification files.
	var sender transport.Sender
	if token := strings.TrimSpace(cfg.Telegram.Token); token != "" {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 15*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:   token,
			Timeout: sendTimeout,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		sender = ad
	}

	logSvc, log := logx.New(mapLogxConfig(cfg), sender)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifysvc.New(ncfg, sender, bus, log.With(logx.String("comp", "notify")))

	set, err := mapSchedulerSettings(cfg)
	if err != nil {
		return nil, err
	}
	core, err := sched.New(sched.Config{
		MinDelay:     set.MinDelay,
		BufferFactor: set.BufferFactor,
	},
		sched.WithLogger(log.With(logx.String("comp", "sched"))),
		sched.WithErrorReporter(notifSvc.Notifier()),
		sched.WithDriftHook(func(info sched.EventInfo, late time.Duration, moved int) {
			job := info.Label
			if job == "" {
				job = fmt.Sprintf("event-%d", info.ID)
			}
			bus.Publish(eventbus.Event{Type: eventbus.TypeDriftCorrected, Data: eventbus.DriftCorrected{
				Job:     job,
				Late:    late,
				Shifted: moved,
			}})
		}),
	)
	if err != nil {
		return nil, err
	}

	schedSvc, err := schedule.New(schedule.Deps{
		Core:     core,
		Registry: jobs.Builtin(),
		Store:    store,
		Bus:      bus,
		Reporter: notifSvc.Notifier(),
		Log:      log.With(logx.String("comp", "schedule")),
	}, schedule.Options{
		Location:      set.Location,
		StartupSpread: set.StartupSpread,
	})
	if err != nil {
		return nil, err
	}

	// A bad job definition should fail the boot, not the first reschedule.
	if err := schedSvc.ValidateJobs(cfg.Jobs); err != nil {
		return nil, err
	}

	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(ppc, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sender:  sender,
		core:    core,
		sched:   schedSvc,
		notif:   notifSvc,
		pprof:   pprofSvc,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerSettings(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		return a.sched.ValidateJobs(cfg.Jobs)
	})

	a.sup.Go("sched.run", func(c context.Context) error {
		return a.core.Run(c)
	})
	a.sup.Go("notify.run", func(c context.Context) error {
		return a.notif.Run(c)
	})
	a.sup.Go("pprof.run", func(c context.Context) error {
		return a.pprof.Run(c)
	})

	if err := a.sched.ApplyJobs(a.sup.Context(), a.cfgm.Get().Jobs); err != nil {
		return err
	}

	// Debug visibility into the event stream.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.RunWatchdog(c)
	})
	systemd.NotifyReady()

	a.log.Info("app started",
		logx.Int("jobs", a.core.Len()),
		logx.Duration("min_delay", a.core.Config().MinDelay))
	return nil
}

// applyReload pushes a validated config into the running services. Sections
// that are fixed at construction only get a restart-required warning.
func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changedJobs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(changedJobs) > 0 {
		a.log.Debug("job definitions changed", logx.Any("jobs", changedJobs))
	}

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram":
			a.log.Warn("telegram config changed; restart required for changes to take effect")
		}
	}
	if strings.TrimSpace(oldCfg.Scheduler.MinDelay) != strings.TrimSpace(newCfg.Scheduler.MinDelay) ||
		oldCfg.Scheduler.BufferFactor != newCfg.Scheduler.BufferFactor {
		a.log.Warn("scheduler spacing changed; restart required for changes to take effect")
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		strings.TrimSpace(oldCfg.Scheduler.StartupSpread) != strings.TrimSpace(newCfg.Scheduler.StartupSpread) {
		a.log.Warn("scheduler timezone/startup_spread changed; restart required for changes to take effect")
	}

	// apply logging updates
	a.logs.Apply(mapLogxConfig(newCfg))

	// apply notify updates (live: cadence, alert target, history bound)
	if ncfg, err := mapNotifyConfig(newCfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	// apply pprof updates (live: enable/disable, bind, auth)
	if ppc, err := mapPprofConfig(newCfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Apply(ppc)
	}

	// reconcile the job set; unchanged jobs keep their queue slot
	if err := a.sched.ApplyJobs(ctx, newCfg.Jobs); err != nil {
		a.log.Warn("some jobs failed to schedule", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.NotifyStopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop rechaining and cancel queued jobs before the dispatcher exits.
	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Close(); return nil })
	step("sched.core", 2*time.Second, func(c context.Context) error { a.core.Stop(); return nil })

	// Waits for the dispatcher, the notify loop (final flush included) and
	// the config watcher/reload goroutines.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	// The sender goes after the supervisor so the final flush could still
	// deliver its alert.
	step("sender", 2*time.Second, func(c context.Context) error {
		if a.sender != nil {
			return a.sender.Stop(c)
		}
		return nil
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
