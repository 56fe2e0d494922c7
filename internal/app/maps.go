package app

import (
	"fmt"
	"strings"
	"time"

	"pacer/internal/config"
	"pacer/internal/observability/pprof"
	notifysvc "pacer/internal/services/notify"
	"pacer/internal/storage"
	logx "pacer/pkg/logx"
)

const defaultStartupSpread = 30 * time.Second

// mapLogxConfig translates the logging section into the log service config.
// A nil sender keeps the Telegram sink silent even when enabled, so the
// mapping stays the same whether or not a transport exists.
func mapLogxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapNotifyConfig(cfg *config.Config) (notifysvc.Config, error) {
	flush, err := config.ParseDurationOrDefault("notify.flush_interval", cfg.Notify.FlushInterval, time.Minute)
	if err != nil {
		return notifysvc.Config{}, err
	}
	alertMin, err := config.ParseDurationOrDefault("notify.alert_min_interval", cfg.Notify.AlertMinInterval, 30*time.Second)
	if err != nil {
		return notifysvc.Config{}, err
	}
	return notifysvc.Config{
		StatusFile:       strings.TrimSpace(cfg.Notify.StatusFile),
		ErrorFile:        strings.TrimSpace(cfg.Notify.ErrorFile),
		Name:             strings.TrimSpace(cfg.Notify.Name),
		FlushInterval:    flush,
		AlertMinInterval: alertMin,
		AlertChatID:      cfg.Notify.AlertChatID,
		AlertThreadID:    cfg.Notify.AlertThreadID,
		HistorySize:      cfg.Notify.HistorySize,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	if cfg == nil || cfg.Pprof == nil {
		return pprof.Config{}, nil
	}
	pc := cfg.Pprof
	readTO, err := config.ParseDurationField("pprof.read_timeout", pc.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	writeTO, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idleTO, err := config.ParseDurationField("pprof.idle_timeout", pc.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 strings.TrimSpace(pc.Addr),
		Prefix:               pc.Prefix,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		ReadTimeout:          readTO,
		WriteTimeout:         writeTO,
		IdleTimeout:          idleTO,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
		MemProfileRate:       pc.MemProfileRate,
	}, nil
}

// schedulerSettings are the dispatch knobs derived from the scheduler
// section. They are fixed at construction; reloads that change them log a
// restart-required warning instead.
type schedulerSettings struct {
	MinDelay      time.Duration
	BufferFactor  float64
	StartupSpread time.Duration
	Location      *time.Location
}

func mapSchedulerSettings(cfg *config.Config) (schedulerSettings, error) {
	minDelay, err := config.ParseDurationField("scheduler.min_delay", cfg.Scheduler.MinDelay)
	if err != nil {
		return schedulerSettings{}, err
	}

	// Empty means the default; an explicit "0s" disables spreading.
	spread := defaultStartupSpread
	if strings.TrimSpace(cfg.Scheduler.StartupSpread) != "" {
		spread, err = config.ParseDurationField("scheduler.startup_spread", cfg.Scheduler.StartupSpread)
		if err != nil {
			return schedulerSettings{}, err
		}
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return schedulerSettings{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	return schedulerSettings{
		MinDelay:      minDelay,
		BufferFactor:  cfg.Scheduler.BufferFactor,
		StartupSpread: spread,
		Location:      loc,
	}, nil
}
