package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks field formats and cross-field requirements that don't need
// external collaborators. Job spec syntax is validated by the schedule
// service, which owns the parser.
func (c *Config) Validate() error {
	if err := validLevel("logging.level", c.Logging.Level); err != nil {
		return err
	}
	if err := validLevel("logging.telegram.min_level", c.Logging.Telegram.MinLevel); err != nil {
		return err
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		return fmt.Errorf("logging.telegram.chat_id: required when the sink is enabled")
	}

	if _, err := ParseDurationField("telegram.send_timeout", c.Telegram.SendTimeout); err != nil {
		return err
	}

	if strings.TrimSpace(c.Scheduler.MinDelay) == "" {
		return fmt.Errorf("scheduler.min_delay: required")
	}
	if _, err := ParseDurationField("scheduler.min_delay", c.Scheduler.MinDelay); err != nil {
		return err
	}
	if bf := c.Scheduler.BufferFactor; bf != 0 && bf < 1.0 {
		return fmt.Errorf("scheduler.buffer_factor: must be >= 1.0 (got %v)", bf)
	}
	if _, err := ParseDurationField("scheduler.startup_spread", c.Scheduler.StartupSpread); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if strings.TrimSpace(c.Notify.StatusFile) == "" {
		return fmt.Errorf("notify.status_file: required")
	}
	if strings.TrimSpace(c.Notify.ErrorFile) == "" {
		return fmt.Errorf("notify.error_file: required")
	}
	if _, err := ParseDurationField("notify.flush_interval", c.Notify.FlushInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("notify.alert_min_interval", c.Notify.AlertMinInterval); err != nil {
		return err
	}
	if c.Notify.HistorySize < 0 {
		return fmt.Errorf("notify.history_size: must be >= 0")
	}

	if s := c.Storage; s != nil {
		switch driver := strings.ToLower(strings.TrimSpace(s.Driver)); driver {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path: required for driver %q", driver)
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if p := c.Pprof; p != nil {
		if _, err := ParseDurationField("pprof.read_timeout", p.ReadTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("pprof.write_timeout", p.WriteTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("pprof.idle_timeout", p.IdleTimeout); err != nil {
			return err
		}
		if p.MutexProfileFraction < 0 || p.BlockProfileRate < 0 || p.MemProfileRate < 0 {
			return fmt.Errorf("pprof: profile rates must be >= 0")
		}
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i := range c.Jobs {
		j := &c.Jobs[i]
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("jobs[%d].name: required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("jobs[%d].name: duplicate %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Spec) == "" {
			return fmt.Errorf("jobs[%d] (%s): spec required", i, name)
		}
		if strings.TrimSpace(j.Action) == "" {
			return fmt.Errorf("jobs[%d] (%s): action required", i, name)
		}
	}
	return nil
}

// validLevel accepts the level names pkg/logx understands, plus empty for
// "use the default".
func validLevel(path, s string) error {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return nil
	default:
		return fmt.Errorf("%s: unknown level %q", path, s)
	}
}
