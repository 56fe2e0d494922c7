package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pacer/pkg/logx"
)

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured attrs for logging (never secrets like the bot token),
// and (3) the names of jobs that were added, removed or redefined.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram: only whether a token is set, never the token itself.
	oTok := strings.TrimSpace(oldCfg.Telegram.Token) != ""
	nTok := strings.TrimSpace(newCfg.Telegram.Token) != ""
	if oTok != nTok ||
		strings.TrimSpace(oldCfg.Telegram.SendTimeout) != strings.TrimSpace(newCfg.Telegram.SendTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", nTok),
			logx.String("telegram.send_timeout", strings.TrimSpace(newCfg.Telegram.SendTimeout)),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Scheduler spacing. min_delay and buffer_factor only take effect on
	// restart; restart_required tells the operator one is due.
	spacingChanged := strings.TrimSpace(oldCfg.Scheduler.MinDelay) != strings.TrimSpace(newCfg.Scheduler.MinDelay) ||
		oldCfg.Scheduler.BufferFactor != newCfg.Scheduler.BufferFactor
	if spacingChanged ||
		strings.TrimSpace(oldCfg.Scheduler.StartupSpread) != strings.TrimSpace(newCfg.Scheduler.StartupSpread) ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.min_delay", strings.TrimSpace(newCfg.Scheduler.MinDelay)),
			logx.Float64("scheduler.buffer_factor", newCfg.Scheduler.BufferFactor),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Bool("scheduler.restart_required", spacingChanged),
		)
	}

	// Notify
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.status_file", strings.TrimSpace(newCfg.Notify.StatusFile)),
			logx.String("notify.error_file", strings.TrimSpace(newCfg.Notify.ErrorFile)),
			logx.String("notify.flush_interval", strings.TrimSpace(newCfg.Notify.FlushInterval)),
			logx.Bool("notify.alerts_enabled", newCfg.Notify.AlertChatID != 0),
		)
	}

	// Storage (nil section means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Pprof (nil section means disabled); never the token itself.
	var oPp, nPp PprofConfig
	if p := oldCfg.Pprof; p != nil {
		oPp = *p
	}
	if p := newCfg.Pprof; p != nil {
		nPp = *p
	}
	if !reflect.DeepEqual(oPp, nPp) {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", nPp.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(nPp.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(nPp.Token) != ""),
		)
	}

	// Jobs (names only; definitions at debug elsewhere)
	changedJobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(changedJobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(changedJobs)),
			logx.Int("jobs.enabled_count", countEnabledJobs(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, changedJobs
}

func countEnabledJobs(jobs []JobConfig) int {
	n := 0
	for i := range jobs {
		if jobs[i].JobEnabled() {
			n++
		}
	}
	return n
}

// diffJobs returns the names of jobs present in only one set or defined
// differently in the two. Formatting-only changes in the action blob are
// ignored via canonical hashing.
func diffJobs(oldJobs, newJobs []JobConfig) []string {
	oldM := jobsByName(oldJobs)
	newM := jobsByName(newJobs)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || jobChanged(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func jobsByName(jobs []JobConfig) map[string]JobConfig {
	m := make(map[string]JobConfig, len(jobs))
	for _, j := range jobs {
		m[strings.TrimSpace(j.Name)] = j
	}
	return m
}

// JobChanged reports whether two definitions of the same job differ in a
// way that needs a reschedule. Formatting-only changes in the action blob
// do not count.
func JobChanged(o, n JobConfig) bool { return jobChanged(o, n) }

func jobChanged(o, n JobConfig) bool {
	if o.JobEnabled() != n.JobEnabled() ||
		strings.TrimSpace(o.Spec) != strings.TrimSpace(n.Spec) ||
		strings.TrimSpace(o.Action) != strings.TrimSpace(n.Action) ||
		o.Priority != n.Priority ||
		o.CatchUp != n.CatchUp {
		return true
	}
	return canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config)
}
