package config

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSummarizeConfigChangeSections(t *testing.T) {
	t.Parallel()

	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Logging.Level = "debug"
	newCfg.Scheduler.MinDelay = "10s"
	newCfg.Storage = &StorageConfig{Driver: "file", Path: "./store"}
	newCfg.Pprof = &PprofConfig{Enabled: true}
	newCfg.Jobs = append(newCfg.Jobs, JobConfig{Name: "extra", Spec: "every:1m", Action: "noop"})

	changed, _, jobs := SummarizeConfigChange(oldCfg, newCfg)

	want := []string{"jobs", "logging", "pprof", "scheduler", "storage"}
	if !reflect.DeepEqual(changed, want) {
		t.Errorf("changed = %v, want %v", changed, want)
	}
	if !reflect.DeepEqual(jobs, []string{"extra"}) {
		t.Errorf("changed jobs = %v, want [extra]", jobs)
	}
}

func TestSummarizeConfigChangeIdentical(t *testing.T) {
	t.Parallel()

	changed, attrs, jobs := SummarizeConfigChange(validConfig(), validConfig())
	if len(changed) != 0 || len(attrs) != 0 || len(jobs) != 0 {
		t.Errorf("identical configs: changed=%v attrs=%d jobs=%v", changed, len(attrs), jobs)
	}
}

func TestDiffJobs(t *testing.T) {
	t.Parallel()

	boolPtr := func(b bool) *bool { return &b }

	base := JobConfig{Name: "speed", Spec: "every:30m", Action: "speedtest", Config: json.RawMessage(`{"save": true}`)}

	cases := []struct {
		name string
		old  []JobConfig
		new  []JobConfig
		want []string
	}{
		{name: "unchanged", old: []JobConfig{base}, new: []JobConfig{base}, want: []string{}},
		{
			name: "blob formatting only",
			old:  []JobConfig{base},
			new: []JobConfig{func() JobConfig {
				j := base
				j.Config = json.RawMessage(`{ "save":true }`)
				return j
			}()},
			want: []string{},
		},
		{
			name: "blob value change",
			old:  []JobConfig{base},
			new: []JobConfig{func() JobConfig {
				j := base
				j.Config = json.RawMessage(`{"save": false}`)
				return j
			}()},
			want: []string{"speed"},
		},
		{
			name: "disabled",
			old:  []JobConfig{base},
			new: []JobConfig{func() JobConfig {
				j := base
				j.Enabled = boolPtr(false)
				return j
			}()},
			want: []string{"speed"},
		},
		{
			name: "added and removed",
			old:  []JobConfig{base},
			new:  []JobConfig{{Name: "probe", Spec: "every:5m", Action: "http_probe"}},
			want: []string{"probe", "speed"},
		},
		{
			name: "spec change",
			old:  []JobConfig{base},
			new: []JobConfig{func() JobConfig {
				j := base
				j.Spec = "every:1h"
				return j
			}()},
			want: []string{"speed"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := diffJobs(tc.old, tc.new)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("diffJobs = %v, want %v", got, tc.want)
			}
		})
	}
}
