// Package jobs holds the builtin actions the schedule service can run and
// the registry that maps action names from config onto them.
//
// An action is built once per job from its config blob and then invoked for
// every occurrence. The scheduler serializes occurrences, so actions may
// keep plain closure state between runs.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pacer/pkg/logx"
	"pacer/pkg/notify"
)

// RunFunc executes one occurrence. The returned detail is a short human
// line kept in the run record ("down 94.3 Mbit/s", "5/5 targets ok").
type RunFunc func(ctx context.Context) (detail string, err error)

// BuildFunc turns a job's config blob into a runnable action. Builders must
// not touch the network or filesystem; they only validate and capture
// config so they can double as config validators.
type BuildFunc func(raw json.RawMessage, deps Deps) (RunFunc, error)

// Deps is what every action gets to work with.
type Deps struct {
	Log      logx.Logger
	Reporter notify.Reporter
}

// ErrUnknownAction is wrapped by Build for action names nobody registered.
var ErrUnknownAction = errors.New("unknown action")

// Registry maps action names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]BuildFunc
}

func NewRegistry() *Registry {
	return &Registry{builders: map[string]BuildFunc{}}
}

// Register adds a builder under name. Re-registering a name is a bug.
func (r *Registry) Register(name string, build BuildFunc) error {
	if name == "" || build == nil {
		return fmt.Errorf("jobs: invalid registration for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[name]; dup {
		return fmt.Errorf("jobs: action %q already registered", name)
	}
	r.builders[name] = build
	return nil
}

// Build constructs the action registered under name from raw.
func (r *Registry) Build(name string, raw json.RawMessage, deps Deps) (RunFunc, error) {
	r.mu.RLock()
	build, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	run, err := build(raw, deps)
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", name, err)
	}
	return run, nil
}

// Names lists registered actions, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for n := range r.builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a registry with every builtin action registered.
func Builtin() *Registry {
	r := NewRegistry()
	must(r.Register("speedtest", buildSpeedtest))
	must(r.Register("http_probe", buildHTTPProbe))
	must(r.Register("unit_check", buildUnitCheck))
	return r
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// decodeConfig strictly decodes a job config blob. Empty blobs leave the
// destination at its zero value; unknown keys are rejected so typos in job
// config fail the reload instead of being silently ignored.
func decodeConfig(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
