// Package notify batches status reports into files and alert fan-out.
//
// Severities decide what a report triggers:
//
//	None: nothing is written; the batch is still marked non-empty.
//	Low:  a line in the status file.
//	Mid:  a line in the status file and an alert on the next flush.
//	High: same as Mid, with the alert marked urgent.
//
// Errors go to a separate file. A periodic Flush closes the batch with a
// delimiter line and fires the pending alert, then resets.
package notify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pacer/pkg/logx"
)

type Severity int

const (
	None Severity = iota
	Low
	Mid
	High
)

func (s Severity) String() string {
	switch s {
	case None:
		return "none"
	case Low:
		return "low"
	case Mid:
		return "mid"
	case High:
		return "high"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity reads a config-level severity name.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return None, nil
	case "low":
		return Low, nil
	case "mid", "medium":
		return Mid, nil
	case "high":
		return High, nil
	default:
		return None, fmt.Errorf("notify: unknown severity %q", s)
	}
}

// Reporter is the surface jobs and the scheduler report through.
type Reporter interface {
	ReportStatus(msg string, severity Severity)
	ReportError(msg string)
}

// AlertSink delivers the flush-time alert (Telegram, desktop, ...).
type AlertSink interface {
	Alert(ctx context.Context, text string, urgent bool) error
}

const (
	timeLayout     = "02.01, 15:04"
	delimiterWidth = 40
)

type Config struct {
	StatusFile string
	ErrorFile  string
	// Name prefixes the alert text.
	Name string
}

type Option func(*Notifier)

func WithLogger(log logx.Logger) Option {
	return func(n *Notifier) { n.log = log }
}

func WithAlertSink(sink AlertSink) Option {
	return func(n *Notifier) {
		if sink != nil {
			n.sinks = append(n.sinks, sink)
		}
	}
}

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// Notifier implements Reporter with append-only files and batched alerts.
// Safe for concurrent use.
type Notifier struct {
	statusPath string
	errorPath  string
	alertText  string

	log   logx.Logger
	now   func() time.Time
	sinks []AlertSink

	mu           sync.Mutex
	empty        bool
	pendingAlert bool
	urgent       bool
}

func New(cfg Config, opts ...Option) *Notifier {
	text := "Check notification file"
	if cfg.Name != "" {
		text = cfg.Name + ": " + text
	}
	n := &Notifier{
		statusPath: cfg.StatusFile,
		errorPath:  cfg.ErrorFile,
		alertText:  text,
		log:        logx.Nop(),
		now:        time.Now,
		empty:      true,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// ReportStatus adds msg to the current batch. Every call, including at
// severity None, makes the batch non-empty so the next flush delimits it.
func (n *Notifier) ReportStatus(msg string, severity Severity) {
	n.mu.Lock()
	n.empty = false
	if severity > None {
		line := fmt.Sprintf("%s (%d) >> %s\n", n.now().Format(timeLayout), int(severity), msg)
		n.appendLine(n.statusPath, line)
	}
	if severity >= Mid {
		n.pendingAlert = true
	}
	if severity >= High {
		n.urgent = true
	}
	n.mu.Unlock()
}

// ReportError appends msg to the error file. Meant for caught, expected
// failures (a probe timing out), not for crashes.
func (n *Notifier) ReportError(msg string) {
	line := fmt.Sprintf("%s Caught error >> %s\n", n.now().Format(timeLayout), msg)
	n.mu.Lock()
	n.appendLine(n.errorPath, line)
	n.mu.Unlock()
}

// Flush closes the batch: a delimiter line when anything was reported, the
// pending alert to every sink, then a reset to the empty non-urgent state.
func (n *Notifier) Flush(ctx context.Context) {
	n.mu.Lock()
	hadReports := !n.empty
	alert := n.pendingAlert
	urgent := n.urgent
	n.empty = true
	n.pendingAlert = false
	n.urgent = false
	if hadReports {
		n.appendLine(n.statusPath, strings.Repeat("-", delimiterWidth)+"\n")
	}
	n.mu.Unlock()

	if !alert {
		return
	}
	for _, sink := range n.sinks {
		if err := sink.Alert(ctx, n.alertText, urgent); err != nil {
			n.log.Warn("alert sink failed", logx.Err(err), logx.Bool("urgent", urgent))
		}
	}
}

func (n *Notifier) appendLine(path, line string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		n.log.Error("cannot open report file", logx.String("path", path), logx.Err(err))
		return
	}
	if _, err := f.WriteString(line); err != nil {
		n.log.Error("cannot append report line", logx.String("path", path), logx.Err(err))
	}
	_ = f.Close()
}
