package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pacer/internal/eventbus"
	"pacer/internal/transport"
	logx "pacer/pkg/logx"
	notifylib "pacer/pkg/notify"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	chats []int64
}

func (f *fakeSender) SendText(ctx context.Context, to transport.Target, text string, opts *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.chats = append(f.chats, to.ChatID)
	return nil
}

func (f *fakeSender) Stop(ctx context.Context) error { return nil }

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAlertSinkRateLimitAndUrgency(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	svc := New(Config{
		AlertChatID:      42,
		AlertMinInterval: time.Hour,
	}, sender, nil, logx.Nop())
	sink := &telegramSink{svc: svc, sender: sender}
	ctx := context.Background()

	if err := sink.Alert(ctx, "check files", false); err != nil {
		t.Fatal(err)
	}
	if err := sink.Alert(ctx, "check files", false); err != nil {
		t.Fatal(err)
	}
	if got := sender.sent(); len(got) != 1 {
		t.Fatalf("sent = %v, want one delivery within the rate window", got)
	}

	// Urgent alerts ignore the limiter and carry the siren prefix.
	if err := sink.Alert(ctx, "check files", true); err != nil {
		t.Fatal(err)
	}
	got := sender.sent()
	if len(got) != 2 || !strings.HasPrefix(got[1], "🚨 ") {
		t.Fatalf("sent = %v, want urgent delivery with prefix", got)
	}
	if sender.chats[0] != 42 {
		t.Errorf("chat = %d, want 42", sender.chats[0])
	}
}

func TestAlertSinkDisabledWithoutChat(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	svc := New(Config{}, sender, nil, logx.Nop())
	sink := &telegramSink{svc: svc, sender: sender}

	if err := sink.Alert(context.Background(), "x", true); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent()) != 0 {
		t.Error("no chat configured, nothing should be sent")
	}
}

func TestRunRecordsHistoryBounded(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	svc := New(Config{HistorySize: 3, FlushInterval: time.Hour}, nil, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeJobRun,
			Data: eventbus.JobRun{Job: "probe", Started: base.Add(time.Duration(i) * time.Minute), Duration: time.Second},
		})
	}

	waitFor(t, func() bool {
		snap := svc.Snapshot()
		return len(snap) == 3 && snap[0].At.Equal(base.Add(4*time.Minute))
	}, "history should keep the newest 3 entries")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRunFinalFlushOnShutdown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.txt")
	svc := New(Config{
		StatusFile:    statusPath,
		ErrorFile:     filepath.Join(dir, "errors.txt"),
		FlushInterval: time.Hour,
	}, nil, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	svc.Notifier().ReportStatus("backup done", notifylib.Low)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	b, err := os.ReadFile(statusPath)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	content := string(b)
	if !strings.Contains(content, "backup done") {
		t.Errorf("status line missing: %q", content)
	}
	if !strings.Contains(content, strings.Repeat("-", 40)) {
		t.Errorf("final flush should write the delimiter: %q", content)
	}
}

func TestApplyUpdatesCadence(t *testing.T) {
	t.Parallel()

	svc := New(Config{FlushInterval: time.Minute}, nil, nil, logx.Nop())
	if svc.interval() != time.Minute {
		t.Fatalf("interval = %v", svc.interval())
	}
	svc.Apply(Config{FlushInterval: 10 * time.Second, HistorySize: 7})
	if svc.interval() != 10*time.Second {
		t.Errorf("interval after Apply = %v, want 10s", svc.interval())
	}
	if svc.historySize() != 7 {
		t.Errorf("history size after Apply = %d, want 7", svc.historySize())
	}
	select {
	case <-svc.reloaded:
	default:
		t.Error("Apply should signal the run loop")
	}
}
