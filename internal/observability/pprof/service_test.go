package pprof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pacer/pkg/logx"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"":              "/debug/pprof/",
		"  ":            "/debug/pprof/",
		"/debug/pprof":  "/debug/pprof/",
		"debug/pprof/":  "/debug/pprof/",
		"/internal/pp/": "/internal/pp/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:0":    true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		"0.0.0.0:6060":   false,
		":6060":          false,
		"192.168.1.5:80": false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNeedsRestart(t *testing.T) {
	base := Config{Addr: "127.0.0.1:0", Prefix: "/debug/pprof/"}

	same := base
	same.Prefix = "" // normalizes to the default
	if needsRestart(base, same) {
		t.Fatal("equivalent prefixes should not restart")
	}

	changed := base
	changed.Addr = "127.0.0.1:7070"
	if !needsRestart(base, changed) {
		t.Fatal("addr change should restart")
	}

	changed = base
	changed.Token = "x"
	if !needsRestart(base, changed) {
		t.Fatal("token change should restart")
	}

	changed = base
	changed.ReadTimeout = time.Second
	if !needsRestart(base, changed) {
		t.Fatal("timeout change should restart")
	}
}

func TestWithAuth(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	h := withAuth("", ok)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("no token configured: status = %d", rec.Code)
	}

	h = withAuth("s3cret", ok)
	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no credentials", "/x", "", http.StatusUnauthorized},
		{"query match", "/x?token=s3cret", "", http.StatusOK},
		{"query mismatch", "/x?token=nope", "", http.StatusUnauthorized},
		{"bearer match", "/x", "Bearer s3cret", http.StatusOK},
		{"bearer mismatch", "/x", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		h(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestRunServeApplyDisable(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return svc.Addr() != "" })

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	svc.Apply(Config{Enabled: false})
	waitFor(t, 2*time.Second, func() bool { return svc.Addr() == "" })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
