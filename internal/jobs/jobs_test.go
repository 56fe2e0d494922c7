package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"pacer/pkg/logx"
	"pacer/pkg/notify"
)

type fakeReporter struct {
	mu     sync.Mutex
	status []string
	sevs   []notify.Severity
	errs   []string
}

func (r *fakeReporter) ReportStatus(msg string, sev notify.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, msg)
	r.sevs = append(r.sevs, sev)
}

func (r *fakeReporter) ReportError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

func testDeps(r *fakeReporter) Deps {
	return Deps{Log: logx.Nop(), Reporter: r}
}

func TestRegistryBuildUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("nope", nil, testDeps(&fakeReporter{}))
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	build := func(json.RawMessage, Deps) (RunFunc, error) { return nil, nil }
	if err := r.Register("x", build); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("x", build); err == nil {
		t.Fatal("duplicate register should fail")
	}
}

func TestBuiltinNames(t *testing.T) {
	want := []string{"http_probe", "speedtest", "unit_check"}
	if got := Builtin().Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("builtin names = %v, want %v", got, want)
	}
}

func TestDecodeConfigStrict(t *testing.T) {
	var c speedtestConfig
	err := decodeConfig(json.RawMessage(`{"servers": 3, "serverz": 1}`), &c)
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if err := decodeConfig(nil, &c); err != nil {
		t.Fatalf("empty blob should decode to zero value: %v", err)
	}
}

func TestBuildHTTPProbeValidation(t *testing.T) {
	deps := testDeps(&fakeReporter{})
	if _, err := buildHTTPProbe(json.RawMessage(`{}`), deps); err == nil {
		t.Fatal("missing targets_file should fail")
	}
	raw := json.RawMessage(`{"targets_file": "t.txt", "method": "POST"}`)
	if _, err := buildHTTPProbe(raw, deps); err == nil {
		t.Fatal("POST method should fail")
	}
}

func TestHTTPProbeRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/down") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	targets := filepath.Join(t.TempDir(), "targets.txt")
	content := "# probe list\n" + srv.URL + "/up\n\n" + srv.URL + "/down\n"
	if err := os.WriteFile(targets, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rep := &fakeReporter{}
	run, err := buildHTTPProbe(
		json.RawMessage(`{"targets_file": `+jsonQuote(targets)+`, "timeout": "5s"}`),
		testDeps(rep))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	detail, err := run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if detail != "1/2 targets ok" {
		t.Fatalf("detail = %q", detail)
	}
	if len(rep.status) != 1 || rep.sevs[0] != notify.Mid {
		t.Fatalf("expected one mid-severity report, got %v %v", rep.status, rep.sevs)
	}
	if !strings.Contains(rep.status[0], "status 503") {
		t.Fatalf("report should name the failure: %q", rep.status[0])
	}
}

func TestHTTPProbeMissingTargetsFile(t *testing.T) {
	rep := &fakeReporter{}
	run, err := buildHTTPProbe(
		json.RawMessage(`{"targets_file": "/nonexistent/targets.txt"}`),
		testDeps(rep))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := run(context.Background()); err == nil {
		t.Fatal("unreadable targets file should fail the run")
	}
}

func TestBuildUnitCheckValidation(t *testing.T) {
	deps := testDeps(&fakeReporter{})
	if _, err := buildUnitCheck(json.RawMessage(`{}`), deps); err == nil {
		t.Fatal("empty unit config should fail")
	}
	if _, err := buildUnitCheck(json.RawMessage(`{"units": ["nginx"]}`), deps); err != nil {
		t.Fatalf("inline units should build: %v", err)
	}
}

func TestUnitCheckMissingUnitsFile(t *testing.T) {
	run, err := buildUnitCheck(
		json.RawMessage(`{"units_file": "/nonexistent/units.txt"}`),
		testDeps(&fakeReporter{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := run(context.Background()); err == nil {
		t.Fatal("unreadable units file should fail the run")
	}
}

func TestBuildSpeedtestDefaults(t *testing.T) {
	if _, err := buildSpeedtest(json.RawMessage(`{"servers": 3}`), testDeps(&fakeReporter{})); err != nil {
		t.Fatalf("build: %v", err)
	}
	raw := json.RawMessage(`{"fail_streakz": 1}`)
	if _, err := buildSpeedtest(raw, testDeps(&fakeReporter{})); err == nil {
		t.Fatal("unknown key should fail")
	}
}

// jsonQuote quotes a string as a JSON literal for inline blobs.
func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
