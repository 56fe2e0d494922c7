package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pacer/pkg/logx"
	"pacer/pkg/notify"
	"pacer/pkg/textparse"
)

type httpProbeConfig struct {
	// TargetsFile is a lines file of URLs, one per line, # comments and
	// blank lines skipped. It is re-read on every run so the list can be
	// edited without touching the daemon config.
	TargetsFile string `json:"targets_file"`
	Timeout     string `json:"timeout,omitempty"`
	Method      string `json:"method,omitempty"`
}

const defaultProbeTimeout = 10 * time.Second

// probe bodies are drained to reuse connections, but never fully: a huge
// response should not stall the run.
const probeBodyLimit = 4 << 10

func buildHTTPProbe(raw json.RawMessage, deps Deps) (RunFunc, error) {
	var c httpProbeConfig
	if err := decodeConfig(raw, &c); err != nil {
		return nil, err
	}
	if c.TargetsFile == "" {
		return nil, fmt.Errorf("targets_file is required")
	}
	method := strings.ToUpper(strings.TrimSpace(c.Method))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodHead:
	default:
		return nil, fmt.Errorf("method must be GET or HEAD, got %q", c.Method)
	}
	timeout := textparse.SafeDuration(c.Timeout, defaultProbeTimeout)

	client := &http.Client{}
	return func(ctx context.Context) (string, error) {
		targets, err := textparse.ReadLines(c.TargetsFile)
		if err != nil {
			return "", fmt.Errorf("read targets: %w", err)
		}
		if len(targets) == 0 {
			return "no targets", nil
		}

		var failed []string
		for _, target := range targets {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if err := probeOne(ctx, client, method, target, timeout); err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", target, err))
				deps.Log.Debug("probe target failed",
					logx.String("target", target), logx.Err(err))
			}
		}

		detail := fmt.Sprintf("%d/%d targets ok", len(targets)-len(failed), len(targets))
		if len(failed) > 0 {
			deps.Reporter.ReportStatus(
				fmt.Sprintf("http probe: %s; %s", detail, strings.Join(failed, "; ")),
				notify.Mid)
		}
		return detail, nil
	}, nil
}

// probeOne counts any status below 400 as up. Targets without a scheme get
// https:// prepended so the lines file can stay short.
func probeOne(ctx context.Context, client *http.Client, method, target string, timeout time.Duration) error {
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, probeBodyLimit))
	_ = resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
