package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pacer/pkg/notify"
	"pacer/pkg/textparse"
	"pacer/pkg/unitstate"
)

type unitCheckConfig struct {
	// Units lists unit names inline; UnitsFile adds more from a lines
	// file. At least one of the two must yield a name.
	Units     []string `json:"units,omitempty"`
	UnitsFile string   `json:"units_file,omitempty"`
	Timeout   string   `json:"timeout,omitempty"`
}

const defaultUnitCheckTimeout = 10 * time.Second

func buildUnitCheck(raw json.RawMessage, deps Deps) (RunFunc, error) {
	var c unitCheckConfig
	if err := decodeConfig(raw, &c); err != nil {
		return nil, err
	}
	if len(c.Units) == 0 && c.UnitsFile == "" {
		return nil, fmt.Errorf("units or units_file is required")
	}
	timeout := textparse.SafeDuration(c.Timeout, defaultUnitCheckTimeout)

	return func(ctx context.Context) (string, error) {
		units := append([]string(nil), c.Units...)
		if c.UnitsFile != "" {
			extra, err := textparse.ReadLines(c.UnitsFile)
			if err != nil {
				return "", fmt.Errorf("read units: %w", err)
			}
			units = append(units, extra...)
		}
		if len(units) == 0 {
			return "no units", nil
		}

		queryCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		statuses, err := unitstate.Query(queryCtx, units)
		if err != nil {
			return "", err
		}

		var down []string
		for _, st := range statuses {
			if st.Healthy() {
				continue
			}
			state := st.Active
			if st.NotFound() {
				state = "not-found"
			}
			down = append(down, st.Name+" "+state)
		}

		detail := fmt.Sprintf("%d/%d units active", len(statuses)-len(down), len(statuses))
		if len(down) > 0 {
			deps.Reporter.ReportStatus(
				fmt.Sprintf("unit check: %s", strings.Join(down, ", ")),
				notify.High)
		}
		return detail, nil
	}, nil
}
