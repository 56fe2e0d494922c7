//go:build linux

package unitstate

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Query connects to the system bus, resolves the state of every named unit
// and closes the connection again. Units systemd does not know come back
// with Load "not-found" rather than an error.
func Query(ctx context.Context, units []string) ([]UnitStatus, error) {
	if len(units) == 0 {
		return nil, nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	out := make([]UnitStatus, 0, len(units))
	for _, name := range units {
		unit := normalizeUnit(name)
		st, err := queryOne(ctx, conn, unit)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", unit, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func queryOne(ctx context.Context, conn *dbus.Conn, unit string) (UnitStatus, error) {
	listed, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{unit})
	if err != nil {
		return UnitStatus{}, err
	}
	for _, u := range listed {
		if u.Name != unit {
			continue
		}
		return UnitStatus{
			Name:        unit,
			Active:      u.ActiveState,
			Sub:         u.SubState,
			Load:        u.LoadState,
			Description: u.Description,
		}, nil
	}
	// Patterns silently skip unloaded units, so absence here does not mean
	// the unit exists nowhere on disk. For a health probe that distinction
	// does not matter: not loaded is not running.
	return UnitStatus{
		Name:   unit,
		Active: "unknown",
		Sub:    "not-found",
		Load:   "not-found",
	}, nil
}
