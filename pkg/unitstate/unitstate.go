// Package unitstate queries systemd unit state over D-Bus.
//
// It is a read-only surface: callers get the current active/load state of a
// set of units and nothing else. Non-Linux builds compile against a stub
// that returns ErrUnsupported.
package unitstate

import "strings"

// UnitStatus is the state of one queried unit.
type UnitStatus struct {
	Name        string
	Active      string
	Sub         string
	Load        string
	Description string
}

// Healthy reports whether the unit is loaded and active.
func (u UnitStatus) Healthy() bool {
	return u.Active == "active" && u.Load != "not-found"
}

// NotFound reports whether systemd knows no unit by this name.
func (u UnitStatus) NotFound() bool {
	return u.Load == "not-found"
}

// normalizeUnit appends ".service" to bare names. Names that already carry
// a unit suffix ("nginx.service", "backup.timer") pass through unchanged.
func normalizeUnit(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}
