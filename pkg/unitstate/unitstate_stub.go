//go:build !linux

package unitstate

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("unitstate: unsupported OS (linux only)")

// Query is unavailable off Linux.
func Query(ctx context.Context, units []string) ([]UnitStatus, error) {
	return nil, ErrUnsupported
}
