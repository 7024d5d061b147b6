package state

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoReport is returned by Read when no report has been written yet.
var ErrNoReport = errors.New("no status report has been written yet")

// Backend stores the last cycle report.
type Backend interface {
	// Read loads the last report. Returns ErrNoReport if there is none.
	Read(ctx context.Context) (*Report, error)

	// Write replaces the stored report.
	Write(ctx context.Context, report *Report) error
}

// BackendConfig holds configuration for a report backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local", "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a report backend from configuration.
func NewBackend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewManager(path), nil
	case "s3":
		return newS3Backend(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// MultiBackend writes every report to all backends and reads from the
// first one that has a report.
type MultiBackend []Backend

func (m MultiBackend) Read(ctx context.Context) (*Report, error) {
	var errs []error
	for _, b := range m {
		r, err := b.Read(ctx)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrNoReport) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrNoReport
}

func (m MultiBackend) Write(ctx context.Context, report *Report) error {
	var errs []error
	for _, b := range m {
		if err := b.Write(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
