package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultStaleAfter is how long a lock file may go without a refresh before
// another agent may take it over.
const DefaultStaleAfter = 10 * time.Minute

// Manager keeps the report in a local JSON file and guards the project
// directory with a lock file next to it.
type Manager struct {
	path       string
	staleAfter time.Duration
}

// NewManager returns a manager for the report at path.
func NewManager(path string) *Manager {
	return &Manager{path: path, staleAfter: DefaultStaleAfter}
}

// Path returns the report file path.
func (m *Manager) Path() string {
	return m.path
}

// SetStaleAfter changes how old an unrefreshed lock must be to be ignored.
func (m *Manager) SetStaleAfter(d time.Duration) {
	if d > 0 {
		m.staleAfter = d
	}
}

// Read loads the report from disk.
func (m *Manager) Read(ctx context.Context) (*Report, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("failed to read status report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse status report %s: %w", m.path, err)
	}
	return &r, nil
}

// Write saves the report, replacing the previous one atomically.
func (m *Manager) Write(ctx context.Context, report *Report) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status report: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".status-*.json")
	if err != nil {
		return fmt.Errorf("failed to write status report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write status report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write status report: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to write status report: %w", err)
	}
	return nil
}
