package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Lock marks the project directory as driven by this process. A lock that
// has not been refreshed within the stale period is taken over.
func (m *Manager) Lock() error {
	lockPath := m.LockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > m.staleAfter {
			os.Remove(lockPath)
		} else {
			return fmt.Errorf("another stack-deploy agent holds the lock (lock file: %s). "+
				"If this is an error, remove the lock file manually", lockPath)
		}
	}

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// Refresh bumps the lock's modification time so it does not go stale.
func (m *Manager) Refresh() error {
	now := time.Now()
	if err := os.Chtimes(m.LockPath(), now, now); err != nil {
		return fmt.Errorf("failed to refresh lock file: %w", err)
	}
	return nil
}

// Unlock releases the lock.
func (m *Manager) Unlock() error {
	lockPath := m.LockPath()
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// LockPath returns the lock file path.
func (m *Manager) LockPath() string {
	return filepath.Join(filepath.Dir(m.path), "agent.lock")
}
