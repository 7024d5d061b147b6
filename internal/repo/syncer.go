package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/logging"
)

// StatusKind describes what a sync did to the checkout.
type StatusKind int

const (
	StatusCloned StatusKind = iota
	StatusUpdated
	StatusSame
	// StatusLocal means there is no remote; the directory is used as is.
	StatusLocal
)

func (k StatusKind) String() string {
	switch k {
	case StatusCloned:
		return "cloned"
	case StatusUpdated:
		return "updated"
	case StatusSame:
		return "unchanged"
	default:
		return "local"
	}
}

// Status is the result of one sync.
type Status struct {
	Kind   StatusKind
	Commit string
}

// Changed reports whether the checkout may differ from the last sync.
// Local directories always count as changed.
func (s Status) Changed() bool {
	return s.Kind != StatusSame
}

// SyncError reports a failed clone or pull. It is transient from the
// controller's point of view: the next poll retries.
type SyncError struct {
	URL string
	Dir string
	Err error
}

func (e *SyncError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("failed to read repository %s: %v", e.Dir, e.Err)
	}
	return fmt.Sprintf("failed to update repository %s from %s: %v", e.Dir, e.URL, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// GitSyncer clones the remote on first use and pulls with rebase afterwards.
type GitSyncer struct {
	url   string
	repo  *Repository
	retry *engine.RetryPolicy
}

// NewGitSyncer returns a syncer for url checked out at dir.
func NewGitSyncer(url, dir string, creds Credentials) *GitSyncer {
	return &GitSyncer{url: url, repo: NewRepository(dir, creds), retry: engine.DefaultRetryPolicy()}
}

// SetRetryPolicy overrides the backoff used for transient fetch failures.
func (s *GitSyncer) SetRetryPolicy(p *engine.RetryPolicy) {
	s.retry = p
}

// Sync brings the checkout up to date and reports whether HEAD moved.
func (s *GitSyncer) Sync(ctx context.Context) (Status, error) {
	dir := s.repo.Dir()
	info, err := os.Stat(filepath.Join(dir, ".git"))
	fresh := err != nil || !info.IsDir()

	var before string
	if fresh {
		if err := os.RemoveAll(dir); err != nil {
			logging.Warn("failed to remove stale checkout", "dir", dir, "error", err)
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return Status{}, &SyncError{URL: s.url, Dir: dir, Err: err}
		}
		logging.Info("cloning repository", "url", s.url, "dir", dir)
		err = engine.RetryWithBackoff(ctx, s.retry, func() error {
			// a failed clone can leave a partial directory behind
			_ = os.RemoveAll(dir)
			return s.repo.Clone(ctx, s.url)
		}, engine.IsTransientError)
	} else {
		before, _ = s.repo.Head(ctx)
		logging.Debug("pulling repository", "dir", dir)
		err = engine.RetryWithBackoff(ctx, s.retry, func() error {
			_, err := s.repo.Run(ctx, "pull", "--rebase", "--quiet")
			return err
		}, engine.IsTransientError)
	}
	if err != nil {
		return Status{}, &SyncError{URL: s.url, Dir: dir, Err: err}
	}

	after, err := s.repo.Head(ctx)
	if err != nil {
		return Status{}, &SyncError{URL: s.url, Dir: dir, Err: err}
	}

	status := Status{Commit: after}
	switch {
	case before == "":
		status.Kind = StatusCloned
	case before == after:
		status.Kind = StatusSame
	default:
		status.Kind = StatusUpdated
	}
	logging.Info("repository synced", "status", status.Kind.String(), "commit", after)
	return status, nil
}

// LocalSyncer uses a directory without fetching anything.
type LocalSyncer struct {
	repo *Repository
}

// NewLocalSyncer returns a syncer for a directory managed by someone else.
func NewLocalSyncer(dir string) *LocalSyncer {
	return &LocalSyncer{repo: NewRepository(dir, Credentials{})}
}

// Sync checks that the directory exists and records its commit if it is a
// git checkout.
func (s *LocalSyncer) Sync(ctx context.Context) (Status, error) {
	dir := s.repo.Dir()
	info, err := os.Stat(dir)
	if err != nil {
		return Status{}, &SyncError{Dir: dir, Err: err}
	}
	if !info.IsDir() {
		return Status{}, &SyncError{Dir: dir, Err: errors.New("not a directory")}
	}
	commit, _ := s.repo.Head(ctx)
	return Status{Kind: StatusLocal, Commit: commit}, nil
}
