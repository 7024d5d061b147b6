package repo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	command.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.local",
	)
	output, err := command.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), output)
	return strings.TrimSpace(string(output))
}

// initRemote creates a bare repository with one commit and returns its path
// along with a working clone used to push further commits.
func initRemote(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	remote := filepath.Join(root, "remote.git")
	work := filepath.Join(root, "work")

	git(t, root, "init", "--quiet", "--bare", "--initial-branch=main", remote)
	git(t, root, "clone", "--quiet", remote, work)
	git(t, work, "checkout", "--quiet", "-b", "main")
	commitFile(t, work, "stack-deploy.toml", "name = \"a\"\nruns_on = [\"*\"]\n")
	return remote, work
}

func commitFile(t *testing.T, work, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(work, name), []byte(content), 0o644))
	git(t, work, "add", name)
	git(t, work, "commit", "--quiet", "-m", "update "+name)
	git(t, work, "push", "--quiet", "origin", "main")
}

func noRetry() *engine.RetryPolicy {
	return &engine.RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestGitSyncer_CloneThenPull(t *testing.T) {
	remote, work := initRemote(t)
	dir := filepath.Join(t.TempDir(), "checkout")
	s := NewGitSyncer(remote, dir, Credentials{})
	s.SetRetryPolicy(noRetry())
	ctx := context.Background()

	status, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCloned, status.Kind)
	assert.True(t, status.Changed())
	assert.FileExists(t, filepath.Join(dir, "stack-deploy.toml"))
	assert.Equal(t, git(t, work, "rev-parse", "HEAD"), status.Commit)

	status, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSame, status.Kind)
	assert.False(t, status.Changed())

	commitFile(t, work, "README", "hello\n")
	status, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, status.Kind)
	assert.True(t, status.Changed())
	assert.Equal(t, git(t, work, "rev-parse", "HEAD"), status.Commit)
	assert.FileExists(t, filepath.Join(dir, "README"))
}

func TestGitSyncer_ReplacesStaleDirectory(t *testing.T) {
	remote, _ := initRemote(t)
	dir := filepath.Join(t.TempDir(), "checkout")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover"), []byte("x"), 0o644))

	s := NewGitSyncer(remote, dir, Credentials{})
	s.SetRetryPolicy(noRetry())

	status, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCloned, status.Kind)
	assert.NoFileExists(t, filepath.Join(dir, "leftover"))
}

func TestGitSyncer_Failure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkout")
	s := NewGitSyncer(filepath.Join(t.TempDir(), "does-not-exist.git"), dir, Credentials{})
	s.SetRetryPolicy(noRetry())

	_, err := s.Sync(context.Background())
	var serr *SyncError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, dir, serr.Dir)
	assert.Contains(t, err.Error(), "failed to update repository")
}

func TestLocalSyncer(t *testing.T) {
	_, work := initRemote(t)

	status, err := NewLocalSyncer(work).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusLocal, status.Kind)
	assert.True(t, status.Changed())
	assert.NotEmpty(t, status.Commit)

	plain := t.TempDir()
	status, err = NewLocalSyncer(plain).Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.Commit)

	_, err = NewLocalSyncer(filepath.Join(plain, "missing")).Sync(context.Background())
	var serr *SyncError
	assert.True(t, errors.As(err, &serr))
}

func TestRepository_CredentialArgs(t *testing.T) {
	r := NewRepository("/srv/infra", Credentials{Username: "oauth2", Token: "ghp_secret"})

	args := r.credentialArgs()
	assert.Equal(t, []string{
		"-c", "credential.username=oauth2",
		"-c", "credential.helper=",
		"-c", "credential.helper=" + credentialHelper,
	}, args)
	for _, a := range args {
		assert.NotContains(t, a, "ghp_secret")
	}
	assert.Contains(t, r.environ(), TokenEnvVar+"=ghp_secret")

	assert.Empty(t, NewRepository("/srv/infra", Credentials{}).credentialArgs())
}

func TestRepository_RunError(t *testing.T) {
	r := NewRepository(t.TempDir(), Credentials{})
	_, err := r.Run(context.Background(), "rev-parse", "HEAD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git rev-parse HEAD in")
	assert.Contains(t, err.Error(), "stderr:")
}
