// Package repo keeps the local checkout of the infrastructure repository in
// sync with its remote using the git CLI.
package repo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// TokenEnvVar carries the access token to the credential helper. The token
// is only ever placed in the git child's environment.
const TokenEnvVar = "GITHUB_TOKEN"

// credentialHelper answers "get" requests with the token from the
// environment and ignores "store" and "erase".
const credentialHelper = `!f(){ test "$1" = get && echo "password=${` + TokenEnvVar + `}"; }; f`

// Credentials authenticate HTTPS fetches.
type Credentials struct {
	Username string
	Token    string
}

// Repository runs git commands against one working tree. All commands
// target the directory via "git -C <dir>".
type Repository struct {
	dir   string
	creds Credentials
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string, creds Credentials) *Repository {
	return &Repository{dir: dir, creds: creds}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command in the repository and returns stdout. Stderr
// is included in the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, append([]string{"-C", r.dir}, args...), args)
}

// Clone clones url into the repository directory.
func (r *Repository) Clone(ctx context.Context, url string) error {
	args := []string{"clone", "--quiet", url, r.dir}
	_, err := r.run(ctx, args, args)
	return err
}

// Head returns the commit hash HEAD points to.
func (r *Repository) Head(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Repository) run(ctx context.Context, fullArgs, display []string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", append(r.credentialArgs(), fullArgs...)...)
	command.Env = r.environ()
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(display, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// credentialArgs passes credentials as per-invocation config so they are
// never written to .git/config.
func (r *Repository) credentialArgs() []string {
	if r.creds.Token == "" {
		return nil
	}
	var args []string
	if r.creds.Username != "" {
		args = append(args, "-c", "credential.username="+r.creds.Username)
	}
	return append(args, "-c", "credential.helper=", "-c", "credential.helper="+credentialHelper)
}

func (r *Repository) environ() []string {
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if r.creds.Token != "" {
		env = append(env, TokenEnvVar+"="+r.creds.Token)
	}
	return env
}
