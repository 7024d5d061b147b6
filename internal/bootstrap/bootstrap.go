// Package bootstrap prepares a project directory that runs the agent as a
// compose project on the host it manages.
package bootstrap

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/picklr-io/stackdeploy/internal/secrets"
)

//go:embed compose.yml
var composeTemplate []byte

const (
	ComposeFile = "compose.yml"
	EnvFile     = ".env"
	// ProjectName is the compose project the agent runs as.
	ProjectName = "stack-deploy"

	DefaultUsername     = "oauth2"
	DefaultPollInterval = 300
)

// Launcher starts the compose project in a directory.
type Launcher interface {
	Up(ctx context.Context, stack *ir.StackDescriptor, env secrets.Env) error
}

// PromptFunc reads one value from the operator without echo.
type PromptFunc func(label string) (*secrets.Value, error)

// Options configures Bootstrap.
type Options struct {
	ProjectDir   string
	GitURL       string
	GitUsername  string
	PollInterval int
	// Hostname is the host name the agent plans for. Defaults to os.Hostname.
	Hostname string
	// Token and Passphrase are prompted for when nil.
	Token      *secrets.Value
	Passphrase *secrets.Value
	Prompt     PromptFunc
	// Launcher runs docker compose. Nil only writes the files.
	Launcher Launcher
}

// Bootstrap writes compose.yml and .env into the project directory and
// starts the agent.
func Bootstrap(ctx context.Context, opts Options) error {
	if opts.ProjectDir == "" {
		return errors.New("project directory is required")
	}
	if opts.GitURL == "" {
		return errors.New("git url is required")
	}
	if opts.GitUsername == "" {
		opts.GitUsername = DefaultUsername
	}
	if opts.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %d", opts.PollInterval)
	}
	if opts.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to determine hostname: %w", err)
		}
		opts.Hostname = h
	}
	if opts.Prompt == nil {
		opts.Prompt = secrets.PromptPassphrase
	}

	dir, err := filepath.Abs(opts.ProjectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", opts.ProjectDir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	token := opts.Token
	if token == nil {
		if token, err = opts.Prompt("Github Token:"); err != nil {
			return err
		}
		defer token.Close()
	}
	passphrase := opts.Passphrase
	if passphrase == nil {
		if passphrase, err = opts.Prompt("KeePass Passphrase:"); err != nil {
			return err
		}
		defer passphrase.Close()
	}

	composePath := filepath.Join(dir, ComposeFile)
	if err := os.WriteFile(composePath, composeTemplate, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", composePath, err)
	}
	logging.Info("wrote compose file", "path", composePath)

	entries := []envEntry{
		{"GITHUB_URL", []byte(opts.GitURL)},
		{"GITHUB_USERNAME", []byte(opts.GitUsername)},
		{"GITHUB_TOKEN", token.Bytes()},
		{secrets.PassphraseEnvVar, passphrase.Bytes()},
		{"POLL_INTERVAL", []byte(strconv.Itoa(opts.PollInterval))},
		{"STACK_HOSTNAME", []byte(opts.Hostname)},
		{"STACK_DEPLOY_DIR", []byte(dir)},
	}
	envPath := filepath.Join(dir, EnvFile)
	if err := writeEnvFile(envPath, entries); err != nil {
		return err
	}
	logging.Info("wrote environment file", "path", envPath)

	if opts.Launcher == nil {
		return nil
	}
	logging.Info("starting agent", "project_dir", dir)
	stack := &ir.StackDescriptor{Name: ProjectName, Directory: dir, RunsOn: []string{ir.AnyHost}}
	return opts.Launcher.Up(ctx, stack, nil)
}

type envEntry struct {
	key   string
	value []byte
}

// writeEnvFile writes a dotenv file readable only by the owner. Values are
// single quoted so compose does not interpolate them.
func writeEnvFile(path string, entries []envEntry) error {
	var size int
	for _, e := range entries {
		if bytes.ContainsAny(e.value, "'\n\r") {
			return fmt.Errorf("%s must not contain quotes or line breaks", e.key)
		}
		size += len(e.key) + len(e.value) + 4
	}

	buf := make([]byte, 0, size)
	defer secrets.Zero(buf[:cap(buf)])
	for _, e := range entries {
		buf = append(buf, e.key...)
		buf = append(buf, "='"...)
		buf = append(buf, e.value...)
		buf = append(buf, "'\n"...)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to restrict %s: %w", path, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
