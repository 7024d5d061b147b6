package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/picklr-io/stackdeploy/internal/secrets"
)

// ExecutorError reports a compose invocation that did not succeed.
type ExecutorError struct {
	Stack    string
	Command  string
	ExitCode int // -1 if the command never ran
	Output   string
	Err      error
}

func (e *ExecutorError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stack, e.Command)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" exited with status %d", e.ExitCode)
	} else if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ExecutorError) Unwrap() error { return e.Err }

var (
	upArgs   = []string{"compose", "up", "--remove-orphans", "--detach", "--wait"}
	downArgs = []string{"compose", "down", "--remove-orphans"}
)

// Executor deploys stacks by running docker compose in their directory.
type Executor struct {
	// Binary is the docker CLI to run. Defaults to "docker".
	Binary string
	// Output receives the compose command's stdout and stderr. Defaults to os.Stderr.
	Output io.Writer
	// SkipPreflight disables loading the compose manifest before Up.
	SkipPreflight bool
}

// NewExecutor returns an executor using the docker CLI on PATH.
func NewExecutor() *Executor {
	return &Executor{Binary: "docker", Output: os.Stderr}
}

// Up validates the stack's compose manifest and runs
// "docker compose up --remove-orphans --detach --wait" with env added to the
// inherited environment.
func (x *Executor) Up(ctx context.Context, stack *ir.StackDescriptor, env secrets.Env) error {
	if !x.SkipPreflight {
		if _, err := LoadManifest(ctx, stack.Directory, stack.SecretEnvNames()); err != nil {
			return &ExecutorError{Stack: stack.Name, Command: "load compose manifest", ExitCode: -1, Err: err}
		}
	}
	return x.run(ctx, stack, env, upArgs)
}

// Down runs "docker compose down --remove-orphans".
func (x *Executor) Down(ctx context.Context, stack *ir.StackDescriptor) error {
	return x.run(ctx, stack, nil, downArgs)
}

func (x *Executor) run(ctx context.Context, stack *ir.StackDescriptor, env secrets.Env, args []string) error {
	binary := x.Binary
	if binary == "" {
		binary = "docker"
	}
	out := x.Output
	if out == nil {
		out = os.Stderr
	}
	command := binary + " " + strings.Join(args, " ")

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = stack.Directory
	cmd.Env = append(os.Environ(), env.Environ()...)

	var stderr tailBuffer
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(out, &stderr)

	logging.Debug("running compose", "stack", stack.Name, "dir", stack.Directory, "command", command, "secret_env", env.Names())
	err := cmd.Run()
	if err == nil {
		return nil
	}

	xerr := &ExecutorError{Stack: stack.Name, Command: command, ExitCode: -1, Output: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		xerr.ExitCode = exitErr.ExitCode()
	}
	return xerr
}

const tailLimit = 4096

// tailBuffer keeps the last tailLimit bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - tailLimit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
