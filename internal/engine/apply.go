package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/picklr-io/stackdeploy/internal/secrets"
)

// Deployer brings a single stack up or down. Implementations block until
// the underlying invocation has finished.
type Deployer interface {
	Up(ctx context.Context, stack *ir.StackDescriptor, env secrets.Env) error
	Down(ctx context.Context, stack *ir.StackDescriptor) error
}

// ApplyEvent represents a progress event during a deployment.
type ApplyEvent struct {
	Stack    string
	Action   string // "up", "down"
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ErrNoStore is returned for a stack with secret bindings when no credential
// store was opened for the cycle.
var ErrNoStore = errors.New("stack declares secret_env but no credential store is open")

// Engine executes deployment plans one stack at a time.
type Engine struct {
	deployer Deployer
	timeout  time.Duration
}

// NewEngine returns an engine that hands stacks to deployer.
func NewEngine(deployer Deployer) *Engine {
	return &Engine{deployer: deployer, timeout: DefaultTimeout}
}

// SetTimeout bounds a single Up or Down invocation.
func (e *Engine) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Execute deploys plan in order and returns one outcome per planned stack.
func (e *Engine) Execute(ctx context.Context, plan *ir.Plan, dag *DAG, store secrets.Store) []ir.Outcome {
	return e.ExecuteWithCallback(ctx, plan, dag, store, nil)
}

// ExecuteWithCallback deploys plan in order with progress event callbacks.
//
// A stack whose secrets cannot be resolved, or whose deployment fails, is
// recorded as failed and all of its transitive dependents are skipped.
// Independent stacks are still attempted. Once ctx is cancelled the stack in
// flight runs to completion and every later stack is skipped.
func (e *Engine) ExecuteWithCallback(ctx context.Context, plan *ir.Plan, dag *DAG, store secrets.Store, callback ApplyCallback) []ir.Outcome {
	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	outcomes := make([]ir.Outcome, 0, len(plan.Stacks))
	skipped := make(map[string]ir.Outcome)

	for _, stack := range plan.Stacks {
		if o, ok := skipped[stack.Name]; ok {
			logging.Warn("skipping stack", "stack", stack.Name, "reason", o.Reason, "caused_by", o.CausedBy)
			emit(ApplyEvent{Stack: stack.Name, Action: "up", Status: "skipped"})
			outcomes = append(outcomes, o)
			continue
		}
		if ctx.Err() != nil {
			logging.Info("not starting stack after shutdown request", "stack", stack.Name)
			emit(ApplyEvent{Stack: stack.Name, Action: "up", Status: "skipped"})
			outcomes = append(outcomes, ir.Outcome{Stack: stack.Name, Status: ir.OutcomeSkipped, Reason: ir.ReasonShutdown})
			continue
		}

		start := time.Now()
		emit(ApplyEvent{Stack: stack.Name, Action: "up", Status: "started"})
		logging.Info("deploying stack", "stack", stack.Name, "dir", stack.Directory)

		if err := e.deploy(ctx, stack, store); err != nil {
			elapsed := time.Since(start)
			logging.Error("stack deployment failed", "stack", stack.Name, "error", err)
			emit(ApplyEvent{Stack: stack.Name, Action: "up", Status: "failed", Duration: elapsed, Error: err})
			outcomes = append(outcomes, ir.Outcome{Stack: stack.Name, Status: ir.OutcomeFailed, Err: err, Duration: elapsed})

			for _, dependent := range dag.TransitiveDependents(stack.Name) {
				if _, already := skipped[dependent]; already {
					continue
				}
				skipped[dependent] = ir.Outcome{
					Stack:    dependent,
					Status:   ir.OutcomeSkipped,
					Reason:   ir.ReasonDependencyFailed,
					CausedBy: stack.Name,
				}
			}
			continue
		}

		elapsed := time.Since(start)
		logging.Info("stack deployed", "stack", stack.Name, "duration", elapsed)
		emit(ApplyEvent{Stack: stack.Name, Action: "up", Status: "completed", Duration: elapsed})
		outcomes = append(outcomes, ir.Outcome{Stack: stack.Name, Status: ir.OutcomeDeployed, Duration: elapsed})
	}

	return outcomes
}

// deploy resolves the stack's secrets, runs Up and releases the secrets
// again before returning. Up is detached from ctx cancellation so that a
// shutdown never interrupts a running invocation.
func (e *Engine) deploy(ctx context.Context, stack *ir.StackDescriptor, store secrets.Store) error {
	env := secrets.Env{}
	if stack.HasSecrets() {
		if store == nil {
			return ErrNoStore
		}
		resolved, err := secrets.Resolve(store, stack.SecretEnv)
		if err != nil {
			return err
		}
		env = resolved
	}
	defer func() {
		if err := env.Close(); err != nil {
			logging.Warn("failed to release secret environment", "stack", stack.Name, "error", err)
		}
	}()

	runCtx, cancel := WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	return e.deployer.Up(runCtx, stack, env)
}

// Teardown stops the planned stacks in reverse deployment order. A stack
// that fails to stop keeps its dependencies running: they are skipped.
func (e *Engine) Teardown(ctx context.Context, plan *ir.Plan, dag *DAG) []ir.Outcome {
	return e.TeardownWithCallback(ctx, plan, dag, nil)
}

// TeardownWithCallback is Teardown with progress event callbacks.
func (e *Engine) TeardownWithCallback(ctx context.Context, plan *ir.Plan, dag *DAG, callback ApplyCallback) []ir.Outcome {
	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	outcomes := make([]ir.Outcome, 0, len(plan.Stacks))
	skipped := make(map[string]ir.Outcome)

	for i := len(plan.Stacks) - 1; i >= 0; i-- {
		stack := plan.Stacks[i]
		if o, ok := skipped[stack.Name]; ok {
			emit(ApplyEvent{Stack: stack.Name, Action: "down", Status: "skipped"})
			outcomes = append(outcomes, o)
			continue
		}
		if ctx.Err() != nil {
			emit(ApplyEvent{Stack: stack.Name, Action: "down", Status: "skipped"})
			outcomes = append(outcomes, ir.Outcome{Stack: stack.Name, Status: ir.OutcomeSkipped, Reason: ir.ReasonShutdown})
			continue
		}

		start := time.Now()
		emit(ApplyEvent{Stack: stack.Name, Action: "down", Status: "started"})
		logging.Info("stopping stack", "stack", stack.Name, "dir", stack.Directory)

		runCtx, cancel := WithTimeout(context.WithoutCancel(ctx), e.timeout)
		err := e.deployer.Down(runCtx, stack)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			err = fmt.Errorf("failed to stop %s: %w", stack.Name, err)
			logging.Error("stack teardown failed", "stack", stack.Name, "error", err)
			emit(ApplyEvent{Stack: stack.Name, Action: "down", Status: "failed", Duration: elapsed, Error: err})
			outcomes = append(outcomes, ir.Outcome{Stack: stack.Name, Status: ir.OutcomeFailed, Err: err, Duration: elapsed})
			for _, dep := range dag.TransitiveDependencies(stack.Name) {
				if _, already := skipped[dep]; !already {
					skipped[dep] = ir.Outcome{Stack: dep, Status: ir.OutcomeSkipped, Reason: ir.ReasonDependentRunning, CausedBy: stack.Name}
				}
			}
			continue
		}

		emit(ApplyEvent{Stack: stack.Name, Action: "down", Status: "completed", Duration: elapsed})
		outcomes = append(outcomes, ir.Outcome{Stack: stack.Name, Status: ir.OutcomeStopped, Duration: elapsed})
	}
	return outcomes
}

// OutcomeError joins the errors of every failed outcome, or returns nil.
func OutcomeError(outcomes []ir.Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Status == ir.OutcomeFailed {
			errs = append(errs, fmt.Errorf("%s: %w", o.Stack, o.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d stack(s) failed: %w", len(errs), errors.Join(errs...))
}
