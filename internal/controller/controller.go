// Package controller drives the sync, plan, deploy and cooldown loop for one
// host.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/picklr-io/stackdeploy/internal/clock"
	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/picklr-io/stackdeploy/internal/repo"
	"github.com/picklr-io/stackdeploy/internal/secrets"
	"github.com/picklr-io/stackdeploy/internal/state"
)

// State is the controller's position in the cycle.
type State int

const (
	Idle State = iota
	Syncing
	Planning
	Deploying
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Planning:
		return "planning"
	case Deploying:
		return "deploying"
	case Cooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrCycleActive is returned when a cycle is requested while another one
// is still running.
var ErrCycleActive = errors.New("a deployment cycle is already running")

// Syncer updates the local checkout of the repository.
type Syncer interface {
	Sync(ctx context.Context) (repo.Status, error)
}

// Executor deploys a validated plan.
type Executor interface {
	Execute(ctx context.Context, plan *ir.Plan, dag *engine.DAG, store secrets.Store) []ir.Outcome
}

// LoadFunc reads every stack declaration of the repository.
type LoadFunc func(ctx context.Context) ([]*ir.StackDescriptor, error)

// Options configures a Controller.
type Options struct {
	Host string
	// PollInterval is the time between cycles. Zero runs a single cycle.
	PollInterval time.Duration
	// Cooldown is spent after a cycle that planned something.
	Cooldown time.Duration
	// AwaitTrigger keeps Run alive after the single cycle of a zero poll
	// interval, waiting for Trigger.
	AwaitTrigger bool

	Syncer   Syncer
	Load     LoadFunc
	Executor Executor
	// Secrets opens the credential store. Nil means no store is available.
	Secrets secrets.Opener
	// Reports receives a report after every cycle that got past syncing.
	Reports state.Backend
	Clock   clock.Clock

	// Heartbeat is called at the start of every cycle.
	Heartbeat func() error
	// OnTransition observes state changes.
	OnTransition func(from, to State)
	// OnCycle observes finished cycles.
	OnCycle func(Result)
}

// Result describes one cycle.
type Result struct {
	CycleID    string
	Synced     bool
	Sync       repo.Status
	Changed    bool
	Plan       *ir.Plan
	Outcomes   []ir.Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Controller owns the cycle state. Only the controller itself changes it;
// Trigger merely requests a cycle.
type Controller struct {
	opts    Options
	trigger chan struct{}

	mu       sync.Mutex
	state    State
	firstRun bool
	last     *Result
}

// New validates opts and returns an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Host == "" {
		return nil, errors.New("controller: host is required")
	}
	if opts.Syncer == nil || opts.Load == nil || opts.Executor == nil {
		return nil, errors.New("controller: syncer, loader and executor are required")
	}
	if opts.PollInterval < 0 || opts.Cooldown < 0 {
		return nil, errors.New("controller: poll interval and cooldown must not be negative")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Controller{
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		state:    Idle,
		firstRun: true,
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastResult returns the most recent finished cycle, or nil.
func (c *Controller) LastResult() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Trigger requests a cycle as soon as the controller is idle. At most one
// request is remembered; it reports false if one was already pending.
func (c *Controller) Trigger() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	logging.Debug("state transition", "from", from.String(), "to", to.String())
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(from, to)
	}
}

// Run performs a cycle immediately and then one per poll interval or
// trigger until ctx is cancelled. A store unlock failure on the first
// cycle that gets past syncing is returned as a startup error. With a zero poll interval Run
// returns the error of its single cycle.
func (c *Controller) Run(ctx context.Context) error {
	logging.Info("starting sync controller", "host", c.opts.Host, "poll_interval", c.opts.PollInterval)

	first := true
	for {
		res, err := c.RunCycle(ctx)
		if err != nil {
			logging.Warn("cycle not started", "error", err)
		} else {
			if first && IsStartupFailure(res.Err) {
				return res.Err
			}
			if res.Synced {
				first = false
			}
		}

		if ctx.Err() != nil {
			logging.Info("sync controller stopped")
			return nil
		}

		if c.opts.PollInterval == 0 {
			if !c.opts.AwaitTrigger {
				if IsFatal(res.Err) {
					return res.Err
				}
				return nil
			}
			select {
			case <-ctx.Done():
				logging.Info("sync controller stopped")
				return nil
			case <-c.trigger:
				logging.Info("manual trigger received")
			}
			continue
		}

		timer := c.opts.Clock.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Info("sync controller stopped")
			return nil
		case <-timer.C:
		case <-c.trigger:
			timer.Stop()
			logging.Info("manual trigger received")
		}
	}
}

// RunCycle performs one full cycle and returns to Idle. It returns
// ErrCycleActive if another cycle is in progress. Per-cycle failures are
// reported in Result.Err.
func (c *Controller) RunCycle(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return Result{}, ErrCycleActive
	}
	c.state = Syncing
	c.mu.Unlock()
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(Idle, Syncing)
	}

	res := Result{CycleID: uuid.NewString(), StartedAt: c.opts.Clock.Now()}
	log := logging.With("cycle", res.CycleID)

	if c.opts.Heartbeat != nil {
		if err := c.opts.Heartbeat(); err != nil {
			log.Warn("heartbeat failed", "error", err)
		}
	}

	deployed := c.cycle(ctx, &res)
	res.FinishedAt = c.opts.Clock.Now()

	if deployed {
		c.writeReport(ctx, &res)
		c.cooldown(ctx)
	}
	c.transition(Idle)

	c.mu.Lock()
	c.last = &res
	c.mu.Unlock()
	if c.opts.OnCycle != nil {
		c.opts.OnCycle(res)
	}
	return res, nil
}

// cycle runs Syncing through Deploying. It reports whether the cycle got
// far enough to need a report and cooldown.
func (c *Controller) cycle(ctx context.Context, res *Result) bool {
	log := logging.With("cycle", res.CycleID)

	status, err := c.opts.Syncer.Sync(ctx)
	if err != nil {
		res.Err = err
		log.Error("repository sync failed, retrying next poll", "error", err)
		return false
	}
	res.Synced = true
	res.Sync = status
	res.Changed = status.Changed()

	// the first successful sync always plans, whatever the checkout did
	c.mu.Lock()
	firstRun := c.firstRun
	c.firstRun = false
	c.mu.Unlock()
	if !res.Changed && !firstRun {
		log.Info("repository unchanged", "commit", status.Commit)
		return false
	}

	c.transition(Planning)
	stacks, err := c.opts.Load(ctx)
	if err != nil {
		res.Err = err
		log.Error("failed to load stack declarations", "error", err)
		return true
	}
	plan, dag, err := engine.BuildPlan(stacks, c.opts.Host)
	if err != nil {
		res.Err = err
		log.Error("invalid dependency graph, nothing deployed", "error", err)
		return true
	}
	res.Plan = plan
	log.Info("planned deployment", "host", c.opts.Host, "commit", status.Commit, "stacks", plan.Names())

	var store secrets.Store
	if plan.NeedsSecrets() {
		if c.opts.Secrets == nil {
			res.Err = &secrets.SecretError{Kind: secrets.SecretStoreUnlock, Err: errors.New("no credential store configured")}
			log.Error("stacks declare secret_env but no credential store is configured")
			return true
		}
		store, err = c.opts.Secrets.Open(ctx)
		if err != nil {
			res.Err = err
			log.Error("failed to open credential store, nothing deployed", "error", err)
			return true
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("failed to close credential store", "error", err)
			}
		}()
	}

	c.transition(Deploying)
	res.Outcomes = c.opts.Executor.Execute(ctx, plan, dag, store)

	summary := ir.Summarize(res.Outcomes)
	log.Info("deployment finished", "deployed", summary.Deployed, "failed", summary.Failed, "skipped", summary.Skipped)
	return true
}

func (c *Controller) cooldown(ctx context.Context) {
	c.transition(Cooldown)
	if c.opts.Cooldown <= 0 || ctx.Err() != nil {
		return
	}
	timer := c.opts.Clock.NewTimer(c.opts.Cooldown)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}
}

func (c *Controller) writeReport(ctx context.Context, res *Result) {
	if c.opts.Reports == nil {
		return
	}
	report := &state.Report{
		CycleID:    res.CycleID,
		Host:       c.opts.Host,
		Commit:     res.Sync.Commit,
		Sync:       res.Sync.Kind.String(),
		StartedAt:  res.StartedAt.UTC(),
		FinishedAt: res.FinishedAt.UTC(),
		Stacks:     state.StackReports(res.Outcomes),
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	// a cancelled cycle still gets its report
	if err := c.opts.Reports.Write(context.WithoutCancel(ctx), report); err != nil {
		logging.Warn("failed to write status report", "cycle", res.CycleID, "error", err)
	}
}
