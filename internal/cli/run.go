package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/picklr-io/stackdeploy/internal/compose"
	"github.com/picklr-io/stackdeploy/internal/controller"
	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/loader"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/picklr-io/stackdeploy/internal/repo"
	"github.com/picklr-io/stackdeploy/internal/state"
	"github.com/spf13/cobra"
)

var (
	runRepoDir      string
	runRepoURL      string
	runPollInterval int
	runCooldown     time.Duration
	runAwaitTrigger bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep this host's stacks in sync with the repository",
	Long: `Starts the sync loop. Every poll interval the repository in --repo-dir is
pulled (or cloned from --repo-url); when it changed, the stacks of this host
are planned and deployed in dependency order. The first cycle always deploys.

Send SIGHUP to start a cycle immediately. SIGINT and SIGTERM finish the stack
currently being deployed and exit.

With --poll-interval 0 a single cycle runs and the command exits, or with
--await-trigger keeps waiting for SIGHUP.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRepoDir, "repo-dir", "", "Checkout of the stack repository")
	runCmd.Flags().StringVar(&runRepoURL, "repo-url", "", "Clone and pull the repository from this URL (default: $GITHUB_URL)")
	runCmd.Flags().IntVar(&runPollInterval, "poll-interval", 300, "Seconds between repository checks, 0 to run once (default: $POLL_INTERVAL or 300)")
	runCmd.Flags().DurationVar(&runCooldown, "cooldown", 0, "Pause after a deployment before polling again (default: $STACK_COOLDOWN)")
	runCmd.Flags().BoolVar(&runAwaitTrigger, "await-trigger", false, "With --poll-interval 0, wait for SIGHUP instead of exiting")
	runCmd.MarkFlagRequired("repo-dir")
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	agent := envConfig.Agent
	if flags.Changed("poll-interval") {
		agent.PollIntervalSeconds = runPollInterval
	}
	if flags.Changed("cooldown") {
		agent.Cooldown = runCooldown
	}
	if agent.PollIntervalSeconds < 0 {
		return fmt.Errorf("--poll-interval must not be negative, got %d", agent.PollIntervalSeconds)
	}
	repoURL := firstNonEmpty(runRepoURL, envConfig.Git.URL)
	if err := envConfig.Git.CheckRemote(repoURL); err != nil {
		return err
	}

	host, err := agent.Host()
	if err != nil {
		return err
	}
	repoDir, err := filepath.Abs(runRepoDir)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", runRepoDir, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Lock the project directory
	dir := stateDir(repoDir)
	lock := state.NewManager(filepath.Join(dir, reportFileName))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	// 2. Credential store
	secretStore, release, err := storeOpener(ctx, firstNonEmpty(kdbxPath, filepath.Join(repoDir, defaultKdbxName)))
	if err != nil {
		return err
	}
	defer release()

	// 3. Repository
	var syncer controller.Syncer
	if repoURL != "" {
		syncer = repo.NewGitSyncer(repoURL, repoDir, repo.Credentials{
			Username: envConfig.Git.Username,
			Token:    envConfig.Git.Token,
		})
	} else {
		syncer = repo.NewLocalSyncer(repoDir)
	}

	// 4. Reports
	reports, err := reportBackend(ctx, dir)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(compose.NewExecutor())
	eng.SetTimeout(agent.DeployTimeout)

	out := cmd.OutOrStdout()
	ctl, err := controller.New(controller.Options{
		Host:         host,
		PollInterval: agent.PollInterval(),
		Cooldown:     agent.Cooldown,
		AwaitTrigger: runAwaitTrigger,
		Syncer:       syncer,
		Load: func(ctx context.Context) ([]*ir.StackDescriptor, error) {
			return loader.NewLoader(repoDir).LoadStacks(ctx, nil)
		},
		Executor:  eng,
		Secrets:   secretStore,
		Reports:   reports,
		Heartbeat: lock.Refresh,
		OnCycle: func(res controller.Result) {
			if len(res.Outcomes) == 0 {
				return
			}
			renderOutcomes(out, res.Outcomes)
			renderSummary(out, ir.Summarize(res.Outcomes))
		},
	})
	if err != nil {
		return err
	}

	// 5. SIGHUP starts a cycle now
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if !ctl.Trigger() {
					logging.Info("deployment already requested")
				}
			}
		}
	}()

	logging.Info("agent started", "host", host, "repo_dir", repoDir, "repo_url", repoURL, "state_dir", dir)
	return ctl.Run(ctx)
}
