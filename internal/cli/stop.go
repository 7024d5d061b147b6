package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/picklr-io/stackdeploy/internal/compose"
	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/spf13/cobra"
)

var (
	stopRoot  string
	stopFiles []string
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the stacks of this host",
	Long: `Runs "docker compose down" for the stacks of this host in reverse
dependency order, so that no stack is stopped while a stack depending on it
is still running.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopRoot, "root", ".", "Directory searched for stack-deploy.toml files")
	stopCmd.Flags().StringArrayVarP(&stopFiles, "file", "f", nil, "Stop only these declaration files (repeatable)")
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	host, plan, dag, err := loadHostPlan(ctx, stopRoot, stopFiles)
	if err != nil {
		return err
	}
	if len(plan.Stacks) == 0 {
		fmt.Fprintf(out, "No stacks run on host %s.\n", host)
		return nil
	}

	eng := engine.NewEngine(compose.NewExecutor())
	eng.SetTimeout(envConfig.Agent.DeployTimeout)

	fmt.Fprintf(out, "Stopping %d stacks on host %s...\n", len(plan.Stacks), host)
	outcomes := eng.TeardownWithCallback(ctx, plan, dag, progress(out))

	fmt.Fprintln(out)
	renderOutcomes(out, outcomes)
	renderSummary(out, ir.Summarize(outcomes))
	return engine.OutcomeError(outcomes)
}
