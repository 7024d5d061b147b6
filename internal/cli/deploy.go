package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/picklr-io/stackdeploy/internal/compose"
	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/secrets"
	"github.com/spf13/cobra"
)

var (
	deployRoot  string
	deployFiles []string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the stacks of this host once",
	Long: `Plans the stacks declared under --root (or only the given --file
declarations) for this host and runs "docker compose up" for each of them in
dependency order. The repository is used as is; nothing is pulled.

A stack that fails causes every stack depending on it to be skipped. The
command exits non-zero if any stack failed.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployRoot, "root", ".", "Directory searched for stack-deploy.toml files")
	deployCmd.Flags().StringArrayVarP(&deployFiles, "file", "f", nil, "Deploy only these declaration files (repeatable)")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	host, plan, dag, err := loadHostPlan(ctx, deployRoot, deployFiles)
	if err != nil {
		return err
	}
	renderPlan(out, host, plan)
	if len(plan.Stacks) == 0 {
		return nil
	}

	var store secrets.Store
	if plan.NeedsSecrets() {
		kdbx, err := openRepoStore(ctx, deployRoot)
		if err != nil {
			return err
		}
		defer kdbx.Close()
		store = kdbx
	}

	eng := engine.NewEngine(compose.NewExecutor())
	eng.SetTimeout(envConfig.Agent.DeployTimeout)

	fmt.Fprintf(out, "\nDeploying %d stacks...\n", len(plan.Stacks))
	outcomes := eng.ExecuteWithCallback(ctx, plan, dag, store, progress(out))

	fmt.Fprintln(out)
	renderOutcomes(out, outcomes)
	renderSummary(out, ir.Summarize(outcomes))
	return engine.OutcomeError(outcomes)
}

// openRepoStore unlocks --kdbx, or the database in the repository root.
func openRepoStore(ctx context.Context, root string) (*secrets.KeePassStore, error) {
	return openStore(ctx, firstNonEmpty(kdbxPath, filepath.Join(root, defaultKdbxName)))
}

// progress prints a line whenever a stack starts.
func progress(w io.Writer) engine.ApplyCallback {
	return func(event engine.ApplyEvent) {
		if event.Status == "started" {
			fmt.Fprintf(w, "  → %s %s\n", event.Action, event.Stack)
		}
	}
}
