package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/picklr-io/stackdeploy/internal/compose"
	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/picklr-io/stackdeploy/internal/state"
	"github.com/spf13/cobra"
)

var (
	statusProjectDir string
	statusRepoDir    string
	statusRemote     bool
	statusNoLive     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync cycle and the running containers",
	Long: `Prints the report the agent wrote after its last cycle, followed by the
containers docker currently runs for each stack of this host.

The report is read from <project-dir>/.stack-deploy/status.json, or from S3
with --remote.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProjectDir, "project-dir", ".", "Project directory created by bootstrap")
	statusCmd.Flags().StringVar(&statusRepoDir, "repo-dir", "", "Checkout of the stack repository (default: <project-dir>/repo)")
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "Read the report from the configured S3 bucket")
	statusCmd.Flags().BoolVar(&statusNoLive, "no-live", false, "Do not query the docker engine")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var backend state.Backend
	var err error
	if statusRemote {
		if !envConfig.Status.S3Enabled() {
			return errors.New("--remote needs STACK_STATUS_BUCKET")
		}
		backend, err = state.NewBackend(ctx, s3BackendConfig())
	} else {
		backend, err = state.NewBackend(ctx, &state.BackendConfig{
			Type:   "local",
			Config: map[string]string{"path": filepath.Join(statusProjectDir, stateDirName, reportFileName)},
		})
	}
	if err != nil {
		return err
	}

	report, err := backend.Read(ctx)
	switch {
	case errors.Is(err, state.ErrNoReport):
		fmt.Fprintln(out, "No sync cycle has been reported yet.")
	case err != nil:
		return fmt.Errorf("failed to read status report: %w", err)
	default:
		renderReport(out, report)
	}

	if statusNoLive {
		return nil
	}
	repoDir := firstNonEmpty(statusRepoDir, filepath.Join(statusProjectDir, "repo"))
	host, plan, _, err := loadHostPlan(ctx, repoDir, nil)
	if err != nil {
		return err
	}

	inspector := compose.NewInspector()
	defer inspector.Close()
	if err := inspector.Ping(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nContainers on host %s:\n", host)
	for _, stack := range plan.Stacks {
		project := compose.ProjectName(stack.Directory)
		if m, err := compose.LoadManifest(ctx, stack.Directory, stack.SecretEnvNames()); err == nil {
			project = m.Project
		} else {
			logging.Debug("using directory name as compose project", "stack", stack.Name, "error", err)
		}

		containers, err := inspector.ProjectContainers(ctx, project)
		if err != nil {
			return err
		}
		renderContainers(out, stack, containers)
	}
	return nil
}

func renderReport(out io.Writer, report *state.Report) {
	fmt.Fprintf(out, "Last cycle %s on host %s\n", report.CycleID, report.Host)
	fmt.Fprintf(out, "  finished: %s (%s)\n", report.FinishedAt.Local().Format(time.RFC3339), report.Duration().Round(time.Millisecond))
	if report.Commit != "" {
		fmt.Fprintf(out, "  commit:   %s (%s)\n", report.Commit, report.Sync)
	}
	if report.Error != "" {
		fmt.Fprintf(out, "  error:    %s\n", failColor.Sprint(report.Error))
	}
	if len(report.Stacks) == 0 {
		return
	}
	fmt.Fprintln(out)

	outcomes := make([]ir.Outcome, 0, len(report.Stacks))
	for _, s := range report.Stacks {
		o := ir.Outcome{
			Stack:    s.Name,
			Status:   ir.OutcomeStatus(s.Status),
			Reason:   s.Reason,
			CausedBy: s.CausedBy,
			Duration: time.Duration(s.DurationMS) * time.Millisecond,
		}
		if s.Error != "" {
			o.Err = errors.New(s.Error)
		}
		outcomes = append(outcomes, o)
	}
	renderOutcomes(out, outcomes)
	renderSummary(out, report.Summary())
}

func renderContainers(out io.Writer, stack *ir.StackDescriptor, containers []compose.ContainerStatus) {
	marker := failColor.Sprint("✗")
	if compose.Running(containers) {
		marker = okColor.Sprint("✓")
	}
	fmt.Fprintf(out, "  %s %s\n", marker, stack.Name)
	if len(containers) == 0 {
		fmt.Fprintln(out, dimColor.Sprint("      no containers"))
		return
	}
	for _, c := range containers {
		line := fmt.Sprintf("      %s %s (%s)", c.Service, c.State, c.Status)
		if len(c.Ports) > 0 {
			line += dimColor.Sprintf(" %s", strings.Join(c.Ports, ", "))
		}
		fmt.Fprintln(out, line)
	}
}
