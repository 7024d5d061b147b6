package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/picklr-io/stackdeploy/internal/engine"
	"github.com/picklr-io/stackdeploy/internal/ir"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	skipColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

// renderPlan prints the deployment order for host.
func renderPlan(w io.Writer, host string, plan *ir.Plan) {
	if len(plan.Stacks) == 0 {
		fmt.Fprintf(w, "No stacks run on host %s.\n", host)
		return
	}
	fmt.Fprintf(w, "Deployment order for host %s:\n", host)
	for i, stack := range plan.Stacks {
		line := fmt.Sprintf("  %d. %s", i+1, stack.Name)
		if len(stack.DependsOn) > 0 {
			line += dimColor.Sprintf(" (after %s)", strings.Join(stack.DependsOn, ", "))
		}
		if stack.HasSecrets() {
			line += dimColor.Sprintf(" [secrets: %s]", strings.Join(stack.SecretEnvNames(), ", "))
		}
		fmt.Fprintln(w, line)
	}
}

// renderDOT prints the plan's dependency graph in Graphviz DOT format.
// Edges point from a stack to the stacks it depends on.
func renderDOT(w io.Writer, plan *ir.Plan, dag *engine.DAG) {
	fmt.Fprintln(w, "digraph stack_deploy {")
	fmt.Fprintln(w, "  rankdir = \"BT\";")
	fmt.Fprintln(w, "  node [shape = rect];")
	fmt.Fprintln(w)
	for _, stack := range plan.Stacks {
		fmt.Fprintf(w, "  %q;\n", stack.Name)
	}
	fmt.Fprintln(w)
	for _, stack := range plan.Stacks {
		for _, dep := range dag.Dependencies(stack.Name) {
			fmt.Fprintf(w, "  %q -> %q;\n", stack.Name, dep)
		}
	}
	fmt.Fprintln(w, "}")
}

func statusColor(status ir.OutcomeStatus) *color.Color {
	switch status {
	case ir.OutcomeDeployed, ir.OutcomeStopped:
		return okColor
	case ir.OutcomeFailed:
		return failColor
	default:
		return skipColor
	}
}

func statusSymbol(status ir.OutcomeStatus) string {
	switch status {
	case ir.OutcomeDeployed, ir.OutcomeStopped:
		return "✓"
	case ir.OutcomeFailed:
		return "✗"
	default:
		return "-"
	}
}

// renderOutcomes prints one line per stack.
func renderOutcomes(w io.Writer, outcomes []ir.Outcome) {
	for _, o := range outcomes {
		c := statusColor(o.Status)
		line := fmt.Sprintf("  %s %s", c.Sprint(statusSymbol(o.Status)), o.Stack)
		switch o.Status {
		case ir.OutcomeFailed:
			line += ": " + failColor.Sprint(o.Err)
		case ir.OutcomeSkipped:
			reason := o.Reason
			if o.CausedBy != "" {
				reason += ": " + o.CausedBy
			}
			line += skipColor.Sprintf(" (skipped, %s)", reason)
		default:
			line += dimColor.Sprintf(" (%s in %s)", o.Status, o.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w, line)
	}
}

// renderSummary prints the outcome counts.
func renderSummary(w io.Writer, s ir.OutcomeSummary) {
	parts := []string{}
	if s.Deployed > 0 {
		parts = append(parts, okColor.Sprintf("%d deployed", s.Deployed))
	}
	if s.Stopped > 0 {
		parts = append(parts, okColor.Sprintf("%d stopped", s.Stopped))
	}
	if s.Failed > 0 {
		parts = append(parts, failColor.Sprintf("%d failed", s.Failed))
	}
	if s.Skipped > 0 {
		parts = append(parts, skipColor.Sprintf("%d skipped", s.Skipped))
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	fmt.Fprintf(w, "\n%s\n", strings.Join(parts, ", "))
}
