package cli

import (
	"github.com/spf13/cobra"
)

var (
	planRoot  string
	planFiles []string
	planDOT   bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the deployment order for this host",
	Long: `Loads the stack declarations, keeps the stacks that run on this host
and prints the order they would be deployed in. Nothing is deployed.

With --dot the dependency graph is printed in Graphviz DOT format:

  stack-deploy plan --dot | dot -Tpng > stacks.png`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planRoot, "root", ".", "Directory searched for stack-deploy.toml files")
	planCmd.Flags().StringArrayVarP(&planFiles, "file", "f", nil, "Plan only these declaration files (repeatable)")
	planCmd.Flags().BoolVar(&planDOT, "dot", false, "Print the dependency graph in DOT format")
}

func runPlan(cmd *cobra.Command, args []string) error {
	host, plan, dag, err := loadHostPlan(cmd.Context(), planRoot, planFiles)
	if err != nil {
		return err
	}
	if planDOT {
		renderDOT(cmd.OutOrStdout(), plan, dag)
		return nil
	}
	renderPlan(cmd.OutOrStdout(), host, plan)
	return nil
}
