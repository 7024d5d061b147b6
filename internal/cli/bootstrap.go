package cli

import (
	"fmt"

	"github.com/picklr-io/stackdeploy/internal/bootstrap"
	"github.com/picklr-io/stackdeploy/internal/compose"
	"github.com/spf13/cobra"
)

var (
	bootstrapProjectDir   string
	bootstrapGitURL       string
	bootstrapGitUsername  string
	bootstrapPollInterval int
	bootstrapNoStart      bool
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Set up a project directory that runs the agent",
	Long: `Prompts for the git token and the KeePass passphrase, writes compose.yml
and .env into --project-dir and starts the agent with "docker compose up".

The .env file holds both credentials and is only readable by its owner.`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapProjectDir, "project-dir", "", "Where to place compose.yml and .env")
	bootstrapCmd.Flags().StringVar(&bootstrapGitURL, "git-url", "", "Repository holding the stack declarations")
	bootstrapCmd.Flags().StringVar(&bootstrapGitUsername, "git-username", bootstrap.DefaultUsername, "Git username sent with the token")
	bootstrapCmd.Flags().IntVar(&bootstrapPollInterval, "poll-interval", bootstrap.DefaultPollInterval, "Seconds between git pulls")
	bootstrapCmd.Flags().BoolVar(&bootstrapNoStart, "no-start", false, "Only write the files")
	bootstrapCmd.MarkFlagRequired("project-dir")
	bootstrapCmd.MarkFlagRequired("git-url")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	host, err := envConfig.Agent.Host()
	if err != nil {
		return err
	}

	opts := bootstrap.Options{
		ProjectDir:   bootstrapProjectDir,
		GitURL:       bootstrapGitURL,
		GitUsername:  bootstrapGitUsername,
		PollInterval: bootstrapPollInterval,
		Hostname:     host,
	}
	if !bootstrapNoStart {
		opts.Launcher = compose.NewExecutor()
	}
	if err := bootstrap.Bootstrap(cmd.Context(), opts); err != nil {
		return err
	}

	if bootstrapNoStart {
		fmt.Fprintf(cmd.OutOrStdout(), "Project written to %s. Start it with \"docker compose up -d\".\n", bootstrapProjectDir)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Agent started from %s.\n", bootstrapProjectDir)
	}
	return nil
}
