package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/picklr-io/stackdeploy/internal/config"
	"github.com/picklr-io/stackdeploy/internal/logging"
	"github.com/spf13/cobra"
)

var (
	kdbxPath         string
	password         string
	passwordFile     string
	interactive      bool
	keyringService   string
	keyringUser      string
	passwordSecretID string
	hostname         string
	logLevel         string
	logFormat        string
	noColor          bool

	envConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stack-deploy",
	Short: "GitOps deployment agent for docker compose stacks",
	Long: `stack-deploy keeps the docker compose stacks of one host in sync with a git repository.

Every directory containing a stack-deploy.toml declares a stack:
  • runs_on selects the hosts that deploy it
  • depends_on orders it after other stacks on the same host
  • secret_env injects values from an encrypted KeePass database`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&kdbxPath, "kdbx", "", "Path to the KeePass database holding stack secrets")
	flags.StringVar(&password, "password", "", "Passphrase of the KeePass database")
	flags.StringVar(&passwordFile, "password-file", "", "Read the KeePass passphrase from a file (- for stdin)")
	flags.BoolVar(&interactive, "interactive", false, "Prompt for the KeePass passphrase if no other source is set")
	flags.StringVar(&keyringService, "keyring-service", "", "Read the KeePass passphrase from this OS keyring service")
	flags.StringVar(&keyringUser, "keyring-user", "", "Keyring account holding the passphrase (default \"kdbx\")")
	flags.StringVar(&passwordSecretID, "password-secret-id", "", "Read the KeePass passphrase from this AWS Secrets Manager secret")
	flags.StringVar(&hostname, "hostname", "", "Host identity matched against runs_on (default: $STACK_HOSTNAME or the machine hostname)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(getSecretCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(keyringCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the environment configuration and applies flag overrides.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("hostname") {
		cfg.Agent.Hostname = hostname
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.InitWithFormat(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if noColor {
		color.NoColor = true
	}
	envConfig = cfg
	return nil
}
