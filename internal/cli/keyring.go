package cli

import (
	"errors"
	"fmt"

	"github.com/picklr-io/stackdeploy/internal/secrets"
	"github.com/spf13/cobra"
)

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage the KeePass passphrase in the OS keyring",
}

var keyringSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the KeePass passphrase in the OS keyring",
	Long: `Prompts for the KeePass passphrase and stores it in the OS keyring under
--keyring-service, so that later runs can unlock the database with
--keyring-service instead of a password flag or environment variable.`,
	RunE: runKeyringSet,
}

func init() {
	keyringCmd.AddCommand(keyringSetCmd)
}

func runKeyringSet(cmd *cobra.Command, args []string) error {
	service := firstNonEmpty(keyringService, envConfig.Secrets.KeyringService)
	if service == "" {
		return errors.New("--keyring-service is required")
	}
	user := firstNonEmpty(keyringUser, envConfig.Secrets.KeyringUser, secrets.DefaultKeyringUser)

	var (
		pass *secrets.Value
		err  error
	)
	if password != "" || passwordFile != "" {
		pass, err = secrets.LoadPassphrase(cmd.Context(), secrets.PassphraseOptions{Password: password, PasswordFile: passwordFile})
	} else {
		pass, err = secrets.PromptPassphrase("KeePass Passphrase:")
	}
	if err != nil {
		return err
	}
	defer pass.Close()

	if err := secrets.StoreKeyringPassphrase(service, user, pass); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Passphrase stored in keyring service %q for user %q.\n", service, user)
	return nil
}
