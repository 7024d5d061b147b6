package cli

import (
	"errors"
	"fmt"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/spf13/cobra"
)

var getSecretCmd = &cobra.Command{
	Use:   "get-secret PATH",
	Short: "Print one value from the KeePass database",
	Long: `Looks up a secret path of the form Group[/Group...]/Entry Title/field
in the database given by --kdbx and prints its value. Every segment matches
case-insensitively.`,
	Args: cobra.ExactArgs(1),
	RunE: runGetSecret,
}

func runGetSecret(cmd *cobra.Command, args []string) error {
	if kdbxPath == "" {
		return errors.New("no --kdbx file was specified")
	}
	path, err := ir.ParseSecretPath(args[0])
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), kdbxPath)
	if err != nil {
		return err
	}
	defer store.Close()

	value, err := store.Lookup(path)
	if err != nil {
		return err
	}
	defer value.Close()

	out := cmd.OutOrStdout()
	if _, err := out.Write(value.Bytes()); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return nil
}
