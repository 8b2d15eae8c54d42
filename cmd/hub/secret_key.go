package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"goyais.org/hub/internal/vault"
)

var secretKeyCmd = &cobra.Command{
	Use:   "secret-key",
	Short: "Manage the secret encryption key",
}

var secretKeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a secret encryption key",
	Long: `Generate a Base64-encoded 256 bit key for HUB_SECRET_KEY.

The key encrypts every model provider credential stored by the hub.
Losing it makes those credentials unrecoverable.

Example:

$ export HUB_SECRET_KEY="$(hub secret-key generate)"
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := vault.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretKeyCmd)
	secretKeyCmd.AddCommand(secretKeyGenerateCmd)
}
