package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect hub configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configuration attributes and their sources",
	Long: `Show configuration attributes and their sources.

The values reflect the configuration sources as they are now, which may
differ from what a running server loaded. Secrets are masked.

Example:
  hub config show
  hub config show --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		switch output {
		case "json":
			js, err := cfg.FormatJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), js)
		case "text":
			fmt.Fprint(cmd.OutOrStdout(), cfg.FormatText())
		default:
			return fmt.Errorf("unknown output format %q (text or json)", output)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
}
