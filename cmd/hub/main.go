// Command hub runs and operates the workspace hub: the HTTP API, schema
// migrations, first-admin bootstrap and key generation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"goyais.org/hub/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hub",
	Short: "Workspace trust and runtime binding hub",
	Long: `hub authenticates users, gates workspace permissions, keeps model
provider keys encrypted and forwards requests to the runtime bound to
each workspace.

Settings come from /etc/hub/hub.yml (or HUB_CONFIG_PATH), a .env file
(or HUB_ENV_FILE) and HUB_* environment variables, in increasing
precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (default $HUB_CONFIG_PATH or "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().String("env-file", "", "dotenv file (default $HUB_ENV_FILE or "+config.DefaultEnvFile+")")
}

// loadConfig reads settings using the persistent --config and --env-file flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	filePath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(config.LoadOptions{FilePath: filePath, EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
