package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"goyais.org/hub/internal/auth"
	"goyais.org/hub/internal/config"
	"goyais.org/hub/internal/workspace"
)

var bootstrapAdminCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Create the first admin without the bootstrap token",
	Long: `Create the first admin, the default workspace and its system roles.

This is the operator path for first-run setup. It needs direct database
access instead of HUB_BOOTSTRAP_TOKEN and fails once any user exists.

The password is read from --password or, when that is empty, from
HUB_BOOTSTRAP_ADMIN_PASSWORD.

Example:
  hub bootstrap-admin --email admin@example.com --display-name Admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		displayName, _ := cmd.Flags().GetString("display-name")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("HUB_BOOTSTRAP_ADMIN_PASSWORD")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		if cfg.Store == config.StoreMemory {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: in-memory store; the admin is discarded when this command exits")
		}

		authSvc, err := auth.NewService(st, auth.WithTokenTTL(cfg.TokenTTL()))
		if err != nil {
			return err
		}
		b := workspace.NewBootstrapper(st, cfg.BootstrapToken, authSvc.TokenTTL())
		res, err := b.CreateAdminLocal(cmd.Context(), workspace.AdminInput{
			Email:       strings.TrimSpace(email),
			Password:    password,
			DisplayName: strings.TrimSpace(displayName),
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "admin:     %s (%s)\n", res.User.Email, res.User.UserID)
		fmt.Fprintf(out, "workspace: %s (%s)\n", res.Workspace.Slug, res.Workspace.ID)
		fmt.Fprintf(out, "token:     %s\n", res.Token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapAdminCmd)
	bootstrapAdminCmd.Flags().String("email", "", "admin email address")
	bootstrapAdminCmd.Flags().String("display-name", "", "admin display name")
	bootstrapAdminCmd.Flags().String("password", "", "admin password (default $HUB_BOOTSTRAP_ADMIN_PASSWORD)")
	_ = bootstrapAdminCmd.MarkFlagRequired("email")
	_ = bootstrapAdminCmd.MarkFlagRequired("display-name")
}
