package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

// NewInitCommand creates the init command. It prepares the shared folder
// layout, migrates the store and bootstraps the first administrator.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var adminUser, adminName, adminPassword string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the shared store and create the first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if err := a.files.EnsureLayout(); err != nil {
				return err
			}
			err = a.retryStore(ctx, func(ctx context.Context) error {
				return a.db.Initialize(ctx)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store initialized at %s\n", a.db.Path())

			var has bool
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				has, err = a.auth.HasAnyUsers(ctx)
				return err
			})
			if err != nil {
				return err
			}
			if has {
				fmt.Fprintln(cmd.OutOrStdout(), "Users already exist, skipping admin bootstrap")
				return nil
			}
			if adminUser == "" || adminPassword == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No admin created: pass --admin-user and --admin-password to bootstrap one")
				return nil
			}
			if adminName == "" {
				adminName = adminUser
			}

			var admin *models.User
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				admin, err = a.auth.CreateFirstAdmin(ctx, adminUser, adminName, adminPassword)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created\n", admin.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&adminUser, "admin-user", "", "username for the first administrator")
	cmd.Flags().StringVar(&adminName, "admin-name", "", "full name for the first administrator")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "password for the first administrator")

	return cmd
}
