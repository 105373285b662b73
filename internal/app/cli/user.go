package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/policyhub/policyhub/internal/domain/services"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCommand(rootOpts))
	cmd.AddCommand(newUserListCommand(rootOpts))
	cmd.AddCommand(newUserDeactivateCommand(rootOpts))
	cmd.AddCommand(newUserResetPasswordCommand(rootOpts))
	return cmd
}

func newUserCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var fullName, email, role, password string

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			if err := a.requireStore(); err != nil {
				return err
			}
			ctx := cmd.Context()
			actor, err := a.authenticate(ctx, rootOpts)
			if err != nil {
				return err
			}

			var user *models.User
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				user, err = a.users.Create(ctx, actor, services.CreateUserParams{
					Username: args[0],
					FullName: fullName,
					Email:    email,
					Role:     models.UserRole(role),
					Password: password,
				})
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s created with role %s\n", user.Username, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(models.RoleViewer), "role (ADMIN|EDITOR|EDITOR_RESTRICTED|VIEWER)")
	cmd.Flags().StringVar(&password, "initial-password", "", "initial password, changed at first login")

	return cmd
}

func newUserListCommand(rootOpts *RootOptions) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			if err := a.requireStore(); err != nil {
				return err
			}
			ctx := cmd.Context()
			actor, err := a.authenticate(ctx, rootOpts)
			if err != nil {
				return err
			}

			var users []models.User
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				users, err = a.users.List(ctx, actor, activeOnly)
				return err
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tFULL NAME\tROLE\tACTIVE\tLAST LOGIN")
			for _, u := range users {
				lastLogin := "never"
				if u.LastLoginAt != nil {
					lastLogin = u.LastLoginAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", u.Username, u.FullName, u.Role, u.IsActive, lastLogin)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active accounts")
	return cmd
}

func newUserDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <username>",
		Short: "Deactivate a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			if err := a.requireStore(); err != nil {
				return err
			}
			ctx := cmd.Context()
			actor, err := a.authenticate(ctx, rootOpts)
			if err != nil {
				return err
			}

			var user *models.User
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				if user, err = a.users.GetByUsername(ctx, args[0]); err != nil {
					return err
				}
				return a.users.SetActive(ctx, actor, user.ID, false)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s deactivated\n", user.Username)
			return nil
		},
	}
}

func newUserResetPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "reset-password <username>",
		Short: "Set a temporary password for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			if err := a.requireStore(); err != nil {
				return err
			}
			ctx := cmd.Context()
			actor, err := a.authenticate(ctx, rootOpts)
			if err != nil {
				return err
			}

			var user *models.User
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				if user, err = a.users.GetByUsername(ctx, args[0]); err != nil {
					return err
				}
				return a.users.ResetPassword(ctx, actor, user.ID, password)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password reset for %s, change forced at next login\n", user.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "temporary-password", "", "temporary password")
	return cmd
}
