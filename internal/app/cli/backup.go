package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/policyhub/policyhub/internal/domain/services"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, validate and restore full-state backups",
	}
	cmd.AddCommand(newBackupCreateCommand(rootOpts))
	cmd.AddCommand(newBackupValidateCommand(rootOpts))
	cmd.AddCommand(newBackupRestoreCommand(rootOpts))
	cmd.AddCommand(newBackupListCommand(rootOpts))
	return cmd
}

func newBackupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var destDir, notes string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup archive",
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

			var record *models.BackupRecord
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				record, err = a.backups.Create(ctx, actor, destDir, notes)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%d bytes)\n", record.BackupPath, record.SizeBytes)
			return nil
		},
	}

	cmd.Flags().StringVar(&destDir, "dest", "", "destination directory (defaults to the shared exports folder)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes stored with the backup")
	return cmd
}

func newBackupValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <archive>",
		Short: "Check a backup archive without restoring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}

			manifest, err := a.backups.Validate(args[0])
			if err != nil {
				var corrupt *services.BackupCorruptionError
				if errors.As(err, &corrupt) {
					fmt.Fprintf(cmd.OutOrStdout(), "INVALID: %s\n", corrupt.Reason)
					return err
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: created %s by %s (app %s)\n",
				manifest.CreatedAt.Format("2006-01-02 15:04:05"), manifest.CreatedBy, manifest.AppVersion)
			if manifest.Notes != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Notes: %s\n", manifest.Notes)
			}
			return nil
		},
	}
}

func newBackupRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Replace the store and attachments with an archive's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("restore replaces all current data, pass --yes to confirm")
			}

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

			err = a.retryStore(ctx, func(ctx context.Context) error {
				return a.backups.Restore(ctx, actor, args[0])
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Restore complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the destructive restore")
	return cmd
}

func newBackupListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded backups",
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

			var records []models.BackupRecord
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				records, err = a.backups.List(ctx, actor)
				return err
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tKIND\tSIZE\tPATH\tNOTES")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					r.CreatedAt.Format("2006-01-02 15:04"), r.Kind, r.SizeBytes, r.BackupPath, r.Notes)
			}
			return w.Flush()
		},
	}
}
