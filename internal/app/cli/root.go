package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/policyhub/policyhub/internal/app/config"
)

// Credential environment variables, read as flag defaults so scripts do not
// have to pass passwords on the command line.
const (
	envUsername = "POLICYHUB_USERNAME"
	envPassword = "POLICYHUB_PASSWORD"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose  bool
	Username string
	Password string
}

// NewRootCommand creates the root command for the PolicyHub CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "policyhub",
		Short:         "PolicyHub compliance document register",
		Long:          "Manage the shared compliance document register: documents, attachments, users and backups.",
		Version:       config.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Username, "user", os.Getenv(envUsername), "acting username")
	cmd.PersistentFlags().StringVar(&opts.Password, "password", os.Getenv(envPassword), "acting user password")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewDocCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))

	return cmd
}
