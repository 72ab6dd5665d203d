package cli

import (
	"github.com/spf13/cobra"

	"matchsync/internal/config"
)

// NewConfigCommand creates the config command, which prints a starter
// config file to stdout.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print a starter config file",
		Long: `Print a starter YAML config file with every key at its default.

Example:
  matchsync config > matchsync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Template()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to render template", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
