package cli

import (
	"github.com/spf13/cobra"
)

// NewDeltaCommand creates the delta command.
func NewDeltaCommand(rootOpts *RootOptions) *cobra.Command {
	return newDeltaCommand(&MigrateOptions{StackOptions: StackOptions{RootOptions: rootOpts}})
}

func newDeltaCommand(opts *MigrateOptions) *cobra.Command {
	opts.DryRun = true

	cmd := &cobra.Command{
		Use:   "delta",
		Short: "Compute and print the delta without applying it",
		Long: `Compute the per-type create/update/delete delta between the stacks and
print it. Nothing is written to either stack and the destination status
is left unchanged.

Examples:
  stacksync delta --credentials creds.yaml
  stacksync delta --credentials creds.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	addStackFlags(cmd, &opts.StackOptions)

	return cmd
}
