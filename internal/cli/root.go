package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stacksync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stacksync",
		Short: "stacksync - reconcile two content stacks",
		Long: `Reconcile a destination stack with a source stack by comparing record
metadata, computing create/update/delete deltas and applying them in
dependency order.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDeltaCommand(opts))
	cmd.AddCommand(NewCountsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
