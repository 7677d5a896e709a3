package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/stacksync/internal/engine"
)

// CountsOptions holds flags for the counts command.
type CountsOptions struct {
	StackOptions
	Mismatched bool
}

// NewCountsCommand creates the counts command.
func NewCountsCommand(rootOpts *RootOptions) *cobra.Command {
	return newCountsCommand(&CountsOptions{StackOptions: StackOptions{RootOptions: rootOpts}})
}

func newCountsCommand(opts *CountsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Print per-type record counts of both stacks",
		Long: `Print the record count of every type on the source and destination
side by side. Rows whose counts differ are marked with "*".

Examples:
  stacksync counts --credentials creds.yaml
  stacksync counts --credentials creds.yaml --mismatched`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCounts(opts, cmd)
		},
	}

	addStackFlags(cmd, &opts.StackOptions)
	cmd.Flags().BoolVar(&opts.Mismatched, "mismatched", false, "only show types whose counts differ")

	return cmd
}

func runCounts(opts *CountsOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	cfg, factory, err := loadStacks(&opts.StackOptions)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	orch := engine.NewOrchestrator(factory.Source(), factory.Destination(), cfg.EngineOptions(), engine.WithLogger(logger))
	table, err := orch.Counts(ctx)
	if err != nil {
		if opts.Format == "json" {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if ferr := formatter.Error(ErrorCode(err), err.Error(), nil); ferr != nil {
				return ferr
			}
		}
		return migrationExitError("failed to read counts", err)
	}
	if opts.Mismatched {
		table = table.Mismatched()
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(table)
	}
	return table.Fprint(cmd.OutOrStdout(), "Counts:")
}
