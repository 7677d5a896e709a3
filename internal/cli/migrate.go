package cli

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/stacksync/internal/engine"
	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/model"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	StackOptions
	FinalSync   bool
	DryRun      bool
	MetricsAddr string

	// SaltGenerator allows overriding the per-pass checksum salt (for testing).
	// If nil, a random UUID is used.
	SaltGenerator func() string
}

// MigrationSummary is the JSON payload of a finished migration.
type MigrationSummary struct {
	State     engine.State  `json:"state"`
	Attempts  int           `json:"attempts"`
	FinalSync bool          `json:"final_sync"`
	DryRun    bool          `json:"dry_run,omitempty"`
	PassID    string        `json:"pass_id,omitempty"`
	Types     []TypeSummary `json:"types"`
}

// TypeSummary is one type's delta and applied counts.
type TypeSummary struct {
	Type    model.MigrationType `json:"type"`
	Delta   model.DeltaCounts   `json:"delta"`
	Applied model.DeltaCounts   `json:"applied"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return newMigrateCommand(&MigrateOptions{StackOptions: StackOptions{RootOptions: rootOpts}})
}

func newMigrateCommand(opts *MigrateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Reconcile the destination stack with the source",
		Long: `Run a migration pass from the source stack to the destination stack.

The destination is made read-only for the duration of the pass and is
always restored to read-write afterwards. Deletes are applied child types
first, creates and updates parent types first.

A final sync (forced with --final-sync, implied when the source is
read-only) also compares per-type checksums after the pass.

Exit codes:
  0 - Migration succeeded
  1 - Migration failed (retries exhausted, apply failure, checksum mismatch)
  2 - Command error (bad flags, config or credentials)

Examples:
  stacksync migrate --credentials creds.yaml
  stacksync migrate --credentials creds.yaml --config stacksync.yaml --final-sync
  stacksync migrate --credentials creds.yaml --dry-run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	addStackFlags(cmd, &opts.StackOptions)
	cmd.Flags().BoolVar(&opts.FinalSync, "final-sync", false, "verify per-type checksums after the pass")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute deltas without changing the destination")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	cfg, factory, err := loadStacks(&opts.StackOptions)
	if err != nil {
		return err
	}

	engineOpts := cfg.EngineOptions()
	if opts.FinalSync {
		engineOpts.FinalSync = true
	}
	engineOpts.DryRun = opts.DryRun
	if err := engineOpts.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}
	addr := cfg.MetricsAddr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		_, shutdown, err := serveMetrics(addr, m, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
		defer shutdown()
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	// Count tables go to stdout only in text mode so JSON stays parseable.
	var tables io.Writer = io.Discard
	if opts.Format != "json" {
		tables = cmd.OutOrStdout()
	}
	orchOpts := []engine.OrchestratorOption{
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithOutput(tables),
	}
	if opts.SaltGenerator != nil {
		orchOpts = append(orchOpts, engine.WithSaltGenerator(opts.SaltGenerator))
	}

	driver := engine.NewDriver(factory.Source(), factory.Destination(), engineOpts, orchOpts...)
	logger.Info("migration starting",
		"batch_size", engineOpts.BatchSize,
		"workers", engineOpts.Workers,
		"delta_mode", engineOpts.DeltaMode,
		"dry_run", engineOpts.DryRun)

	res, runErr := driver.Run(ctx)
	summary := summarize(res, engineOpts.DryRun)

	if runErr != nil {
		if opts.Format == "json" {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if err := formatter.Error(ErrorCode(runErr), runErr.Error(), summary); err != nil {
				return err
			}
		} else if err := outputSummary(opts.RootOptions, cmd, summary); err != nil {
			return err
		}
		return migrationExitError("migration failed", runErr)
	}
	return outputSummary(opts.RootOptions, cmd, summary)
}

func summarize(res engine.Result, dryRun bool) MigrationSummary {
	s := MigrationSummary{
		State:     res.State,
		Attempts:  res.Attempts,
		FinalSync: res.FinalSync,
		DryRun:    dryRun,
		Types:     []TypeSummary{},
	}
	if res.Report == nil {
		return s
	}
	s.PassID = res.Report.PassID
	for _, tr := range res.Report.Types {
		s.Types = append(s.Types, TypeSummary{Type: tr.Type, Delta: tr.Delta, Applied: tr.Applied})
	}
	return s
}

func outputSummary(opts *RootOptions, cmd *cobra.Command, s MigrationSummary) error {
	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(s)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	for _, t := range s.Types {
		if s.DryRun {
			fmt.Fprintf(w, "%-32s delta %s\n", t.Type, t.Delta)
			continue
		}
		fmt.Fprintf(w, "%-32s delta %s  applied %s\n", t.Type, t.Delta, t.Applied)
	}
	fmt.Fprintf(w, "State: %s (attempts: %d, final sync: %t)\n", s.State, s.Attempts, s.FinalSync)
	return nil
}
