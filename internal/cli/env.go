package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stacksync/internal/config"
	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/stack"
)

// StackOptions holds the flags shared by commands that talk to stacks.
type StackOptions struct {
	*RootOptions
	Credentials string
	Config      string

	// Factory allows overriding the stack clients (for testing).
	// If nil, clients are built from the credentials file.
	Factory stack.Factory
}

func addStackFlags(cmd *cobra.Command, opts *StackOptions) {
	cmd.Flags().StringVar(&opts.Credentials, "credentials", "", "path to the credentials YAML file (required)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a settings YAML file")
}

// setupLogging configures the default logger from the verbose flag.
func setupLogging(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// loadStacks reads settings and builds the stack clients. Failures are
// command errors.
func loadStacks(opts *StackOptions) (config.Config, stack.Factory, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if opts.Factory != nil {
		return cfg, opts.Factory, nil
	}
	if opts.Credentials == "" {
		return config.Config{}, nil, NewExitError(ExitCommandError, "--credentials is required")
	}
	creds, err := config.LoadCredentials(opts.Credentials)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load credentials", err)
	}
	factory, err := creds.Factory()
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to create stack clients", err)
	}
	return cfg, factory, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// serveMetrics serves m on addr until the returned shutdown is called.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return ln.Addr(), shutdown, nil
}

// migrationExitError maps an engine error to an exit code: configuration
// problems are command errors, everything else is a migration failure.
func migrationExitError(message string, err error) error {
	if config.IsValidationError(err) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}
