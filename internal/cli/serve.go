package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bissquit/clubmail/internal/app"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the queue worker, reminder sweep and ops HTTP server",
		Long: `Run the long-lived process: the queue processor and its maintenance loop, the
periodic reminder sweep for upcoming events, the ops server (/healthz, /readyz,
/version, /queue/stats) and the Prometheus /metrics server.

The process stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "create app", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "serve", runErr)
	}
	return nil
}
