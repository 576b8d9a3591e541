package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations",
		RunE: func(*cobra.Command, []string) error {
			return WrapExitError(ExitCommandError, "queue", errNoCommand)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "process",
		Short: "Run one processing pass over due items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rootOpts.runWithEngine(cmd, func(ctx context.Context, e Engine) (any, error) {
				return e.ProcessQueue(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry-failed",
		Short: "Reset failed items to pending and run one processing pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rootOpts.runWithEngine(cmd, func(ctx context.Context, e Engine) (any, error) {
				return e.RetryFailed(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue sizes by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rootOpts.runWithEngine(cmd, func(ctx context.Context, e Engine) (any, error) {
				return e.QueueStats(ctx)
			})
		},
	})

	return cmd
}
