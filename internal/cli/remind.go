package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// RemindOptions holds flags for the remind command.
type RemindOptions struct {
	*RootOptions
	Due bool
}

// NewRemindCommand creates the remind command.
func NewRemindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remind [event-id]",
		Short: "Schedule event reminders",
		Long: `Schedule the 24h, 1h and 5min reminders for every participant of an event.
Offsets already in the past are skipped. Running it twice for the same event does nothing.

With --due, plan reminders for every active event starting within the reminder horizon.

Examples:
  clubmail remind 6f1c0e8a-3b7e-4d0e-9a43-2f6f3c1b9d10
  clubmail remind --due --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Due == (len(args) == 1) {
				return WrapExitError(ExitCommandError, "pass either an event id or --due", nil)
			}
			return opts.runWithEngine(cmd, func(ctx context.Context, e Engine) (any, error) {
				if opts.Due {
					return e.ScheduleUpcomingReminders(ctx)
				}
				return e.ScheduleEventReminders(ctx, args[0])
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Due, "due", false, "schedule reminders for all upcoming events")

	return cmd
}
