package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/clubmail/internal/domain"
	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/spf13/cobra"
)

// CampaignSendOptions holds flags for campaign send.
type CampaignSendOptions struct {
	*RootOptions
	At       string
	Emails   []string
	GroupIDs []string
}

// NewCampaignCommand creates the campaign command group.
func NewCampaignCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Campaign scheduling",
		RunE: func(*cobra.Command, []string) error {
			return WrapExitError(ExitCommandError, "campaign", errNoCommand)
		},
	}
	cmd.AddCommand(newCampaignSendCommand(rootOpts))
	return cmd
}

func newCampaignSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CampaignSendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <campaign-id>",
		Short: "Queue a campaign for its recipients",
		Long: `Queue one email per unique recipient of a campaign.

Recipients are, in order of precedence: --email addresses, members of --group ids,
then the campaign's own groups and addresses. Immediate campaigns are due now.
Scheduled campaigns use --at when given, otherwise the campaign's stored time.

Examples:
  clubmail campaign send 0b7e...
  clubmail campaign send 0b7e... --at 2026-05-01T09:00:00Z
  clubmail campaign send 0b7e... --email ada@example.com --email grace@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := mailer.CampaignRequest{
				CampaignID: args[0],
				GroupIDs:   opts.GroupIDs,
			}
			for _, email := range opts.Emails {
				req.Recipients = append(req.Recipients, domain.Recipient{Email: email})
			}
			if opts.At != "" {
				at, err := time.Parse(time.RFC3339, opts.At)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --at %q", opts.At), err)
				}
				req.ScheduledAt = &at
			}

			return opts.runWithEngine(cmd, func(ctx context.Context, e Engine) (any, error) {
				return e.ScheduleCampaign(ctx, req)
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "send time for scheduled campaigns (RFC 3339)")
	cmd.Flags().StringSliceVar(&opts.Emails, "email", nil, "explicit recipient address (repeatable)")
	cmd.Flags().StringSliceVar(&opts.GroupIDs, "group", nil, "recipient group id (repeatable)")

	return cmd
}
