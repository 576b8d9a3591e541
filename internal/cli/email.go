package cli

import (
	"context"

	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/spf13/cobra"
)

// EmailSendOptions holds flags for email send.
type EmailSendOptions struct {
	*RootOptions
	To             string
	Name           string
	Template       string
	Type           string
	Vars           map[string]string
	IdempotencyKey string
}

// NewEmailCommand creates the email command group.
func NewEmailCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email",
		Short: "Transactional email",
		RunE: func(*cobra.Command, []string) error {
			return WrapExitError(ExitCommandError, "email", errNoCommand)
		},
	}
	cmd.AddCommand(newEmailSendCommand(rootOpts))
	return cmd
}

func newEmailSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmailSendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Queue a transactional email ahead of all other mail",
		Long: `Queue a single system-priority email rendered from a named template.

Examples:
  clubmail email send --to ada@example.com --template test_email --type test_send
  clubmail email send --to ada@example.com --template password_reset --type password_reset \
    --var reset_link=https://club.example.com/reset/abc --idempotency-key reset-abc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			emailType, err := mailer.ParseEmailType(opts.Type)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --type", err)
			}
			req := mailer.ImmediateEmail{
				To:             opts.To,
				ToName:         opts.Name,
				TemplateName:   opts.Template,
				Context:        opts.Vars,
				EmailType:      emailType,
				IdempotencyKey: opts.IdempotencyKey,
			}

			return opts.runWithEngine(cmd, func(ctx context.Context, e Engine) (any, error) {
				return e.ScheduleImmediateEmail(ctx, req)
			})
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "recipient address (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringVar(&opts.Name, "name", "", "recipient display name")
	cmd.Flags().StringVar(&opts.Template, "template", "", "template name (required)")
	_ = cmd.MarkFlagRequired("template")
	cmd.Flags().StringVar(&opts.Type, "type", string(mailer.EmailTypeSystem), "email type")
	cmd.Flags().StringToStringVar(&opts.Vars, "var", nil, "template variable key=value (repeatable)")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "suppress repeats while the first copy is queued")

	return cmd
}
