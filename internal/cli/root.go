// Package cli implements the clubmail command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bissquit/clubmail/internal/config"
	"github.com/bissquit/clubmail/internal/version"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	loadConfig func(path string) (*config.Config, error)
	newEngine  EngineFactory
}

var errNoCommand = errors.New("subcommand required")

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the clubmail CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{
		loadConfig: config.Load,
		newEngine:  newAppEngine,
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clubmail",
		Short: "clubmail schedules and delivers club emails",
		Long: `clubmail plans event reminders, campaign sends and transactional mail into a
durable PostgreSQL queue and delivers it over SMTP with retries and rate limits.

Configuration is read from an optional YAML file and CLUBMAIL_* environment variables.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRemindCommand(opts))
	cmd.AddCommand(NewCampaignCommand(opts))
	cmd.AddCommand(NewEmailCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

func (o *RootOptions) config() (*config.Config, error) {
	cfg, err := o.loadConfig(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// runWithEngine opens an engine, runs fn and prints its result.
func (o *RootOptions) runWithEngine(cmd *cobra.Command, fn func(ctx context.Context, e Engine) (any, error)) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}

	engine, err := o.newEngine(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "start engine", err)
	}
	defer engine.Close()

	out := o.formatter(cmd)
	result, err := fn(cmd.Context(), engine)
	if err != nil {
		_ = out.Error(err)
		return WrapExitError(ExitFailure, cmd.CommandPath(), err)
	}
	return out.Success(result)
}
