package cli

import (
	"github.com/bissquit/clubmail/internal/pkg/postgres"
	"github.com/bissquit/clubmail/migrations"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(postgres.MigrateUp), string(postgres.MigrateDown)},
		RunE: func(_ *cobra.Command, args []string) error {
			direction := postgres.MigrateUp
			if len(args) == 1 {
				direction = postgres.MigrateDirection(args[0])
			}

			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			if err := postgres.Migrate(migrations.FS, cfg.Database.URL, direction); err != nil {
				return WrapExitError(ExitCommandError, "migrate", err)
			}
			return nil
		},
	}
}
