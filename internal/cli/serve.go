package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/afrojet/seed/internal/app"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Long: `Apply database migrations up to db_migration_version (latest when 0).
A failed migration is rolled back when db_migration_auto_rollback is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, app.Options{MigrationsOnly: true}, func(context.Context, *app.App) error {
				return nil
			})
		},
	}
}
