// Package cli provides the seed command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/afrojet/seed/config"
	"github.com/afrojet/seed/internal/app"
	appctx "github.com/afrojet/seed/pkg/context"
)

var (
	cfgFile string
	orgID   string
	userID  string
)

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Building record reconciliation",
		Long: `seed imports building spreadsheets, maps their columns onto canonical
fields and reconciles the results into one ledger of buildings per
organization.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SEED_ environment variables override it")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization id")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user recorded on created rows")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewImportCommand())
	rootCmd.AddCommand(NewMapCommand())
	rootCmd.AddCommand(NewMatchCommand())
	rootCmd.AddCommand(NewUnmatchCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// run loads configuration, starts the application and hands it to fn.
func run(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if orgID != "" {
		ctx = appctx.SetOrganizationID(ctx, orgID)
	}
	if userID != "" {
		ctx = appctx.SetUserID(ctx, userID)
	}

	a := app.New(cfg, logger, opts)
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(stopCtx); err != nil {
			logger.WithError(err).Error("Failed to stop cleanly")
		}
	}()

	return fn(ctx, a)
}

func requireOrg() error {
	if orgID == "" {
		return fmt.Errorf("--org is required")
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
