package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/afrojet/seed/internal/app"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/importer"
	"github.com/afrojet/seed/pkg/models"
)

type importOutput struct {
	File   *models.ImportFile   `json:"file"`
	Result *models.ImportResult `json:"result"`
}

func NewImportCommand() *cobra.Command {
	var (
		kind   string
		record string
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Save the rows of a CSV file as raw snapshots",
		Example: `  seed import --org org-1 --source-type PORTFOLIO portfolio.csv
  seed import --org org-1 --source-type ASSESSED --record 0190... assessor.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(); err != nil {
				return err
			}
			upload := importer.Upload{
				OrganizationID: orgID,
				OwnerID:        userID,
				FileName:       filepath.Base(args[0]),
				Kind:           kind,
			}
			if record != "" {
				id, err := uuid.Parse(record)
				if err != nil {
					return fmt.Errorf("--record must be a uuid: %w", err)
				}
				upload.RecordID = &id
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			reader, err := importer.NewCSVReader(f)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			return run(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				file, err := a.Services.Importer.CreateFile(ctx, upload)
				if err != nil {
					return err
				}
				result, err := a.Services.Importer.Import(ctx, file.ID, reader)
				if err != nil {
					return err
				}
				return printJSON(cmd, importOutput{File: file, Result: result})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "source-type", "", "ASSESSED or PORTFOLIO")
	cmd.Flags().StringVar(&record, "record", "", "existing import record id")
	_ = cmd.MarkFlagRequired("source-type")
	return cmd
}

func NewMapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "map <file-id>",
		Short: "Map raw snapshots with the organization's saved column mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForFile(cmd, args[0], func(ctx context.Context, a *app.App, id uuid.UUID) (any, error) {
				return a.Services.Executor.MapFile(ctx, id)
			})
		},
	}
}

func NewMatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "match <file-id>",
		Short: "Match mapped snapshots against the organization's buildings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForFile(cmd, args[0], func(ctx context.Context, a *app.App, id uuid.UUID) (any, error) {
				return a.Services.Matcher.MatchFile(ctx, id)
			})
		},
	}
}

func NewUnmatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unmatch <snapshot-id>",
		Short: "Undo the merge that produced a composite snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("snapshot id must be a uuid: %w", err)
			}
			if err := requireOrg(); err != nil {
				return err
			}
			return run(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				snapshot, err := a.Services.Snapshots.Get(ctx, id)
				if err != nil {
					return err
				}
				if snapshot.OrganizationID != orgID {
					return seederrors.NewNotFoundError("snapshot", id.String())
				}
				result, err := a.Services.Unmerger.Unmatch(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

// runForFile resolves an import file owned by --org and runs one step on it.
func runForFile(cmd *cobra.Command, raw string, step func(ctx context.Context, a *app.App, id uuid.UUID) (any, error)) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("file id must be a uuid: %w", err)
	}
	if err := requireOrg(); err != nil {
		return err
	}
	return run(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
		file, err := a.Services.Imports.GetFile(ctx, id)
		if err != nil {
			return err
		}
		if file.OrganizationID != orgID {
			return seederrors.NewNotFoundError("import file", id.String())
		}
		result, err := step(ctx, a, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}
