package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/internal/repositories/canonical"
	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/models"
)

// Fixtures inserts graph state directly through the repositories.
type Fixtures struct {
	t          *testing.T
	ctx        context.Context
	Snapshots  *snapshot.Repository
	Canonicals *canonical.Repository
	Imports    *importfile.Repository
	OrgID      string
}

func NewFixtures(t *testing.T, snapshots *snapshot.Repository, canonicals *canonical.Repository, imports *importfile.Repository, orgID string) *Fixtures {
	return &Fixtures{
		t:          t,
		ctx:        Context(orgID),
		Snapshots:  snapshots,
		Canonicals: canonicals,
		Imports:    imports,
		OrgID:      orgID,
	}
}

// Snapshot inserts a snapshot whose values are all sourced from itself.
func (f *Fixtures) Snapshot(sourceType models.SourceType, fields map[string]string) *models.Snapshot {
	f.t.Helper()
	s := models.NewSnapshot(f.OrgID, sourceType)
	for k, v := range fields {
		s.Set(k, v, s.ID)
	}
	require.NoError(f.t, f.Snapshots.Create(f.ctx, s))
	return s
}

// FileSnapshot inserts a snapshot owned by an import file.
func (f *Fixtures) FileSnapshot(file *models.ImportFile, sourceType models.SourceType, fields map[string]string) *models.Snapshot {
	f.t.Helper()
	s := models.NewSnapshot(f.OrgID, sourceType)
	s.ImportFileID = &file.ID
	for k, v := range fields {
		s.Set(k, v, s.ID)
	}
	require.NoError(f.t, f.Snapshots.Create(f.ctx, s))
	return s
}

// Link adds parent -> child edges from parent to every child.
func (f *Fixtures) Link(parent *models.Snapshot, children ...*models.Snapshot) {
	f.t.Helper()
	for _, c := range children {
		require.NoError(f.t, f.Snapshots.AddEdge(f.ctx, parent.ID, c.ID))
	}
}

// Canonical inserts a ledger entry for s and stores the back reference.
func (f *Fixtures) Canonical(s *models.Snapshot, active bool) *models.CanonicalBuilding {
	f.t.Helper()
	c := models.NewCanonicalBuilding(f.OrgID, s.ID)
	c.Active = active
	require.NoError(f.t, f.Canonicals.Create(f.ctx, c))
	require.NoError(f.t, f.Snapshots.SetCanonicalBuilding(f.ctx, s.ID, &c.ID))
	s.CanonicalBuildingID = &c.ID
	return c
}

// ImportFile inserts an import record and one file with raw data saved.
func (f *Fixtures) ImportFile(sourceType models.SourceType) *models.ImportFile {
	f.t.Helper()
	return f.importFile(sourceType, true)
}

// PendingImportFile inserts a file whose rows have not been saved yet.
func (f *Fixtures) PendingImportFile(sourceType models.SourceType) *models.ImportFile {
	f.t.Helper()
	return f.importFile(sourceType, false)
}

func (f *Fixtures) importFile(sourceType models.SourceType, rawSaveDone bool) *models.ImportFile {
	f.t.Helper()
	record := &models.ImportRecord{OrganizationID: f.OrgID, Name: "fixture"}
	require.NoError(f.t, f.Imports.CreateRecord(f.ctx, record))

	file := &models.ImportFile{
		ImportRecordID: record.ID,
		OrganizationID: f.OrgID,
		FileName:       "fixture.csv",
		SourceType:     sourceType,
		RawSaveDone:    rawSaveDone,
	}
	require.NoError(f.t, f.Imports.CreateFile(f.ctx, file))
	return file
}

// Reload fetches the stored copy of a snapshot.
func (f *Fixtures) Reload(id uuid.UUID) *models.Snapshot {
	f.t.Helper()
	s, err := f.Snapshots.Get(f.ctx, id)
	require.NoError(f.t, err)
	return s
}

// ReloadCanonical fetches the stored copy of a ledger entry.
func (f *Fixtures) ReloadCanonical(id uuid.UUID) *models.CanonicalBuilding {
	f.t.Helper()
	c, err := f.Canonicals.Get(f.ctx, id)
	require.NoError(f.t, err)
	return c
}
