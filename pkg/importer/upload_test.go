package importer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/internal/testutil"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/importer"
	"github.com/afrojet/seed/pkg/models"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		kind string
		want models.SourceType
		err  bool
	}{
		{kind: "ASSESSED", want: models.SourceTypeRawAssessed},
		{kind: " portfolio ", want: models.SourceTypeRawPortfolio},
		{kind: "RAW_PORTFOLIO", want: models.SourceTypeRawPortfolio},
		{kind: "COMPOSITE", err: true},
		{kind: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := importer.ParseKind(tt.kind)
			if tt.err {
				assert.ErrorIs(t, err, seederrors.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImporter_CreateFile(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	imp := newImporter(env, nil, 0)

	file, err := imp.CreateFile(env.Ctx, importer.Upload{
		OrganizationID: "org-1",
		OwnerID:        "user-1",
		FileName:       "assessor.csv",
		Kind:           "ASSESSED",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SourceTypeRawAssessed, file.SourceType)
	assert.False(t, file.RawSaveDone)

	record, err := env.Imports.GetRecord(env.Ctx, file.ImportRecordID)
	require.NoError(t, err)
	assert.Equal(t, "assessor.csv", record.Name)
	assert.Equal(t, "user-1", record.OwnerID)

	second, err := imp.CreateFile(env.Ctx, importer.Upload{
		OrganizationID: "org-1",
		RecordID:       &record.ID,
		FileName:       "portfolio.csv",
		Kind:           "PORTFOLIO",
	})
	require.NoError(t, err)
	assert.Equal(t, record.ID, second.ImportRecordID)

	_, err = imp.CreateFile(env.Ctx, importer.Upload{
		OrganizationID: "org-2",
		RecordID:       &record.ID,
		FileName:       "other.csv",
		Kind:           "PORTFOLIO",
	})
	assert.ErrorIs(t, err, seederrors.ErrNotFound)
}
