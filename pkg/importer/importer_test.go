package importer_test

import (
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/internal/testutil"
	"github.com/afrojet/seed/pkg/importer"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/progress"
)

type brokenReader struct {
	*importer.SliceReader
	failAfter int
	served    int
}

func (b *brokenReader) Next() ([]string, error) {
	if b.served >= b.failAfter {
		return nil, errors.New("connection reset")
	}
	b.served++
	return b.SliceReader.Next()
}

// garbledReader fails to parse the row at index bad and keeps reading.
type garbledReader struct {
	*importer.SliceReader
	bad    int
	served int
}

func (g *garbledReader) Next() ([]string, error) {
	defer func() { g.served++ }()
	if g.served == g.bad {
		return nil, &csv.ParseError{StartLine: g.bad + 2, Line: g.bad + 2, Column: 3, Err: csv.ErrQuote}
	}
	return g.SliceReader.Next()
}

func newImporter(env *testutil.Env, sink progress.Sink, batchSize int) *importer.Importer {
	return importer.NewImporter(env.DB, env.Snapshots, env.Imports, sink, testutil.Logger(), batchSize)
}

func TestImporter_SavesRawSnapshots(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.PendingImportFile(models.SourceTypeRawAssessed)
	sink := progress.NewMemorySink()

	src, err := importer.NewCSVReader(strings.NewReader("\ufeffProperty Id,Address,Year Built\n1,12 Oak St,1999\n2,14 Oak St,2001\n3,16 Oak St,2003\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Property Id", "Address", "Year Built"}, src.Header())

	result, err := newImporter(env, sink, 2).Import(env.Ctx, file.ID, src)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 2, result.Batches)

	raw, err := env.Snapshots.ListByImportFile(env.Ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, raw, 3)

	first := raw[0]
	assert.Equal(t, models.SourceTypeRawAssessed, first.SourceType)
	assert.Equal(t, "org-1", first.OrganizationID)
	assert.Equal(t, map[string]string{"Property Id": "1", "Address": "12 Oak St", "Year Built": "1999"}, first.ExtraData)
	for key := range first.ExtraData {
		assert.Equal(t, first.ID, first.ExtraDataSources[key], key)
	}
	assert.Empty(t, first.Fields)
	assert.Equal(t, "3", raw[2].ExtraData["Property Id"])

	stored, err := env.Imports.GetFile(env.Ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, stored.RawSaveDone)
	assert.Equal(t, 3, stored.NumRows)
	assert.Equal(t, []string{"Property Id", "Address", "Year Built"}, stored.Headers())

	value, err := sink.Get(env.Ctx, progress.Key(progress.JobSaveRawData, file.ID))
	require.NoError(t, err)
	assert.Equal(t, 3.0, value)
}

func TestImporter_SkipsMalformedRows(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.PendingImportFile(models.SourceTypeRawPortfolio)

	src := importer.NewSliceReader([]string{"a", "b"}, [][]string{{"1", "2"}, {"only one"}, {"3", "4", "5"}, {"6", "7"}})

	result, err := newImporter(env, nil, 10).Import(env.Ctx, file.ID, src)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, result.Status)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 2, result.Skipped)

	count, err := env.Snapshots.Count(env.Ctx, "org-1", models.SourceTypeRawPortfolio)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestImporter_ReadFailureKeepsCommittedBatches(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.PendingImportFile(models.SourceTypeRawAssessed)

	rows := [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"5"}}
	src := &brokenReader{SliceReader: importer.NewSliceReader([]string{"id"}, rows), failAfter: 3}

	result, err := newImporter(env, nil, 2).Import(env.Ctx, file.ID, src)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, 3, result.Created)

	stored, err := env.Imports.GetFile(env.Ctx, file.ID)
	require.NoError(t, err)
	assert.False(t, stored.RawSaveDone)
}

func TestImporter_SkipsUnparseableRows(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.PendingImportFile(models.SourceTypeRawAssessed)

	rows := [][]string{{"1"}, {"2"}, {"3"}}
	src := &garbledReader{SliceReader: importer.NewSliceReader([]string{"id"}, rows), bad: 1}

	result, err := newImporter(env, nil, 10).Import(env.Ctx, file.ID, src)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, result.Status)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 1, result.Skipped)

	stored, err := env.Imports.GetFile(env.Ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, stored.RawSaveDone)
	assert.Equal(t, 1, stored.NumSkipped)
}

func TestImporter_AlreadySaved(t *testing.T) {
	env := testutil.NewEnv(t, "org-1")
	file := env.Fixtures.ImportFile(models.SourceTypeRawAssessed)

	result, err := newImporter(env, nil, 10).Import(env.Ctx, file.ID, importer.NewSliceReader([]string{"id"}, [][]string{{"1"}}))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, result.Status)
	assert.Zero(t, result.Created)
}
