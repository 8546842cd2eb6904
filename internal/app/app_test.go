package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/config"
	"github.com/afrojet/seed/internal/testutil"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/matching"
	"github.com/afrojet/seed/pkg/middleware"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/progress"
	"github.com/afrojet/seed/pkg/routes/imports"
	progressroutes "github.com/afrojet/seed/pkg/routes/progress"
	"github.com/afrojet/seed/pkg/routes/snapshots"
)

const portfolio = `Property Id,Property Name,Address,City
1001,Place pl.,332 Place pl.,Denver
1001,Place pl.,332 Place pl.,Boulder
2002,Other,10 Main st.,Denver
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("SEED_DB_DRIVER", "sqlite")

	cfg, err := config.Load("")
	require.NoError(t, err)

	a := New(cfg, testutil.Logger(), Options{SkipMigrations: true})
	a.DB = testutil.NewDB(t)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func call(t *testing.T, e *echo.Echo, method, path, contentType string, body *bytes.Buffer, out any) int {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(middleware.HeaderOrganizationID, "org-1")
	req.Header.Set(middleware.HeaderUserID, "user-1")
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if out != nil && rec.Code < http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func upload(t *testing.T, csv string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("source_type", "PORTFOLIO"))
	part, err := w.CreateFormFile("file", "portfolio.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestApp_Defaults(t *testing.T) {
	a := newTestApp(t)

	require.NotNil(t, a.Services)
	assert.IsType(t, &locking.MemoryLocker{}, a.Services.Locker)
	assert.IsType(t, &progress.MemorySink{}, a.Services.Progress)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Kafka)
}

func TestApp_ContainerResolvesServices(t *testing.T) {
	a := newTestApp(t)
	require.NotNil(t, a.Container)

	matcher, err := ectoinject.GetFromContainer[*matching.Engine](a.Container.GetContainerID())
	require.NoError(t, err)
	assert.Same(t, a.Services.Matcher, matcher)

	sink, err := ectoinject.GetFromContainer[progress.Sink](a.Container.GetContainerID())
	require.NoError(t, err)
	assert.Same(t, a.Services.Progress, sink)

	other := newTestApp(t)
	assert.NotEqual(t, a.Container.GetContainerID(), other.Container.GetContainerID())
	otherMatcher, err := ectoinject.GetFromContainer[*matching.Engine](other.Container.GetContainerID())
	require.NoError(t, err)
	assert.NotSame(t, matcher, otherMatcher)
}

func TestServer_Health(t *testing.T) {
	e := newTestApp(t).Server()

	for _, path := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ImportMapMatch(t *testing.T) {
	a := newTestApp(t)
	e := a.Server()

	mappings := bytes.NewBufferString(`{"source_type":"PORTFOLIO","mappings":[
		{"raw":["Property Id"],"field":"pm_property_id"},
		{"raw":["Property Name"],"field":"property_name"},
		{"raw":["Address"],"field":"address_line_1"}]}`)
	require.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/v1/mappings", echo.MIMEApplicationJSON, mappings, nil))

	body, contentType := upload(t, portfolio)
	var uploaded imports.UploadResponse
	require.Equal(t, http.StatusCreated, call(t, e, http.MethodPost, "/api/v1/imports", contentType, body, &uploaded))
	assert.Equal(t, 3, uploaded.Result.Created)
	fileID := uploaded.File.ID.String()

	var columns map[string][]string
	require.Equal(t, http.StatusOK, call(t, e, http.MethodGet, "/api/v1/imports/"+fileID+"/columns", "", nil, &columns))
	assert.Equal(t, []string{"Property Id", "Property Name", "Address", "City"}, columns["columns"])

	var mapped models.MappingResult
	require.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/v1/imports/"+fileID+"/map", "", nil, &mapped))
	assert.Equal(t, 3, mapped.Mapped)

	var matched models.MatchResult
	require.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/v1/imports/"+fileID+"/match", "", nil, &matched))
	assert.Equal(t, 3, matched.Processed)
	assert.Equal(t, 1, matched.Merged)
	assert.Equal(t, 2, matched.Promoted)

	var done progressroutes.Response
	key := progress.Key(progress.JobMatchBuildings, uploaded.File.ID)
	require.Equal(t, http.StatusOK, call(t, e, http.MethodGet, "/api/v1/progress/"+key, "", nil, &done))
	assert.Equal(t, 100.0, done.Progress)
}

func TestServer_OrganizationScoping(t *testing.T) {
	e := newTestApp(t).Server()

	body, contentType := upload(t, portfolio)
	var uploaded imports.UploadResponse
	require.Equal(t, http.StatusCreated, call(t, e, http.MethodPost, "/api/v1/imports", contentType, body, &uploaded))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+uploaded.File.ID.String(), nil)
	req.Header.Set(middleware.HeaderOrganizationID, "org-2")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "X-Organization-ID"), rec.Body.String())
}

func TestServer_SnapshotAndBuildingRoutes(t *testing.T) {
	a := newTestApp(t)
	e := a.Server()
	s := a.Services
	fx := testutil.NewFixtures(t, s.Snapshots, s.Canonicals, s.Imports, "org-1")

	left := fx.Snapshot(models.SourceTypeMappedPortfolio, map[string]string{"pm_property_id": "1", "property_name": "Place pl."})
	fx.Canonical(left, true)
	right := fx.Snapshot(models.SourceTypeMappedAssessed, map[string]string{"tax_lot_id": "9", "city": "Denver"})

	match := bytes.NewBufferString(`{"source_building_id":"` + left.ID.String() + `","target_building_id":"` + right.ID.String() + `"}`)
	var composite models.Snapshot
	require.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/v1/snapshots/match", echo.MIMEApplicationJSON, match, &composite))
	assert.Equal(t, models.MatchTypeUserMatch, composite.MatchType)

	var ancestors []models.Snapshot
	require.Equal(t, http.StatusOK, call(t, e, http.MethodGet, "/api/v1/snapshots/"+composite.ID.String()+"/ancestors", "", nil, &ancestors))
	assert.Len(t, ancestors, 2)

	var tree snapshots.TreeResponse
	require.Equal(t, http.StatusOK, call(t, e, http.MethodGet, "/api/v1/snapshots/"+left.ID.String()+"/tree", "", nil, &tree))
	assert.Contains(t, tree.ChildTree, composite.ID)

	var unmatched models.UnmatchResult
	require.Equal(t, http.StatusOK, call(t, e, http.MethodPost, "/api/v1/snapshots/"+composite.ID.String()+"/unmatch", "", nil, &unmatched))
	assert.Equal(t, models.StatusSuccess, unmatched.Status)

	update := bytes.NewBufferString(`{"fields":{"postal_code":"80202"}}`)
	var child models.Snapshot
	require.Equal(t, http.StatusOK, call(t, e, http.MethodPut, "/api/v1/buildings/"+left.ID.String(), echo.MIMEApplicationJSON, update, &child))
	assert.Equal(t, "80202", child.Fields["postal_code"])
	assert.Equal(t, "user-1", child.LastModifiedBy)

	assert.Equal(t, http.StatusNotFound, call(t, e, http.MethodDelete, "/api/v1/organizations/org-2/buildings", "", nil, nil))

	var deleted models.DeleteResult
	require.Equal(t, http.StatusOK, call(t, e, http.MethodDelete, "/api/v1/organizations/org-1/buildings", "", nil, &deleted))
	assert.Equal(t, models.StatusSuccess, deleted.Status)
	assert.Positive(t, deleted.SnapshotsDeleted)
}
