package imports

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/pkg/columnmapper"
	"github.com/afrojet/seed/pkg/importer"
	"github.com/afrojet/seed/pkg/mapping"
	"github.com/afrojet/seed/pkg/matching"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/routes/request"
)

// Register registers import file routes
func Register(g *echo.Group) {
	g.POST("", Upload)
	g.GET("", List)
	g.GET("/:id", Get)
	g.GET("/:id/columns", Columns)
	g.GET("/:id/mapping-suggestions", Suggestions)
	g.POST("/:id/map", Map)
	g.POST("/:id/match", Match)
}

type UploadResponse struct {
	File   *models.ImportFile   `json:"file"`
	Result *models.ImportResult `json:"result"`
}

// Upload accepts a multipart CSV under "file" and saves its rows as raw snapshots.
func Upload(c echo.Context) error {
	ctx := c.Request().Context()

	header, err := c.FormFile("file")
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	upload := importer.Upload{
		OrganizationID: request.Organization(c),
		OwnerID:        request.User(c),
		FileName:       header.Filename,
		Kind:           c.FormValue("source_type"),
	}
	if raw := c.FormValue("import_record_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "import_record_id must be a uuid")
		}
		upload.RecordID = &id
	}

	src, err := header.Open()
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}
	defer src.Close()

	reader, err := importer.NewCSVReader(src)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file is not a readable CSV")
	}

	ctx, imp, err := ectoinject.GetContext[*importer.Importer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, files, err := ectoinject.GetContext[*importfile.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	file, err := imp.CreateFile(ctx, upload)
	if err != nil {
		return err
	}
	result, err := imp.Import(ctx, file.ID, reader)
	if err != nil {
		return err
	}

	file, err = files.GetFile(ctx, file.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, UploadResponse{File: file, Result: result})
}

func List(c echo.Context) error {
	ctx, files, err := ectoinject.GetContext[*importfile.Repository](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	list, err := files.ListFiles(ctx, request.Organization(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func Get(c echo.Context) error {
	file, err := loadFile(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, file)
}

// Columns returns the header row cached during import.
func Columns(c echo.Context) error {
	file, err := loadFile(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"columns": file.Headers()})
}

func Suggestions(c echo.Context) error {
	file, err := loadFile(c)
	if err != nil {
		return err
	}

	ctx, mapper, err := ectoinject.GetContext[*columnmapper.Mapper](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	suggestions, err := mapper.Suggest(ctx, file.OrganizationID, file.SourceType, file.Headers())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, suggestions)
}

func Map(c echo.Context) error {
	file, err := loadFile(c)
	if err != nil {
		return err
	}

	ctx, executor, err := ectoinject.GetContext[*mapping.Executor](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := executor.MapFile(ctx, file.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func Match(c echo.Context) error {
	file, err := loadFile(c)
	if err != nil {
		return err
	}

	ctx, matcher, err := ectoinject.GetContext[*matching.Engine](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := matcher.MatchFile(ctx, file.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func loadFile(c echo.Context) (*models.ImportFile, error) {
	id, err := request.ID(c, "id")
	if err != nil {
		return nil, err
	}

	ctx, files, err := ectoinject.GetContext[*importfile.Repository](c.Request().Context())
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	file, err := files.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := request.Owned(c, file.OrganizationID, "import file", id); err != nil {
		return nil, err
	}
	return file, nil
}
