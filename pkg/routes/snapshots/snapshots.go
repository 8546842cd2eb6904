package snapshots

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/lineage"
	"github.com/afrojet/seed/pkg/matching"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/routes/request"
	"github.com/afrojet/seed/pkg/unmerge"
)

// Register registers snapshot routes
func Register(g *echo.Group) {
	g.POST("/match", Match)
	g.GET("/:id", Get)
	g.GET("/:id/ancestors", Ancestors)
	g.GET("/:id/tree", Tree)
	g.POST("/:id/unmatch", Unmatch)
}

func Get(c echo.Context) error {
	s, err := loadSnapshot(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

// Ancestors lists every non raw snapshot the building was built from.
func Ancestors(c echo.Context) error {
	s, err := loadSnapshot(c)
	if err != nil {
		return err
	}

	ctx, traverser, err := ectoinject.GetContext[*lineage.Traverser](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ancestors, err := traverser.Ancestors(ctx, s.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ancestors)
}

type TreeResponse struct {
	ParentTree []uuid.UUID `json:"parent_tree"`
	ChildTree  []uuid.UUID `json:"child_tree"`
}

// Tree returns the first-parent and first-child chains through a snapshot.
func Tree(c echo.Context) error {
	s, err := loadSnapshot(c)
	if err != nil {
		return err
	}

	ctx, traverser, err := ectoinject.GetContext[*lineage.Traverser](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	parents, err := traverser.ParentTree(ctx, s.ID)
	if err != nil {
		return err
	}
	children, err := traverser.ChildTree(ctx, s.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TreeResponse{ParentTree: parents, ChildTree: children})
}

func Unmatch(c echo.Context) error {
	s, err := loadSnapshot(c)
	if err != nil {
		return err
	}

	ctx, unmerger, err := ectoinject.GetContext[*unmerge.Engine](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := unmerger.Unmatch(ctx, s.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Match confirms a possible match between two snapshots.
func Match(c echo.Context) error {
	var match matching.ManualMatch
	if err := request.Bind(c, &match); err != nil {
		return err
	}

	ctx, snapshots, err := ectoinject.GetContext[*snapshot.Repository](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, matcher, err := ectoinject.GetContext[*matching.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	left, err := snapshots.Get(ctx, match.LeftID)
	if err != nil {
		return err
	}
	if err := request.Owned(c, left.OrganizationID, "snapshot", left.ID); err != nil {
		return err
	}
	match.User = request.User(c)

	composite, err := matcher.SaveSnapshotMatch(ctx, match)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, composite)
}

func loadSnapshot(c echo.Context) (*models.Snapshot, error) {
	id, err := request.ID(c, "id")
	if err != nil {
		return nil, err
	}

	ctx, snapshots, err := ectoinject.GetContext[*snapshot.Repository](c.Request().Context())
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	s, err := snapshots.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := request.Owned(c, s.OrganizationID, "snapshot", id); err != nil {
		return nil, err
	}
	return s, nil
}
