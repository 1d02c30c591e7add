package activity

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	activityrepo "github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/internal/repositories/eventlink"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// Register registers activity routes
func Register(g *echo.Group) {
	g.GET("/:id", Get)
	g.GET("/:id/links", GetLinks)
}

// Get returns a single activity by ID
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "activity_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*activityrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if result == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "activity not found")
	}
	return c.JSON(http.StatusOK, result)
}

// GetLinks returns all links touching an activity, outgoing and incoming
func GetLinks(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "activity_handler.GetLinks")
	defer span.End()

	id := c.Param("id")

	ctx, activities, err := ectoinject.GetContext[*activityrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}
	existing, err := activities.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "activity not found")
	}

	ctx, links, err := ectoinject.GetContext[*eventlink.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get link repository")
	}

	results, err := links.GetLinks(ctx, id)
	if err != nil {
		return err
	}
	if results == nil {
		results = []models.LinkedActivity{}
	}
	return c.JSON(http.StatusOK, models.LinksResponse{Links: results})
}
