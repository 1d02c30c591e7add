package queue

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/tributaryhq/tributary/internal/repositories/retryqueue"
	queueworker "github.com/tributaryhq/tributary/pkg/queue"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

const maxFailuresPageSize = 100

// Register registers retry queue routes
func Register(g *echo.Group) {
	g.GET("/status", Status)
	g.GET("/failures", Failures)
	g.POST("/drain", Drain)
}

// Status returns queue item counts by status
func Status(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "queue_handler.Status")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*retryqueue.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get queue repository")
	}

	counts, err := repo.StatusCounts(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

// Failures returns the most recent terminally failed items
func Failures(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "queue_handler.Failures")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > maxFailuresPageSize {
		limit = 20
	}

	ctx, repo, err := ectoinject.GetContext[*retryqueue.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get queue repository")
	}

	failures, err := repo.RecentFailures(ctx, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"failures": failures})
}

// Drain triggers one drain cycle immediately instead of waiting for the
// ticker. Useful for operators clearing a backlog after an incident.
func Drain(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "queue_handler.Drain")
	defer span.End()

	ctx, worker, err := ectoinject.GetContext[*queueworker.Worker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get queue worker")
	}

	processed, err := worker.Drain(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"processed": processed})
}
