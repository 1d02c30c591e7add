package event

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tributaryhq/tributary/internal/repositories/retryqueue"
	ctxmiddleware "github.com/tributaryhq/tributary/pkg/context"
	"github.com/tributaryhq/tributary/pkg/ingest"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

var validate = validator.New()

// Register registers event ingestion routes
func Register(g *echo.Group) {
	g.POST("", Ingest)
	g.POST("/enqueue", Enqueue)
}

// IngestResponse is the response shape for synchronous ingestion
type IngestResponse struct {
	OK       bool             `json:"ok"`
	Created  bool             `json:"created"`
	Activity *models.Activity `json:"activity,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Ingest accepts one normalized event and runs it through the pipeline.
// Chat sources always get a 2xx response: Slack and Discord retry storms on
// non-2xx would otherwise amplify a transient failure.
func Ingest(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "event_handler.Ingest")
	defer span.End()

	var input models.IngestEventInput
	if err := c.Bind(&input); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if input.OrganizationID == nil {
		if org := ctxmiddleware.GetOrganizationID(ctx); org != "" {
			input.OrganizationID = &org
		}
	}

	ctx, gateway, err := ectoinject.GetContext[*ingest.Gateway](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get ingestion gateway")
	}

	result, err := gateway.Ingest(ctx, input)
	if err != nil {
		if models.Source(input.Source).IsChatSource() {
			return c.JSON(http.StatusOK, IngestResponse{OK: false, Error: err.Error()})
		}
		return err
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, IngestResponse{OK: true, Created: result.Created, Activity: result.Activity})
}

// EnqueueResponse is the response shape for durable enqueue
type EnqueueResponse struct {
	Item *models.RetryQueueItem `json:"item"`
}

// Enqueue persists an event payload to the durable retry queue instead of
// processing it inline
func Enqueue(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "event_handler.Enqueue")
	defer span.End()

	var req models.EnqueueRetryItemRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrganizationID == nil {
		if org := ctxmiddleware.GetOrganizationID(ctx); org != "" {
			req.OrganizationID = &org
		}
	}

	ctx, repo, err := ectoinject.GetContext[*retryqueue.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get queue repository")
	}

	item, err := repo.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, EnqueueResponse{Item: item})
}
