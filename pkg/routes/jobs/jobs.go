package jobs

import (
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	jobrepo "github.com/tributaryhq/tributary/internal/repositories/job"
	ctxmiddleware "github.com/tributaryhq/tributary/pkg/context"
	jobsprocessor "github.com/tributaryhq/tributary/pkg/jobs"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

var validate = validator.New()

// Register registers job processor routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.GET("/stats", Stats)
	g.POST("/process", Process)
}

// CreateJobRequest is the request shape for enqueuing a job
type CreateJobRequest struct {
	JobType models.JobType  `json:"job_type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Create enqueues a background job
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "jobs_handler.Create")
	defer span.End()

	var req CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	known := false
	for _, t := range models.KnownJobTypes() {
		if t == req.JobType {
			known = true
			break
		}
	}
	if !known {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown job type: %s", req.JobType)
	}

	var organizationID *string
	if org := ctxmiddleware.GetOrganizationID(ctx); org != "" {
		organizationID = &org
	}

	ctx, repo, err := ectoinject.GetContext[*jobrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job repository")
	}

	job, err := repo.Insert(ctx, jobrepo.CreateJobRequest{
		JobID:          uuid.New().String(),
		OrganizationID: organizationID,
		JobType:        req.JobType,
		Payload:        req.Payload,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, job)
}

// Stats returns job counts by status and type
func Stats(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "jobs_handler.Stats")
	defer span.End()

	ctx, processor, err := ectoinject.GetContext[*jobsprocessor.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job processor")
	}

	stats, err := processor.Stats(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// ProcessRequest is the request shape for a manual processing pass
type ProcessRequest struct {
	Limit int `json:"limit"`
}

// Process claims and executes due jobs immediately
func Process(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "jobs_handler.Process")
	defer span.End()

	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, processor, err := ectoinject.GetContext[*jobsprocessor.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job processor")
	}

	result, err := processor.ProcessBatch(ctx, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
