package job

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/tributaryhq/tributary/pkg/database"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// Repository handles background job persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new job repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateJobRequest describes a job to enqueue
type CreateJobRequest struct {
	JobID          string
	OrganizationID *string
	JobType        models.JobType
	Payload        json.RawMessage
}

// Insert enqueues a new job as pending
func (r *Repository) Insert(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Insert")
	defer span.End()

	j := models.Job{
		ID:             uuid.New().String(),
		JobID:          req.JobID,
		OrganizationID: req.OrganizationID,
		JobType:        req.JobType,
		Payload:        req.Payload,
		Status:         models.QueueStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	builder := sqlbuilder.PostgreSQL.NewInsertBuilder()
	builder.InsertInto("jobs")
	builder.Cols("id", "job_id", "organization_id", "job_type", "payload", "status", "attempts", "created_at")
	builder.Values(j.ID, j.JobID, j.OrganizationID, j.JobType, database.JSONB[json.RawMessage]{Data: j.Payload}, j.Status, j.Attempts, j.CreatedAt)

	query, args := builder.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": req.JobID, "job_type": req.JobType}).Error("Failed to insert job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert job")
	}
	return &j, nil
}

// ClaimBatch atomically claims up to limit due jobs of the allowed types.
// Same SKIP LOCKED discipline as the retry queue claim.
func (r *Repository) ClaimBatch(ctx context.Context, jobTypes []models.JobType, limit, maxAttempts int) ([]models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.ClaimBatch")
	defer span.End()

	types := make([]string, 0, len(jobTypes))
	for _, t := range jobTypes {
		types = append(types, string(t))
	}

	query := `
		UPDATE jobs
		SET status = 'processing', claimed_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('pending', 'retry_pending')
			  AND job_type = ANY($1)
			  AND attempts < $2
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_id, organization_id, job_type, payload, status, attempts, error_message, created_at, processed_at
	`

	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, pq.Array(types), maxAttempts, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to claim job batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to claim jobs")
	}
	return jobs, nil
}

// Complete marks a job successfully processed
func (r *Repository) Complete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Complete")
	defer span.End()

	builder := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	builder.Update("jobs")
	builder.Set(
		builder.Assign("status", models.QueueStatusCompleted),
		builder.Assign("error_message", nil),
		builder.Assign("processed_at", time.Now().UTC()),
	)
	builder.Where(builder.Equal("id", id))

	query, args := builder.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to complete job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete job")
	}
	return nil
}

// FailOrRetry records a job failure, retrying below the attempt ceiling
func (r *Repository) FailOrRetry(ctx context.Context, id string, attempts, maxAttempts int, errMsg string) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.FailOrRetry")
	defer span.End()

	attempts++
	builder := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	builder.Update("jobs")

	if attempts >= maxAttempts {
		builder.Set(
			builder.Assign("status", models.QueueStatusFailed),
			builder.Assign("attempts", attempts),
			builder.Assign("error_message", errMsg),
			builder.Assign("processed_at", time.Now().UTC()),
		)
	} else {
		builder.Set(
			builder.Assign("status", models.QueueStatusRetryPending),
			builder.Assign("attempts", attempts),
			builder.Assign("error_message", errMsg),
		)
	}
	builder.Where(builder.Equal("id", id))

	query, args := builder.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "attempts": attempts}).Error("Failed to record job failure")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record job failure")
	}
	return nil
}

// Stats aggregates job counts by status and by type in two GROUP BY queries
func (r *Repository) Stats(ctx context.Context) (*models.JobStats, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Stats")
	defer span.End()

	var statusRows []struct {
		Status models.QueueStatus `db:"status"`
		Count  int                `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &statusRows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get job status counts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job stats")
	}

	var typeRows []struct {
		JobType models.JobType `db:"job_type"`
		Count   int            `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &typeRows, `SELECT job_type, COUNT(*) AS count FROM jobs GROUP BY job_type`); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get job type counts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job stats")
	}

	stats := models.JobStats{ByType: make(map[models.JobType]int, len(typeRows))}
	for _, row := range statusRows {
		switch row.Status {
		case models.QueueStatusPending:
			stats.Pending = row.Count
		case models.QueueStatusProcessing:
			stats.Processing = row.Count
		case models.QueueStatusRetryPending:
			stats.Retrying = row.Count
		case models.QueueStatusCompleted:
			stats.Completed = row.Count
		case models.QueueStatusFailed:
			stats.Failed = row.Count
		}
	}
	for _, row := range typeRows {
		stats.ByType[row.JobType] = row.Count
	}
	return &stats, nil
}
