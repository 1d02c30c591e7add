package retryqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/tributaryhq/tributary/pkg/database"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// Repository handles durable retry queue persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new retry queue repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Enqueue persists a raw payload for asynchronous ingestion
func (r *Repository) Enqueue(ctx context.Context, req models.EnqueueRetryItemRequest) (*models.RetryQueueItem, error) {
	ctx, span := tracing.StartSpan(ctx, "retryqueue.Repository.Enqueue")
	defer span.End()

	item := models.RetryQueueItem{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		Source:         req.Source,
		EventType:      req.EventType,
		Payload:        req.Payload,
		Status:         models.QueueStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	builder := sqlbuilder.PostgreSQL.NewInsertBuilder()
	builder.InsertInto("retry_queue_items")
	builder.Cols("id", "organization_id", "source", "event_type", "payload", "status", "attempts", "created_at")
	builder.Values(item.ID, item.OrganizationID, item.Source, item.EventType, database.JSONB[json.RawMessage]{Data: item.Payload}, item.Status, item.Attempts, item.CreatedAt)

	query, args := builder.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": req.Source, "event_type": req.EventType}).Error("Failed to enqueue retry queue item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue item")
	}
	return &item, nil
}

// ClaimBatch atomically moves up to limit due items to processing and returns
// them. The claim is a single conditional UPDATE over a SKIP LOCKED subselect,
// so concurrent drains never hand the same item to two workers.
func (r *Repository) ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]models.RetryQueueItem, error) {
	ctx, span := tracing.StartSpan(ctx, "retryqueue.Repository.ClaimBatch")
	defer span.End()

	query := `
		UPDATE retry_queue_items
		SET status = 'processing', claimed_at = now()
		WHERE id IN (
			SELECT id FROM retry_queue_items
			WHERE status IN ('pending', 'retry_pending')
			  AND attempts < $1
			  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, organization_id, source, event_type, payload, status, attempts, error_message, next_attempt_at, created_at, processed_at
	`

	var items []models.RetryQueueItem
	if err := r.db.SelectContext(ctx, &items, query, maxAttempts, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to claim retry queue batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to claim queue batch")
	}
	return items, nil
}

// Complete marks an item successfully processed
func (r *Repository) Complete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "retryqueue.Repository.Complete")
	defer span.End()

	builder := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	builder.Update("retry_queue_items")
	builder.Set(
		builder.Assign("status", models.QueueStatusCompleted),
		builder.Assign("error_message", nil),
		builder.Assign("processed_at", time.Now().UTC()),
	)
	builder.Where(builder.Equal("id", id))

	query, args := builder.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": id}).Error("Failed to complete retry queue item")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete queue item")
	}
	return nil
}

// FailOrRetry records a processing failure. The attempt counter increments;
// below the ceiling the item returns to retry_pending with a backoff window,
// at the ceiling it lands in failed permanently.
func (r *Repository) FailOrRetry(ctx context.Context, id string, attempts, maxAttempts int, errMsg string, backoffBase time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "retryqueue.Repository.FailOrRetry")
	defer span.End()

	attempts++
	builder := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	builder.Update("retry_queue_items")

	if attempts >= maxAttempts {
		builder.Set(
			builder.Assign("status", models.QueueStatusFailed),
			builder.Assign("attempts", attempts),
			builder.Assign("error_message", errMsg),
			builder.Assign("processed_at", time.Now().UTC()),
		)
	} else {
		// backoff doubles per prior attempt: base, 2*base, 4*base, ...
		nextAttempt := time.Now().UTC().Add(backoffBase * time.Duration(1<<(attempts-1)))
		builder.Set(
			builder.Assign("status", models.QueueStatusRetryPending),
			builder.Assign("attempts", attempts),
			builder.Assign("error_message", errMsg),
			builder.Assign("next_attempt_at", nextAttempt),
		)
	}
	builder.Where(builder.Equal("id", id))

	query, args := builder.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": id, "attempts": attempts}).Error("Failed to record retry queue failure")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record queue failure")
	}
	return nil
}

// ReclaimStale returns items stuck in processing beyond the timeout to
// pending so a later drain can pick them up again. Attempts are preserved.
func (r *Repository) ReclaimStale(ctx context.Context, staleTimeout time.Duration) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "retryqueue.Repository.ReclaimStale")
	defer span.End()

	query := `
		UPDATE retry_queue_items
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing'
		  AND claimed_at <= $1
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC().Add(-staleTimeout))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reclaim stale queue items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reclaim stale items")
	}
	reclaimed, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return reclaimed, nil
}

// StatusCounts aggregates items by status for the queue status endpoint
func (r *Repository) StatusCounts(ctx context.Context) (*models.QueueStatusCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "retryqueue.Repository.StatusCounts")
	defer span.End()

	query := `SELECT status, COUNT(*) AS count FROM retry_queue_items GROUP BY status`

	var rows []struct {
		Status models.QueueStatus `db:"status"`
		Count  int                `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get queue status counts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get queue status")
	}

	counts := models.QueueStatusCounts{}
	for _, row := range rows {
		switch row.Status {
		case models.QueueStatusPending:
			counts.Pending = row.Count
		case models.QueueStatusProcessing:
			counts.Processing = row.Count
		case models.QueueStatusRetryPending:
			counts.Retrying = row.Count
		case models.QueueStatusCompleted:
			counts.Completed = row.Count
		case models.QueueStatusFailed:
			counts.Failed = row.Count
		}
	}
	return &counts, nil
}

// RecentFailures returns the most recent terminally failed items
func (r *Repository) RecentFailures(ctx context.Context, limit int) ([]models.QueueFailure, error) {
	ctx, span := tracing.StartSpan(ctx, "retryqueue.Repository.RecentFailures")
	defer span.End()

	builder := sqlbuilder.PostgreSQL.NewSelectBuilder()
	builder.Select("id", "source", "event_type", "attempts", "error_message", "created_at")
	builder.From("retry_queue_items")
	builder.Where(builder.Equal("status", models.QueueStatusFailed))
	builder.OrderBy("created_at").Desc()
	builder.Limit(limit)

	query, args := builder.Build()
	var failures []models.QueueFailure
	if err := r.db.SelectContext(ctx, &failures, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get recent queue failures")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get queue failures")
	}
	return failures, nil
}
