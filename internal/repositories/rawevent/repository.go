package rawevent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/tributaryhq/tributary/pkg/database"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// Repository handles raw event audit persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new raw event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert records the inbound payload before any normalization. Audit writes
// are best effort: the caller logs the returned error but must not let it
// abort ingestion.
func (r *Repository) Insert(ctx context.Context, organizationID *string, source models.Source, eventType, externalID string, payload json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "rawevent.Repository.Insert")
	defer span.End()

	builder := sqlbuilder.PostgreSQL.NewInsertBuilder()
	builder.InsertInto("raw_events")
	builder.Cols("id", "organization_id", "source", "event_type", "external_id", "payload", "received_at")
	builder.Values(uuid.New().String(), organizationID, source, eventType, externalID, database.JSONB[json.RawMessage]{Data: payload}, time.Now().UTC())

	query, args := builder.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": source, "event_type": eventType}).Error("Failed to insert raw event")
		return err
	}
	return nil
}
