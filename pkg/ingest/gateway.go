package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/pkg/database"
	"github.com/tributaryhq/tributary/pkg/embedding"
	"github.com/tributaryhq/tributary/pkg/metrics"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/scoring"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

var validate = validator.New()

// ActivityStore is the slice of the activity repository the gateway needs
type ActivityStore interface {
	Insert(ctx context.Context, a *models.Activity) error
	GetBySourceExternalID(ctx context.Context, source, externalID string) (*models.Activity, error)
}

// AuditStore records inbound payloads before normalization
type AuditStore interface {
	Insert(ctx context.Context, organizationID *string, source models.Source, eventType, externalID string, payload json.RawMessage) error
}

// ActivityEmitter publishes activity lifecycle events downstream
type ActivityEmitter interface {
	EmitActivityCreated(ctx context.Context, a *models.Activity) error
}

// CorrelationDispatcher hands a persisted activity to the correlation pool
type CorrelationDispatcher interface {
	Dispatch(activityID string) bool
}

// IngestResult reports the persisted activity and whether this call created it
type IngestResult struct {
	Activity *models.Activity
	Created  bool
}

// Gateway is the single entry point of the ingestion pipeline: validate,
// audit, deduplicate, embed, score, persist, then kick off correlation.
type Gateway struct {
	activities ActivityStore
	audits     AuditStore
	embedder   embedding.Provider
	scorer     *scoring.Scorer
	dispatcher CorrelationDispatcher
	emitter    ActivityEmitter
	logger     ectologger.Logger
}

// NewGateway creates an ingestion gateway. dispatcher and emitter may be nil
// when correlation or downstream transport is not configured.
func NewGateway(activities ActivityStore, audits AuditStore, embedder embedding.Provider, scorer *scoring.Scorer, dispatcher CorrelationDispatcher, emitter ActivityEmitter, logger ectologger.Logger) *Gateway {
	return &Gateway{
		activities: activities,
		audits:     audits,
		embedder:   embedder,
		scorer:     scorer,
		dispatcher: dispatcher,
		emitter:    emitter,
		logger:     logger,
	}
}

// Ingest processes one normalized event. Idempotent over (source,
// external_id): re-delivery returns the existing activity with Created false.
func (g *Gateway) Ingest(ctx context.Context, input models.IngestEventInput) (*IngestResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Gateway.Ingest")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.IngestDuration.WithLabelValues(input.Source).Observe(time.Since(start).Seconds())
	}()

	if err := validate.Struct(input); err != nil {
		metrics.EventsIngested.WithLabelValues(input.Source, "failed").Inc()
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	source := models.Source(input.Source)

	g.audit(ctx, source, input)

	// cheap pre-check before paying for an embedding call
	existing, err := g.activities.GetBySourceExternalID(ctx, input.Source, input.ExternalID)
	if err != nil {
		metrics.EventsIngested.WithLabelValues(input.Source, "failed").Inc()
		return nil, err
	}
	if existing != nil {
		metrics.EventsIngested.WithLabelValues(input.Source, "duplicate").Inc()
		return &IngestResult{Activity: existing, Created: false}, nil
	}

	a := &models.Activity{
		ID:             uuid.New().String(),
		OrganizationID: input.OrganizationID,
		Source:         source,
		EventType:      input.EventType,
		ExternalID:     input.ExternalID,
		ActivityType:   input.ActivityType,
		Title:          input.Title,
		Description:    input.Description,
		RepoName:       input.RepoName,
		PRNumber:       input.PRNumber,
		IssueNumber:    input.IssueNumber,
		UserID:         input.UserID,
		Metadata:       input.Metadata,
		Embedding:      database.Vector(g.embed(ctx, input)),
		CreatedAt:      time.Now().UTC(),
	}
	a.AttentionScore = g.scorer.Score(scoring.ScoreInput{
		Source:      source,
		Title:       input.Title,
		Description: input.Description,
		Metadata:    input.Metadata,
	})

	if err := g.activities.Insert(ctx, a); err != nil {
		if errors.Is(err, activity.ErrDuplicate) {
			// lost a race with a concurrent delivery of the same webhook
			winner, lookupErr := g.activities.GetBySourceExternalID(ctx, input.Source, input.ExternalID)
			if lookupErr != nil {
				metrics.EventsIngested.WithLabelValues(input.Source, "failed").Inc()
				return nil, lookupErr
			}
			metrics.EventsIngested.WithLabelValues(input.Source, "duplicate").Inc()
			return &IngestResult{Activity: winner, Created: false}, nil
		}
		metrics.EventsIngested.WithLabelValues(input.Source, "failed").Inc()
		return nil, err
	}

	metrics.EventsIngested.WithLabelValues(input.Source, "created").Inc()
	g.logger.WithContext(ctx).WithFields(map[string]any{"activity_id": a.ID, "source": a.Source, "attention_score": a.AttentionScore}).Info("Ingested activity")

	if g.dispatcher != nil && a.OrganizationID != nil {
		g.dispatcher.Dispatch(a.ID)
	}
	if g.emitter != nil {
		if err := g.emitter.EmitActivityCreated(ctx, a); err != nil {
			g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"activity_id": a.ID}).Warn("Failed to emit activity created event")
		}
	}

	return &IngestResult{Activity: a, Created: true}, nil
}

// audit is best effort: a failed audit write never blocks ingestion
func (g *Gateway) audit(ctx context.Context, source models.Source, input models.IngestEventInput) {
	payload, err := json.Marshal(input)
	if err != nil {
		return
	}
	if err := g.audits.Insert(ctx, input.OrganizationID, source, input.EventType, input.ExternalID, payload); err != nil {
		g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": source, "external_id": input.ExternalID}).Warn("Failed to write raw event audit record")
	}
}

// embed computes an embedding for the activity text. Embedding failures
// degrade to a nil vector: the event still ingests, it just won't correlate
// semantically.
func (g *Gateway) embed(ctx context.Context, input models.IngestEventInput) []float64 {
	text := fmt.Sprintf("%s %s: %s", input.Source, input.ActivityType, input.Title)
	if input.Description != "" {
		text = text + ". " + input.Description
	}

	vector, err := g.embedder.Embed(ctx, embedding.Truncate(text))
	if err != nil {
		if !errors.Is(err, embedding.ErrDisabled) {
			metrics.EmbeddingRequests.WithLabelValues("error").Inc()
			g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"external_id": input.ExternalID}).Warn("Embedding failed, ingesting without vector")
		}
		return nil
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
	return vector
}
