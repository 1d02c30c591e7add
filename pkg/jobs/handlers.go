package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/pkg/ingest"
	"github.com/tributaryhq/tributary/pkg/models"
)

const (
	defaultDigestWindow = 24 * time.Hour
	defaultDigestLimit  = 10
	defaultRollupWindow = time.Hour
)

// DigestSource supplies the highest-attention activities for a window
type DigestSource interface {
	TopByScoreSince(ctx context.Context, organizationID string, since time.Time, limit int) ([]models.Activity, error)
}

// RollupSource supplies per-source activity counts for a window
type RollupSource interface {
	CountBySourceSince(ctx context.Context, since time.Time) ([]activity.SourceCount, error)
}

// Ingester replays an event payload through the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, input models.IngestEventInput) (*ingest.IngestResult, error)
}

// RegisterHandlers binds the built-in job types to the processor
func RegisterHandlers(p *Processor, digests DigestSource, rollups RollupSource, ingester Ingester, logger ectologger.Logger) {
	p.Register(models.JobTypeIngestEvent, IngestEventHandler(ingester))
	p.Register(models.JobTypeDigestGeneration, DigestHandler(digests, logger))
	p.Register(models.JobTypeMetricRollup, RollupHandler(rollups, logger))
	p.Register(models.JobTypeIntegrationSync, IntegrationSyncHandler(logger))
}

// IngestEventHandler runs a queued event through the full ingestion pipeline
func IngestEventHandler(ingester Ingester) Handler {
	return func(ctx context.Context, job models.Job) error {
		var input models.IngestEventInput
		if err := json.Unmarshal(job.Payload, &input); err != nil {
			return fmt.Errorf("invalid ingest payload: %w", err)
		}
		if input.OrganizationID == nil {
			input.OrganizationID = job.OrganizationID
		}
		_, err := ingester.Ingest(ctx, input)
		return err
	}
}

type digestPayload struct {
	WindowHours int `json:"window_hours"`
	Limit       int `json:"limit"`
}

// DigestHandler summarizes the highest-attention activities for a tenant
func DigestHandler(digests DigestSource, logger ectologger.Logger) Handler {
	return func(ctx context.Context, job models.Job) error {
		if job.OrganizationID == nil {
			return fmt.Errorf("digest job requires an organization")
		}

		var payload digestPayload
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("invalid digest payload: %w", err)
			}
		}
		window := defaultDigestWindow
		if payload.WindowHours > 0 {
			window = time.Duration(payload.WindowHours) * time.Hour
		}
		limit := defaultDigestLimit
		if payload.Limit > 0 {
			limit = payload.Limit
		}

		top, err := digests.TopByScoreSince(ctx, *job.OrganizationID, time.Now().UTC().Add(-window), limit)
		if err != nil {
			return err
		}

		entries := make([]map[string]any, 0, len(top))
		for _, a := range top {
			entries = append(entries, map[string]any{"activity_id": a.ID, "title": a.Title, "attention_score": a.AttentionScore})
		}
		logger.WithContext(ctx).WithFields(map[string]any{"job_id": job.JobID, "organization_id": *job.OrganizationID, "entries": entries}).Info("Generated activity digest")
		return nil
	}
}

type rollupPayload struct {
	WindowHours int `json:"window_hours"`
}

// RollupHandler aggregates per-source ingestion volume for a window
func RollupHandler(rollups RollupSource, logger ectologger.Logger) Handler {
	return func(ctx context.Context, job models.Job) error {
		var payload rollupPayload
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("invalid rollup payload: %w", err)
			}
		}
		window := defaultRollupWindow
		if payload.WindowHours > 0 {
			window = time.Duration(payload.WindowHours) * time.Hour
		}

		counts, err := rollups.CountBySourceSince(ctx, time.Now().UTC().Add(-window))
		if err != nil {
			return err
		}

		fields := map[string]any{"job_id": job.JobID, "window": window.String()}
		for _, c := range counts {
			fields["source_"+string(c.Source)] = c.Count
		}
		logger.WithContext(ctx).WithFields(fields).Info("Completed metric rollup")
		return nil
	}
}

type integrationSyncPayload struct {
	Source string `json:"source"`
}

// IntegrationSyncHandler acknowledges a sync request for an external tool.
// TODO: drive the per-source backfill clients once they land.
func IntegrationSyncHandler(logger ectologger.Logger) Handler {
	return func(ctx context.Context, job models.Job) error {
		var payload integrationSyncPayload
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("invalid sync payload: %w", err)
			}
		}
		if payload.Source == "" {
			return fmt.Errorf("sync job requires a source")
		}
		logger.WithContext(ctx).WithFields(map[string]any{"job_id": job.JobID, "source": payload.Source}).Info("Integration sync requested")
		return nil
	}
}
