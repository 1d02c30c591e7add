package correlation

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/internal/repositories/eventlink"
	"github.com/tributaryhq/tributary/pkg/metrics"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// ActivitySearcher is the slice of the activity repository the engine needs
type ActivitySearcher interface {
	Get(ctx context.Context, id string) (*models.Activity, error)
	FindByTicketKey(ctx context.Context, organizationID, key string) ([]models.Activity, error)
	FindByRepoNumber(ctx context.Context, organizationID string, repoName *string, number int) ([]models.Activity, error)
	SearchSimilar(ctx context.Context, organizationID string, embedding []float64, threshold float64, limit, poolSize int, excludeID string) ([]activity.Match, error)
}

// LinkStore persists discovered links
type LinkStore interface {
	Insert(ctx context.Context, req eventlink.CreateLinkRequest) (*models.EventLink, error)
}

// LinkEmitter publishes link lifecycle events downstream
type LinkEmitter interface {
	EmitLinkCreated(ctx context.Context, link *models.EventLink) error
}

// Config bounds the semantic detector
type Config struct {
	SemanticThreshold     float64
	SemanticLimit         int
	SemanticCandidatePool int
}

// Engine discovers relationships between a newly ingested activity and the
// existing stream. Lexical detection runs on every activity; semantic
// detection runs only when an embedding is present. Correlation is strictly
// organization-scoped.
type Engine struct {
	activities ActivitySearcher
	links      LinkStore
	emitter    LinkEmitter
	config     Config
	logger     ectologger.Logger
}

// NewEngine creates a correlation engine. emitter may be nil when no
// downstream transport is configured.
func NewEngine(activities ActivitySearcher, links LinkStore, emitter LinkEmitter, config Config, logger ectologger.Logger) *Engine {
	return &Engine{
		activities: activities,
		links:      links,
		emitter:    emitter,
		config:     config,
		logger:     logger,
	}
}

// Correlate runs both detectors for one activity. Detector failures are
// logged and swallowed: correlation is additive, never a reason to fail the
// event that triggered it.
func (e *Engine) Correlate(ctx context.Context, activityID string) error {
	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.Correlate")
	defer span.End()

	a, err := e.activities.Get(ctx, activityID)
	if err != nil {
		return err
	}
	if a == nil {
		e.logger.WithContext(ctx).WithFields(map[string]any{"activity_id": activityID}).Warn("Correlation skipped, activity not found")
		return nil
	}
	if a.OrganizationID == nil {
		// without a tenant there is no candidate stream to correlate against
		return nil
	}

	if err := e.correlateLexical(ctx, a); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"activity_id": a.ID}).Error("Lexical correlation failed")
	}
	if err := e.correlateSemantic(ctx, a); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"activity_id": a.ID}).Error("Semantic correlation failed")
	}
	return nil
}

func (e *Engine) correlateLexical(ctx context.Context, a *models.Activity) error {
	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.correlateLexical")
	defer span.End()

	text := a.Title
	if a.Description != "" {
		text = text + " " + a.Description
	}

	for _, ref := range ExtractReferences(text) {
		var candidates []models.Activity
		var err error

		switch ref.Subtype {
		case models.LinkSubtypeTicketReference:
			candidates, err = e.activities.FindByTicketKey(ctx, *a.OrganizationID, ref.TicketKey)
		case models.LinkSubtypeURLReference:
			candidates, err = e.activities.FindByRepoNumber(ctx, *a.OrganizationID, ref.RepoName, ref.Number)
		case models.LinkSubtypeIssueReference:
			// bare #N references are only unambiguous within the same repo
			if a.RepoName == nil {
				continue
			}
			candidates, err = e.activities.FindByRepoNumber(ctx, *a.OrganizationID, a.RepoName, ref.Number)
		}
		if err != nil {
			return err
		}

		subtype := ref.Subtype
		for _, candidate := range candidates {
			if candidate.ID == a.ID {
				continue
			}
			e.persistLink(ctx, eventlink.CreateLinkRequest{
				SourceEventID: a.ID,
				TargetEventID: candidate.ID,
				LinkType:      models.LinkTypeLexical,
				Subtype:       &subtype,
			})
		}
	}
	return nil
}

func (e *Engine) correlateSemantic(ctx context.Context, a *models.Activity) error {
	if len(a.Embedding) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "correlation.Engine.correlateSemantic")
	defer span.End()

	matches, err := e.activities.SearchSimilar(ctx, *a.OrganizationID, a.Embedding,
		e.config.SemanticThreshold, e.config.SemanticLimit, e.config.SemanticCandidatePool, a.ID)
	if err != nil {
		return err
	}

	for _, match := range matches {
		similarity := match.Similarity
		e.persistLink(ctx, eventlink.CreateLinkRequest{
			SourceEventID: a.ID,
			TargetEventID: match.Activity.ID,
			LinkType:      models.LinkTypeSemantic,
			Similarity:    &similarity,
		})
	}
	return nil
}

func (e *Engine) persistLink(ctx context.Context, req eventlink.CreateLinkRequest) {
	link, err := e.links.Insert(ctx, req)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_event_id": req.SourceEventID, "target_event_id": req.TargetEventID}).Error("Failed to persist link")
		return
	}
	if link == nil {
		// already linked by an earlier run
		return
	}

	metrics.LinksCreated.WithLabelValues(string(link.LinkType)).Inc()

	if e.emitter != nil {
		if err := e.emitter.EmitLinkCreated(ctx, link); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": link.ID}).Warn("Failed to emit link created event")
		}
	}
}
