package eventlink

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/tributaryhq/tributary/pkg/database"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// ErrSelfLink is returned when a link would point an activity at itself
var ErrSelfLink = errors.New("event link cannot reference itself")

// Repository handles event link persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new event link repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateLinkRequest describes one link to persist
type CreateLinkRequest struct {
	SourceEventID string
	TargetEventID string
	LinkType      models.LinkType
	Subtype       *models.LinkSubtype
	Similarity    *float64
}

// Insert writes a link if the (source, target, link_type) triple does not
// already exist. Returns the created link, or nil when the triple was already
// present — detectors re-running over the same activity is normal, not an error.
func (r *Repository) Insert(ctx context.Context, req CreateLinkRequest) (*models.EventLink, error) {
	ctx, span := tracing.StartSpan(ctx, "eventlink.Repository.Insert")
	defer span.End()

	if req.SourceEventID == req.TargetEventID {
		return nil, ErrSelfLink
	}

	link := models.EventLink{
		ID:            uuid.New().String(),
		SourceEventID: req.SourceEventID,
		TargetEventID: req.TargetEventID,
		LinkType:      req.LinkType,
		Subtype:       req.Subtype,
		Similarity:    req.Similarity,
		CreatedAt:     time.Now().UTC(),
	}

	query := `
		INSERT INTO event_links (id, source_event_id, target_event_id, link_type, subtype, similarity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_event_id, target_event_id, link_type) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		link.ID, link.SourceEventID, link.TargetEventID, link.LinkType, link.Subtype, link.Similarity, link.CreatedAt,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_event_id": req.SourceEventID, "target_event_id": req.TargetEventID, "link_type": req.LinkType}).Error("Failed to insert event link")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert event link")
	}

	rows, err := result.RowsAffected()
	if err != nil || rows == 0 {
		return nil, nil
	}
	return &link, nil
}

// GetLinks returns the union of outgoing links (the activity references
// others) and incoming links (others reference it), each tagged with its
// direction and enriched with the linked activity's summary fields.
func (r *Repository) GetLinks(ctx context.Context, activityID string) ([]models.LinkedActivity, error) {
	ctx, span := tracing.StartSpan(ctx, "eventlink.Repository.GetLinks")
	defer span.End()

	query := `
		SELECT l.id AS link_id, a.id, a.title, a.source, a.activity_type, a.repo_name,
		       a.pr_number, a.issue_number, 'outgoing' AS relationship, l.link_type, l.similarity
		FROM event_links l
		JOIN activities a ON a.id = l.target_event_id
		WHERE l.source_event_id = $1
		UNION ALL
		SELECT l.id AS link_id, a.id, a.title, a.source, a.activity_type, a.repo_name,
		       a.pr_number, a.issue_number, 'incoming' AS relationship, l.link_type, l.similarity
		FROM event_links l
		JOIN activities a ON a.id = l.source_event_id
		WHERE l.target_event_id = $1
		ORDER BY link_id
	`

	var links []models.LinkedActivity
	if err := r.db.SelectContext(ctx, &links, query, activityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"activity_id": activityID}).Error("Failed to get event links")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get event links")
	}
	for i := range links {
		links[i].URL = models.ActivityURL(links[i].Source, links[i].RepoName, links[i].PRNumber, links[i].IssueNumber)
	}
	return links, nil
}
