package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/tributaryhq/tributary/pkg/database"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// ErrDuplicate is returned when an insert collides with the
// (source, external_id) uniqueness constraint. The constraint is the real
// idempotency boundary; the gateway's pre-check is only an optimization.
var ErrDuplicate = errors.New("activity already exists for (source, external_id)")

const uniqueViolation = "23505"

var activityColumns = []string{
	"id", "organization_id", "source", "event_type", "external_id", "activity_type",
	"title", "description", "repo_name", "pr_number", "issue_number", "user_id",
	"metadata", "embedding", "attention_score", "created_at",
}

// Repository handles activity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new activity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a new activity. Returns ErrDuplicate when another row
// already owns the (source, external_id) pair.
func (r *Repository) Insert(ctx context.Context, a *models.Activity) error {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.Insert")
	defer span.End()

	// nil metadata stays a SQL NULL instead of a JSON null
	var metadata any
	if a.Metadata != nil {
		metadata = database.JSONB[json.RawMessage]{Data: a.Metadata}
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("activities")
	ib.Cols(activityColumns...)
	ib.Values(
		a.ID, a.OrganizationID, a.Source, a.EventType, a.ExternalID, a.ActivityType,
		a.Title, a.Description, a.RepoName, a.PRNumber, a.IssueNumber, a.UserID,
		metadata, a.Embedding, a.AttentionScore, a.CreatedAt,
	)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicate
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": a.Source, "external_id": a.ExternalID}).Error("Failed to insert activity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert activity")
	}
	return nil
}

// Get retrieves an activity by ID. Returns nil when not found.
func (r *Repository) Get(ctx context.Context, id string) (*models.Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(activityColumns...)
	sb.From("activities")
	sb.Where(sb.Equal("id", id))
	sb.Limit(1)

	query, args := sb.Build()
	var a models.Activity
	if err := r.db.GetContext(ctx, &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get activity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get activity")
	}
	return &a, nil
}

// GetBySourceExternalID looks up the idempotency key. Returns nil when the
// pair has not been seen before.
func (r *Repository) GetBySourceExternalID(ctx context.Context, source, externalID string) (*models.Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.GetBySourceExternalID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(activityColumns...)
	sb.From("activities")
	sb.Where(
		sb.Equal("source", source),
		sb.Equal("external_id", externalID),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var a models.Activity
	if err := r.db.GetContext(ctx, &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": source, "external_id": externalID}).Error("Failed to look up activity by external id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up activity")
	}
	return &a, nil
}

// FindByTicketKey resolves a ticket key (e.g. "PAY-142") to known activities
// within a tenant. Keys live either in external_id or the provider metadata.
func (r *Repository) FindByTicketKey(ctx context.Context, organizationID, key string) ([]models.Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.FindByTicketKey")
	defer span.End()

	query := `
		SELECT id, organization_id, source, event_type, external_id, activity_type,
		       title, description, repo_name, pr_number, issue_number, user_id,
		       metadata, embedding, attention_score, created_at
		FROM activities
		WHERE organization_id = $1
		  AND (external_id = $2 OR metadata ->> 'issue_key' = $2)
		ORDER BY created_at DESC
		LIMIT 10
	`

	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, organizationID, key); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID, "ticket_key": key}).Error("Failed to find activities by ticket key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find activities")
	}
	return activities, nil
}

// FindByRepoNumber resolves a PR/issue number reference within a tenant.
// repoName narrows the match when the reference carried one; otherwise any
// repo in the tenant qualifies.
func (r *Repository) FindByRepoNumber(ctx context.Context, organizationID string, repoName *string, number int) ([]models.Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.FindByRepoNumber")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(activityColumns...)
	sb.From("activities")
	where := []string{
		sb.Equal("organization_id", organizationID),
		sb.Or(sb.Equal("pr_number", number), sb.Equal("issue_number", number)),
	}
	if repoName != nil && *repoName != "" {
		where = append(where, sb.Equal("repo_name", *repoName))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	sb.Limit(10)

	query, args := sb.Build()
	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID, "number": number}).Error("Failed to find activities by repo number")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find activities")
	}
	return activities, nil
}

// Match is one semantic search result
type Match struct {
	Activity   models.Activity
	Similarity float64
}

// SearchSimilar ranks prior activities in the same tenant by cosine
// similarity against the given embedding. Candidates are bounded to the most
// recent poolSize embedded rows; results below threshold are dropped and the
// remainder is capped to limit, ranked descending.
func (r *Repository) SearchSimilar(ctx context.Context, organizationID string, embedding []float64, threshold float64, limit, poolSize int, excludeID string) ([]Match, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.SearchSimilar")
	defer span.End()

	if len(embedding) == 0 {
		return nil, nil
	}
	if poolSize <= 0 {
		poolSize = 500
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(activityColumns...)
	sb.From("activities")
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.IsNotNull("embedding"),
		sb.NotEqual("id", excludeID),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(poolSize)

	query, args := sb.Build()
	var candidates []models.Activity
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to load similarity candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to search similar activities")
	}

	matches := make([]Match, 0, limit)
	for i := range candidates {
		sim := Cosine(embedding, candidates[i].Embedding)
		if sim >= threshold {
			matches = append(matches, Match{Activity: candidates[i], Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// TopByScoreSince returns the highest-scored activities for a tenant since a
// cutoff. Used by digest generation.
func (r *Repository) TopByScoreSince(ctx context.Context, organizationID string, since time.Time, limit int) ([]models.Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.TopByScoreSince")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(activityColumns...)
	sb.From("activities")
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.GreaterEqualThan("created_at", since),
	)
	sb.OrderBy("attention_score DESC", "created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to load top activities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load top activities")
	}
	return activities, nil
}

// SourceCount is one row of the per-source rollup
type SourceCount struct {
	Source models.Source `db:"source"`
	Count  int           `db:"count"`
}

// CountBySourceSince rolls up activity volume per source since a cutoff.
// Counting query, not a scan.
func (r *Repository) CountBySourceSince(ctx context.Context, since time.Time) ([]SourceCount, error) {
	ctx, span := tracing.StartSpan(ctx, "activity.Repository.CountBySourceSince")
	defer span.End()

	query := `
		SELECT source, COUNT(*) AS count
		FROM activities
		WHERE created_at >= $1
		GROUP BY source
		ORDER BY count DESC
	`

	var counts []SourceCount
	if err := r.db.SelectContext(ctx, &counts, query, since); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count activities by source")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count activities")
	}
	return counts, nil
}
