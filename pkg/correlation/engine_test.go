package correlation

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/internal/repositories/eventlink"
	"github.com/tributaryhq/tributary/pkg/models"
)

type fakeSearcher struct {
	activities map[string]*models.Activity
	byTicket   map[string][]models.Activity
	byNumber   map[int][]models.Activity
	similar    []activity.Match
}

func (f *fakeSearcher) Get(ctx context.Context, id string) (*models.Activity, error) {
	return f.activities[id], nil
}

func (f *fakeSearcher) FindByTicketKey(ctx context.Context, organizationID, key string) ([]models.Activity, error) {
	return f.byTicket[key], nil
}

func (f *fakeSearcher) FindByRepoNumber(ctx context.Context, organizationID string, repoName *string, number int) ([]models.Activity, error) {
	return f.byNumber[number], nil
}

func (f *fakeSearcher) SearchSimilar(ctx context.Context, organizationID string, embedding []float64, threshold float64, limit, poolSize int, excludeID string) ([]activity.Match, error) {
	return f.similar, nil
}

type fakeLinkStore struct {
	inserted []eventlink.CreateLinkRequest
}

func (f *fakeLinkStore) Insert(ctx context.Context, req eventlink.CreateLinkRequest) (*models.EventLink, error) {
	f.inserted = append(f.inserted, req)
	return &models.EventLink{
		ID:            "link-" + req.TargetEventID,
		SourceEventID: req.SourceEventID,
		TargetEventID: req.TargetEventID,
		LinkType:      req.LinkType,
		Subtype:       req.Subtype,
		Similarity:    req.Similarity,
	}, nil
}

type fakeEmitter struct {
	emitted []*models.EventLink
}

func (f *fakeEmitter) EmitLinkCreated(ctx context.Context, link *models.EventLink) error {
	f.emitted = append(f.emitted, link)
	return nil
}

func testEngine(searcher *fakeSearcher, store *fakeLinkStore, emitter LinkEmitter) *Engine {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewEngine(searcher, store, emitter, Config{
		SemanticThreshold:     0.7,
		SemanticLimit:         5,
		SemanticCandidatePool: 500,
	}, logger)
}

func strPtr(s string) *string { return &s }

func TestCorrelate_LexicalTicketReference(t *testing.T) {
	org := "org-1"
	source := &models.Activity{
		ID:             "a1",
		OrganizationID: &org,
		Title:          "Deploy fix for PROJ-9",
	}
	target := models.Activity{ID: "a2", Title: "PROJ-9: login timeout"}

	searcher := &fakeSearcher{
		activities: map[string]*models.Activity{"a1": source},
		byTicket:   map[string][]models.Activity{"PROJ-9": {target}},
	}
	store := &fakeLinkStore{}
	emitter := &fakeEmitter{}

	err := testEngine(searcher, store, emitter).Correlate(context.Background(), "a1")
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	link := store.inserted[0]
	assert.Equal(t, "a1", link.SourceEventID)
	assert.Equal(t, "a2", link.TargetEventID)
	assert.Equal(t, models.LinkTypeLexical, link.LinkType)
	require.NotNil(t, link.Subtype)
	assert.Equal(t, models.LinkSubtypeTicketReference, *link.Subtype)
	assert.Len(t, emitter.emitted, 1)
}

func TestCorrelate_SkipsSelfMatches(t *testing.T) {
	org := "org-1"
	source := &models.Activity{
		ID:             "a1",
		OrganizationID: &org,
		Title:          "PROJ-9 follow-up",
	}

	searcher := &fakeSearcher{
		activities: map[string]*models.Activity{"a1": source},
		// the ticket search also finds the activity being correlated
		byTicket: map[string][]models.Activity{"PROJ-9": {{ID: "a1"}}},
	}
	store := &fakeLinkStore{}

	err := testEngine(searcher, store, nil).Correlate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, store.inserted)
}

func TestCorrelate_BareIssueReferenceNeedsRepo(t *testing.T) {
	org := "org-1"
	searcher := &fakeSearcher{
		activities: map[string]*models.Activity{
			"a1": {ID: "a1", OrganizationID: &org, Title: "mentions #12"},
		},
		byNumber: map[int][]models.Activity{12: {{ID: "a2"}}},
	}
	store := &fakeLinkStore{}

	err := testEngine(searcher, store, nil).Correlate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, store.inserted, "bare #N without a repo is ambiguous and must not link")

	// same text with a repo resolves
	searcher.activities["a1"].RepoName = strPtr("acme/api")
	err = testEngine(searcher, store, nil).Correlate(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "a2", store.inserted[0].TargetEventID)
}

func TestCorrelate_SemanticLinks(t *testing.T) {
	org := "org-1"
	source := &models.Activity{
		ID:             "a1",
		OrganizationID: &org,
		Title:          "auth service latency",
		Embedding:      []float64{0.1, 0.2, 0.3},
	}

	searcher := &fakeSearcher{
		activities: map[string]*models.Activity{"a1": source},
		similar: []activity.Match{
			{Activity: models.Activity{ID: "a2"}, Similarity: 0.91},
			{Activity: models.Activity{ID: "a3"}, Similarity: 0.74},
		},
	}
	store := &fakeLinkStore{}

	err := testEngine(searcher, store, nil).Correlate(context.Background(), "a1")
	require.NoError(t, err)

	require.Len(t, store.inserted, 2)
	assert.Equal(t, models.LinkTypeSemantic, store.inserted[0].LinkType)
	require.NotNil(t, store.inserted[0].Similarity)
	assert.InDelta(t, 0.91, *store.inserted[0].Similarity, 1e-9)
}

func TestCorrelate_NoEmbeddingSkipsSemantic(t *testing.T) {
	org := "org-1"
	searcher := &fakeSearcher{
		activities: map[string]*models.Activity{
			"a1": {ID: "a1", OrganizationID: &org, Title: "plain activity"},
		},
		similar: []activity.Match{{Activity: models.Activity{ID: "a2"}, Similarity: 0.99}},
	}
	store := &fakeLinkStore{}

	err := testEngine(searcher, store, nil).Correlate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, store.inserted)
}

func TestCorrelate_NoOrganizationIsNoop(t *testing.T) {
	searcher := &fakeSearcher{
		activities: map[string]*models.Activity{
			"a1": {ID: "a1", Title: "PROJ-1 without a tenant"},
		},
		byTicket: map[string][]models.Activity{"PROJ-1": {{ID: "a2"}}},
	}
	store := &fakeLinkStore{}

	err := testEngine(searcher, store, nil).Correlate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, store.inserted)
}

func TestCorrelate_MissingActivityIsNoop(t *testing.T) {
	searcher := &fakeSearcher{activities: map[string]*models.Activity{}}
	store := &fakeLinkStore{}

	err := testEngine(searcher, store, nil).Correlate(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, store.inserted)
}
