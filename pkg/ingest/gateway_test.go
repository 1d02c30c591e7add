package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/pkg/embedding"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/scoring"
)

type fakeActivityStore struct {
	existing     *models.Activity
	inserted     []*models.Activity
	insertErr    error
	lookupCalled int
}

func (f *fakeActivityStore) Insert(ctx context.Context, a *models.Activity) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, a)
	return nil
}

func (f *fakeActivityStore) GetBySourceExternalID(ctx context.Context, source, externalID string) (*models.Activity, error) {
	f.lookupCalled++
	return f.existing, nil
}

type fakeAuditStore struct {
	payloads []json.RawMessage
	err      error
}

func (f *fakeAuditStore) Insert(ctx context.Context, organizationID *string, source models.Source, eventType, externalID string, payload json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeEmbedder struct {
	vector []float64
	err    error
	texts  []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.texts = append(f.texts, text)
	return f.vector, f.err
}

type fakeDispatcher struct {
	dispatched []string
}

func (f *fakeDispatcher) Dispatch(activityID string) bool {
	f.dispatched = append(f.dispatched, activityID)
	return true
}

type fakeActivityEmitter struct {
	emitted []*models.Activity
	err     error
}

func (f *fakeActivityEmitter) EmitActivityCreated(ctx context.Context, a *models.Activity) error {
	f.emitted = append(f.emitted, a)
	return f.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func validInput() models.IngestEventInput {
	org := "org-1"
	return models.IngestEventInput{
		OrganizationID: &org,
		Source:         "github",
		EventType:      "pull_request.opened",
		ExternalID:     "pr-100",
		ActivityType:   "pr_opened",
		Title:          "Add request timeouts",
	}
}

func TestIngest_CreatesActivity(t *testing.T) {
	store := &fakeActivityStore{}
	audit := &fakeAuditStore{}
	embedder := &fakeEmbedder{vector: []float64{0.1, 0.2}}
	dispatcher := &fakeDispatcher{}
	emitter := &fakeActivityEmitter{}

	g := NewGateway(store, audit, embedder, scoring.NewScorer(), dispatcher, emitter, testLogger())
	result, err := g.Ingest(context.Background(), validInput())
	require.NoError(t, err)

	assert.True(t, result.Created)
	require.NotNil(t, result.Activity)
	assert.NotEmpty(t, result.Activity.ID)
	assert.Equal(t, models.SourceGitHub, result.Activity.Source)
	assert.Equal(t, []float64{0.1, 0.2}, []float64(result.Activity.Embedding))
	assert.GreaterOrEqual(t, result.Activity.AttentionScore, 0)
	assert.LessOrEqual(t, result.Activity.AttentionScore, 100)

	require.Len(t, store.inserted, 1)
	assert.Len(t, audit.payloads, 1)
	assert.Equal(t, []string{result.Activity.ID}, dispatcher.dispatched)
	assert.Len(t, emitter.emitted, 1)
}

func TestIngest_ValidationFailure(t *testing.T) {
	store := &fakeActivityStore{}
	g := NewGateway(store, &fakeAuditStore{}, embedding.Disabled{}, scoring.NewScorer(), nil, nil, testLogger())

	input := validInput()
	input.Title = ""

	_, err := g.Ingest(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, 400, httperror.GetStatusCode(err))
	assert.Empty(t, store.inserted)
}

func TestIngest_DuplicateReturnsExisting(t *testing.T) {
	existing := &models.Activity{ID: "existing-1", Source: models.SourceGitHub}
	store := &fakeActivityStore{existing: existing}
	embedder := &fakeEmbedder{}
	dispatcher := &fakeDispatcher{}

	g := NewGateway(store, &fakeAuditStore{}, embedder, scoring.NewScorer(), dispatcher, nil, testLogger())
	result, err := g.Ingest(context.Background(), validInput())
	require.NoError(t, err)

	assert.False(t, result.Created)
	assert.Equal(t, "existing-1", result.Activity.ID)
	assert.Empty(t, store.inserted)
	assert.Empty(t, dispatcher.dispatched, "duplicates must not re-trigger correlation")
	assert.Empty(t, embedder.texts, "duplicates must not pay for an embedding")
}

func TestIngest_DuplicateInsertRace(t *testing.T) {
	// pre-check misses, insert hits the unique constraint, the winner row
	// comes back from the follow-up lookup
	store := &fakeActivityStore{insertErr: activity.ErrDuplicate}
	g := NewGateway(store, &fakeAuditStore{}, embedding.Disabled{}, scoring.NewScorer(), nil, nil, testLogger())

	result, err := g.Ingest(context.Background(), validInput())
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, 2, store.lookupCalled)
}

func TestIngest_EmbeddingFailureDegrades(t *testing.T) {
	store := &fakeActivityStore{}
	embedder := &fakeEmbedder{err: errors.New("provider unavailable")}

	g := NewGateway(store, &fakeAuditStore{}, embedder, scoring.NewScorer(), nil, nil, testLogger())
	result, err := g.Ingest(context.Background(), validInput())
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Empty(t, result.Activity.Embedding)
}

func TestIngest_AuditFailureDoesNotBlock(t *testing.T) {
	store := &fakeActivityStore{}
	g := NewGateway(store, &fakeAuditStore{err: errors.New("audit table unavailable")}, embedding.Disabled{}, scoring.NewScorer(), nil, nil, testLogger())

	result, err := g.Ingest(context.Background(), validInput())
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestIngest_NoOrganizationSkipsCorrelation(t *testing.T) {
	store := &fakeActivityStore{}
	dispatcher := &fakeDispatcher{}

	input := validInput()
	input.OrganizationID = nil

	g := NewGateway(store, &fakeAuditStore{}, embedding.Disabled{}, scoring.NewScorer(), dispatcher, nil, testLogger())
	result, err := g.Ingest(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Empty(t, dispatcher.dispatched)
}

func TestIngest_EmitterFailureIsNonFatal(t *testing.T) {
	store := &fakeActivityStore{}
	emitter := &fakeActivityEmitter{err: errors.New("broker down")}

	g := NewGateway(store, &fakeAuditStore{}, embedding.Disabled{}, scoring.NewScorer(), nil, emitter, testLogger())
	result, err := g.Ingest(context.Background(), validInput())
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestDispatcher_RunsAndRecovers(t *testing.T) {
	panicky := &panickyCorrelator{panicOn: "bad"}
	d := NewDispatcher(panicky, 2, 8, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	assert.True(t, d.Dispatch("good-1"))
	assert.True(t, d.Dispatch("bad"))
	assert.True(t, d.Dispatch("good-2"))
	d.Stop()

	assert.ElementsMatch(t, []string{"good-1", "bad", "good-2"}, panicky.seen())
}

type panickyCorrelator struct {
	mu      sync.Mutex
	panicOn string
	ids     []string
}

func (p *panickyCorrelator) Correlate(ctx context.Context, activityID string) error {
	p.mu.Lock()
	p.ids = append(p.ids, activityID)
	p.mu.Unlock()
	if activityID == p.panicOn {
		panic("correlator exploded")
	}
	return nil
}

func (p *panickyCorrelator) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids
}
