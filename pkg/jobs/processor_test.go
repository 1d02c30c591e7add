package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/pkg/ingest"
	"github.com/tributaryhq/tributary/pkg/models"
)

type fakeJobStore struct {
	jobs        []models.Job
	claimedWith []models.JobType
	claimLimit  int
	completed   []string
	failed      []string
	stats       *models.JobStats
}

func (f *fakeJobStore) ClaimBatch(ctx context.Context, jobTypes []models.JobType, limit, maxAttempts int) ([]models.Job, error) {
	f.claimedWith = jobTypes
	f.claimLimit = limit
	if len(f.jobs) > limit {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

func (f *fakeJobStore) Complete(ctx context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) FailOrRetry(ctx context.Context, id string, attempts, maxAttempts int, errMsg string) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeJobStore) Stats(ctx context.Context) (*models.JobStats, error) {
	return f.stats, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestProcessBatch_RunsRegisteredHandlers(t *testing.T) {
	store := &fakeJobStore{jobs: []models.Job{
		{ID: "j1", JobID: "job-1", JobType: models.JobTypeMetricRollup},
		{ID: "j2", JobID: "job-2", JobType: models.JobTypeMetricRollup},
	}}
	p := NewProcessor(store, 3, testLogger())

	var handled []string
	p.Register(models.JobTypeMetricRollup, func(ctx context.Context, job models.Job) error {
		handled = append(handled, job.JobID)
		return nil
	})

	result, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Equal(t, []string{"job-1", "job-2"}, handled)
	assert.Equal(t, []string{"j1", "j2"}, store.completed)
	assert.Equal(t, []models.JobType{models.JobTypeMetricRollup}, store.claimedWith)
}

func TestProcessBatch_NoHandlersClaimsNothing(t *testing.T) {
	store := &fakeJobStore{jobs: []models.Job{{ID: "j1", JobType: models.JobTypeMetricRollup}}}
	p := NewProcessor(store, 3, testLogger())

	result, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Nil(t, store.claimedWith)
}

func TestProcessBatch_CapsAtCeiling(t *testing.T) {
	store := &fakeJobStore{}
	p := NewProcessor(store, 3, testLogger())
	p.Register(models.JobTypeMetricRollup, func(ctx context.Context, job models.Job) error { return nil })

	_, err := p.ProcessBatch(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, BatchCeiling, store.claimLimit)

	_, err = p.ProcessBatch(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, BatchCeiling, store.claimLimit)
}

func TestProcessBatch_HandlerErrorFailsOnlyThatJob(t *testing.T) {
	store := &fakeJobStore{jobs: []models.Job{
		{ID: "j1", JobID: "job-1", JobType: models.JobTypeMetricRollup},
		{ID: "j2", JobID: "job-2", JobType: models.JobTypeMetricRollup},
	}}
	p := NewProcessor(store, 3, testLogger())
	p.Register(models.JobTypeMetricRollup, func(ctx context.Context, job models.Job) error {
		if job.JobID == "job-1" {
			return errors.New("rollup source unavailable")
		}
		return nil
	})

	result, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"j1"}, store.failed)
	assert.Equal(t, []string{"j2"}, store.completed)

	require.Len(t, result.Results, 2)
	assert.False(t, result.Results[0].Success)
	assert.Equal(t, "job-1", result.Results[0].JobID)
	assert.Equal(t, "rollup source unavailable", result.Results[0].Error)
	assert.True(t, result.Results[1].Success)
	assert.Empty(t, result.Results[1].Error)
}

func TestProcessBatch_PanicIsIsolated(t *testing.T) {
	store := &fakeJobStore{jobs: []models.Job{
		{ID: "j1", JobID: "job-1", JobType: models.JobTypeDigestGeneration},
		{ID: "j2", JobID: "job-2", JobType: models.JobTypeDigestGeneration},
	}}
	p := NewProcessor(store, 3, testLogger())
	p.Register(models.JobTypeDigestGeneration, func(ctx context.Context, job models.Job) error {
		if job.JobID == "job-1" {
			panic("handler exploded")
		}
		return nil
	})

	result, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"j1"}, store.failed)
	assert.Equal(t, []string{"j2"}, store.completed)
	assert.Contains(t, result.Results[0].Error, "handler exploded")
}

func TestProcessNext(t *testing.T) {
	store := &fakeJobStore{jobs: []models.Job{{ID: "j1", JobID: "job-1", JobType: models.JobTypeMetricRollup}}}
	p := NewProcessor(store, 3, testLogger())
	p.Register(models.JobTypeMetricRollup, func(ctx context.Context, job models.Job) error { return nil })

	result, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, 1, store.claimLimit)

	store.jobs = nil
	result, err = p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result)
}

type fakeDigestSource struct {
	since time.Time
	top   []models.Activity
}

func (f *fakeDigestSource) TopByScoreSince(ctx context.Context, organizationID string, since time.Time, limit int) ([]models.Activity, error) {
	f.since = since
	return f.top, nil
}

func TestDigestHandler(t *testing.T) {
	org := "org-1"
	source := &fakeDigestSource{top: []models.Activity{{ID: "a1", Title: "incident", AttentionScore: 90}}}
	handler := DigestHandler(source, testLogger())

	payload, _ := json.Marshal(map[string]any{"window_hours": 48, "limit": 5})
	err := handler(context.Background(), models.Job{JobID: "job-1", OrganizationID: &org, Payload: payload})
	require.NoError(t, err)

	// 48h window means since is about two days back
	assert.WithinDuration(t, time.Now().UTC().Add(-48*time.Hour), source.since, time.Minute)
}

func TestDigestHandler_RequiresOrganization(t *testing.T) {
	handler := DigestHandler(&fakeDigestSource{}, testLogger())
	err := handler(context.Background(), models.Job{JobID: "job-1"})
	assert.Error(t, err)
}

type fakeRollupSource struct{}

func (fakeRollupSource) CountBySourceSince(ctx context.Context, since time.Time) ([]activity.SourceCount, error) {
	return []activity.SourceCount{{Source: models.SourceGitHub, Count: 12}}, nil
}

func TestRollupHandler(t *testing.T) {
	handler := RollupHandler(fakeRollupSource{}, testLogger())
	err := handler(context.Background(), models.Job{JobID: "job-1"})
	assert.NoError(t, err)
}

type fakeJobIngester struct {
	inputs []models.IngestEventInput
}

func (f *fakeJobIngester) Ingest(ctx context.Context, input models.IngestEventInput) (*ingest.IngestResult, error) {
	f.inputs = append(f.inputs, input)
	return &ingest.IngestResult{Created: true}, nil
}

func TestIngestEventHandler(t *testing.T) {
	ingester := &fakeJobIngester{}
	handler := IngestEventHandler(ingester)

	payload, _ := json.Marshal(models.IngestEventInput{
		Source:       "jira",
		EventType:    "issue.created",
		ExternalID:   "PROJ-1",
		ActivityType: "issue_created",
		Title:        "new issue",
	})
	org := "org-1"
	err := handler(context.Background(), models.Job{JobID: "job-1", OrganizationID: &org, Payload: payload})
	require.NoError(t, err)

	require.Len(t, ingester.inputs, 1)
	assert.Equal(t, "jira", ingester.inputs[0].Source)
	require.NotNil(t, ingester.inputs[0].OrganizationID)
	assert.Equal(t, "org-1", *ingester.inputs[0].OrganizationID)
}

func TestIngestEventHandler_BadPayload(t *testing.T) {
	handler := IngestEventHandler(&fakeJobIngester{})
	err := handler(context.Background(), models.Job{JobID: "job-1", Payload: json.RawMessage(`{oops`)})
	assert.Error(t, err)
}

func TestIntegrationSyncHandler_RequiresSource(t *testing.T) {
	handler := IntegrationSyncHandler(testLogger())

	err := handler(context.Background(), models.Job{JobID: "job-1"})
	assert.Error(t, err)

	payload, _ := json.Marshal(map[string]string{"source": "github"})
	err = handler(context.Background(), models.Job{JobID: "job-2", Payload: payload})
	assert.NoError(t, err)
}
