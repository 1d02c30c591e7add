package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributaryhq/tributary/pkg/ingest"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/redis"
)

type fakeStore struct {
	items     []models.RetryQueueItem
	completed []string
	failed    []string
	reclaimed int64
}

func (f *fakeStore) ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]models.RetryQueueItem, error) {
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeStore) Complete(ctx context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) FailOrRetry(ctx context.Context, id string, attempts, maxAttempts int, errMsg string, backoffBase time.Duration) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeStore) ReclaimStale(ctx context.Context, staleTimeout time.Duration) (int64, error) {
	return f.reclaimed, nil
}

type fakeIngester struct {
	errOn map[string]error
	seen  []string
}

func (f *fakeIngester) Ingest(ctx context.Context, input models.IngestEventInput) (*ingest.IngestResult, error) {
	f.seen = append(f.seen, input.ExternalID)
	if err := f.errOn[input.ExternalID]; err != nil {
		return nil, err
	}
	return &ingest.IngestResult{Activity: &models.Activity{ID: "a-" + input.ExternalID}, Created: true}, nil
}

func testConfig() Config {
	return Config{
		DrainBatchSize: 25,
		MaxAttempts:    3,
		BackoffBase:    30 * time.Second,
		StaleTimeout:   10 * time.Minute,
	}
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func queueItem(id, externalID string, attempts int) models.RetryQueueItem {
	payload, _ := json.Marshal(models.IngestEventInput{
		Source:       "github",
		EventType:    "pull_request.opened",
		ExternalID:   externalID,
		ActivityType: "pr_opened",
		Title:        "queued event",
	})
	return models.RetryQueueItem{
		ID:       id,
		Source:   "github",
		Payload:  payload,
		Attempts: attempts,
	}
}

func TestDrain_CompletesSuccessfulItems(t *testing.T) {
	store := &fakeStore{items: []models.RetryQueueItem{
		queueItem("q1", "pr-1", 0),
		queueItem("q2", "pr-2", 0),
	}}
	ingester := &fakeIngester{}

	w := NewWorker(store, ingester, nil, testConfig(), testLogger())
	processed, err := w.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, processed)
	assert.Equal(t, []string{"q1", "q2"}, store.completed)
	assert.Empty(t, store.failed)
	assert.Equal(t, []string{"pr-1", "pr-2"}, ingester.seen)
}

func TestDrain_FailedItemIsRetried(t *testing.T) {
	store := &fakeStore{items: []models.RetryQueueItem{queueItem("q1", "pr-1", 0)}}
	ingester := &fakeIngester{errOn: map[string]error{"pr-1": errors.New("database unavailable")}}

	w := NewWorker(store, ingester, nil, testConfig(), testLogger())
	processed, err := w.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, processed)
	assert.Empty(t, store.completed)
	assert.Equal(t, []string{"q1"}, store.failed)
}

func TestDrain_MalformedPayloadFails(t *testing.T) {
	store := &fakeStore{items: []models.RetryQueueItem{{
		ID:      "q1",
		Payload: json.RawMessage(`{not json`),
	}}}
	ingester := &fakeIngester{}

	w := NewWorker(store, ingester, nil, testConfig(), testLogger())
	_, err := w.Drain(context.Background())
	require.NoError(t, err)

	assert.Empty(t, ingester.seen, "malformed payloads must not reach ingestion")
	assert.Equal(t, []string{"q1"}, store.failed)
}

func TestDrain_RespectsBatchSize(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 40; i++ {
		store.items = append(store.items, queueItem("q", "pr", 0))
	}
	ingester := &fakeIngester{}

	w := NewWorker(store, ingester, nil, testConfig(), testLogger())
	processed, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, processed)
}

func TestDrain_FallsBackToItemOrganization(t *testing.T) {
	org := "org-9"
	item := queueItem("q1", "pr-1", 0)
	item.OrganizationID = &org

	var captured *string
	ingester := &captureIngester{capture: &captured}
	store := &fakeStore{items: []models.RetryQueueItem{item}}

	w := NewWorker(store, ingester, nil, testConfig(), testLogger())
	_, err := w.Drain(context.Background())
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "org-9", *captured)
}

type captureIngester struct {
	capture **string
}

func (c *captureIngester) Ingest(ctx context.Context, input models.IngestEventInput) (*ingest.IngestResult, error) {
	*c.capture = input.OrganizationID
	return &ingest.IngestResult{Created: true}, nil
}

func TestSweep_WithoutLocker(t *testing.T) {
	store := &fakeStore{reclaimed: 3}
	w := NewWorker(store, &fakeIngester{}, nil, testConfig(), testLogger())
	assert.NoError(t, w.Sweep(context.Background()))
}

type fakeLocker struct {
	err   error
	calls int
}

func (f *fakeLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return fn()
}

func TestSweep_LockBusyIsNotAnError(t *testing.T) {
	// another instance holding the sweep lock is normal operation
	locker := &fakeLocker{err: redis.ErrLockNotAcquired}
	w := NewWorker(&fakeStore{}, &fakeIngester{}, locker, testConfig(), testLogger())

	assert.NoError(t, w.Sweep(context.Background()))
	assert.Equal(t, 1, locker.calls)
}

func TestSweep_LockFailureSurfaces(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redis unreachable")}
	w := NewWorker(&fakeStore{}, &fakeIngester{}, locker, testConfig(), testLogger())
	assert.Error(t, w.Sweep(context.Background()))
}
