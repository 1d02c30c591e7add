package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/tributaryhq/tributary/pkg/ingest"
	"github.com/tributaryhq/tributary/pkg/metrics"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/redis"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

const sweepLockKey = "queue:sweep"

// Store is the slice of the retry queue repository the worker needs
type Store interface {
	ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]models.RetryQueueItem, error)
	Complete(ctx context.Context, id string) error
	FailOrRetry(ctx context.Context, id string, attempts, maxAttempts int, errMsg string, backoffBase time.Duration) error
	ReclaimStale(ctx context.Context, staleTimeout time.Duration) (int64, error)
}

// Ingester replays a queued payload through the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, input models.IngestEventInput) (*ingest.IngestResult, error)
}

// Locker serializes the sweep across instances
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Config bounds the drain and sweep cycles
type Config struct {
	DrainBatchSize int
	MaxAttempts    int
	BackoffBase    time.Duration
	StaleTimeout   time.Duration
	DrainInterval  time.Duration
	SweepInterval  time.Duration
}

// Worker drains the durable retry queue through the ingestion gateway and
// periodically reclaims items stranded in processing by a crashed instance.
type Worker struct {
	store    Store
	ingester Ingester
	locker   Locker
	config   Config
	logger   ectologger.Logger
}

// NewWorker creates a queue worker. locker may be nil in single-instance
// deployments; the sweep then runs unguarded.
func NewWorker(store Store, ingester Ingester, locker Locker, config Config, logger ectologger.Logger) *Worker {
	return &Worker{
		store:    store,
		ingester: ingester,
		locker:   locker,
		config:   config,
		logger:   logger,
	}
}

// Run drives drain and sweep cycles until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	drain := time.NewTicker(w.config.DrainInterval)
	defer drain.Stop()
	sweep := time.NewTicker(w.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drain.C:
			if _, err := w.Drain(ctx); err != nil {
				w.logger.WithContext(ctx).WithError(err).Error("Queue drain cycle failed")
			}
		case <-sweep.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.WithContext(ctx).WithError(err).Error("Queue sweep cycle failed")
			}
		}
	}
}

// Drain claims one batch of due items and replays each through ingestion.
// Duplicate deliveries complete normally; ingestion is idempotent so a replay
// of an already-persisted event is a success, not a failure.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.Worker.Drain")
	defer span.End()

	items, err := w.store.ClaimBatch(ctx, w.config.DrainBatchSize, w.config.MaxAttempts)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		w.process(ctx, item)
	}
	return len(items), nil
}

func (w *Worker) process(ctx context.Context, item models.RetryQueueItem) {
	var input models.IngestEventInput
	if err := json.Unmarshal(item.Payload, &input); err != nil {
		w.fail(ctx, item, "invalid payload: "+err.Error())
		return
	}
	if input.OrganizationID == nil {
		input.OrganizationID = item.OrganizationID
	}

	if _, err := w.ingester.Ingest(ctx, input); err != nil {
		w.fail(ctx, item, err.Error())
		return
	}

	if err := w.store.Complete(ctx, item.ID); err != nil {
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": item.ID}).Error("Failed to complete queue item")
		return
	}
	metrics.QueueItemsProcessed.WithLabelValues("completed").Inc()
}

func (w *Worker) fail(ctx context.Context, item models.RetryQueueItem, errMsg string) {
	outcome := "retried"
	if item.Attempts+1 >= w.config.MaxAttempts {
		outcome = "failed"
	}

	if err := w.store.FailOrRetry(ctx, item.ID, item.Attempts, w.config.MaxAttempts, errMsg, w.config.BackoffBase); err != nil {
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": item.ID}).Error("Failed to record queue item failure")
		return
	}
	metrics.QueueItemsProcessed.WithLabelValues(outcome).Inc()
	w.logger.WithContext(ctx).WithFields(map[string]any{"item_id": item.ID, "attempts": item.Attempts + 1, "outcome": outcome, "error": errMsg}).Warn("Queue item failed")
}

// Sweep returns stale processing items to pending. The distributed lock keeps
// concurrent instances from double-sweeping.
func (w *Worker) Sweep(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "queue.Worker.Sweep")
	defer span.End()

	if w.locker == nil {
		return w.reclaim(ctx)
	}

	err := w.locker.WithLock(ctx, sweepLockKey, w.config.StaleTimeout, func() error {
		return w.reclaim(ctx)
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil
	}
	return err
}

func (w *Worker) reclaim(ctx context.Context) error {
	reclaimed, err := w.store.ReclaimStale(ctx, w.config.StaleTimeout)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		metrics.QueueItemsReclaimed.Add(float64(reclaimed))
		w.logger.WithContext(ctx).WithFields(map[string]any{"reclaimed": reclaimed}).Info("Reclaimed stale queue items")
	}
	return nil
}
