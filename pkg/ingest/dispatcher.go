package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/tributaryhq/tributary/pkg/metrics"
)

const correlateTimeout = 30 * time.Second

// Correlator runs relationship discovery for one activity
type Correlator interface {
	Correlate(ctx context.Context, activityID string) error
}

// Dispatcher fans correlation work out to a bounded worker pool. Dispatch is
// non-blocking: when the queue is full the work is dropped and counted, so a
// correlation backlog can never stall ingestion.
type Dispatcher struct {
	correlator Correlator
	queue      chan string
	workers    int
	logger     ectologger.Logger
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewDispatcher creates a dispatcher with the given worker count and queue depth
func NewDispatcher(correlator Correlator, workers, queueDepth int, logger ectologger.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Dispatcher{
		correlator: correlator,
		queue:      make(chan string, queueDepth),
		workers:    workers,
		logger:     logger,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or the
// dispatcher is stopped.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Dispatch enqueues correlation for an activity. Returns false if the queue
// was full and the work was dropped.
func (d *Dispatcher) Dispatch(activityID string) bool {
	select {
	case d.queue <- activityID:
		return true
	default:
		metrics.CorrelationDropped.Inc()
		d.logger.WithFields(map[string]any{"activity_id": activityID}).Warn("Correlation queue full, dropping dispatch")
		return false
	}
}

// Stop closes the queue and waits for in-flight work to finish
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case activityID, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, activityID)
		}
	}
}

// run is the error boundary: one bad activity must not take down a worker
func (d *Dispatcher) run(ctx context.Context, activityID string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithContext(ctx).WithFields(map[string]any{"activity_id": activityID, "panic": r}).Error("Correlation worker panic recovered")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, correlateTimeout)
	defer cancel()

	if err := d.correlator.Correlate(ctx, activityID); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"activity_id": activityID}).Error("Correlation failed")
	}
}
