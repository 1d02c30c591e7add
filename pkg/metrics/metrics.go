package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tributary"

var (
	// EventsIngested counts accepted events by source and outcome
	// (created, duplicate, failed).
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Events processed by the ingestion gateway",
	}, []string{"source", "outcome"})

	// IngestDuration observes end-to-end gateway latency per source
	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Ingestion gateway latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	// LinksCreated counts correlation links by type
	LinksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "links_created_total",
		Help:      "Event links created by the correlation engine",
	}, []string{"link_type"})

	// CorrelationDropped counts correlation dispatches rejected because the
	// worker pool was saturated
	CorrelationDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "correlation_dropped_total",
		Help:      "Correlation dispatches dropped due to a full worker queue",
	})

	// QueueItemsProcessed counts retry queue drain outcomes
	// (completed, retried, failed).
	QueueItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_items_processed_total",
		Help:      "Retry queue items processed by drain cycles",
	}, []string{"outcome"})

	// QueueItemsReclaimed counts stale processing items returned to pending
	QueueItemsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_items_reclaimed_total",
		Help:      "Stale retry queue items reclaimed by the sweeper",
	})

	// JobsProcessed counts job processor outcomes by job type
	// (completed, retried, failed).
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Background jobs processed",
	}, []string{"job_type", "outcome"})

	// EmbeddingRequests counts embedding provider calls by outcome
	// (ok, error).
	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_requests_total",
		Help:      "Embedding provider requests",
	}, []string{"outcome"})
)
