package models

import (
	"encoding/json"
	"time"
)

// JobType enumerates the supported background task kinds
type JobType string

const (
	JobTypeIngestEvent      JobType = "ingest_event"
	JobTypeDigestGeneration JobType = "digest_generation"
	JobTypeMetricRollup     JobType = "metric_rollup"
	JobTypeIntegrationSync  JobType = "integration_sync"
)

// KnownJobTypes lists every job type the processor accepts
func KnownJobTypes() []JobType {
	return []JobType{
		JobTypeIngestEvent,
		JobTypeDigestGeneration,
		JobTypeMetricRollup,
		JobTypeIntegrationSync,
	}
}

// Job is a generic background task. Same retry-queue discipline as
// RetryQueueItem, generalized over a job type vocabulary.
type Job struct {
	ID             string          `json:"id" db:"id"`
	JobID          string          `json:"job_id" db:"job_id"` // external, human-referenced identifier
	OrganizationID *string         `json:"organization_id,omitempty" db:"organization_id"`
	JobType        JobType         `json:"job_type" db:"job_type"`
	Payload        json.RawMessage `json:"payload,omitempty" db:"payload"`
	Status         QueueStatus     `json:"status" db:"status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// JobStats aggregates the job table without per-job iteration
type JobStats struct {
	Pending    int             `json:"pending"`
	Processing int             `json:"processing"`
	Completed  int             `json:"completed"`
	Failed     int             `json:"failed"`
	Retrying   int             `json:"retrying"`
	ByType     map[JobType]int `json:"by_type"`
}
