package models

import (
	"encoding/json"
	"time"
)

// QueueStatus is the lifecycle state of a retry queue item or job.
// retry_pending is a sub-state of pending: the item failed at least once and
// is waiting out its backoff before the next drain picks it up.
type QueueStatus string

const (
	QueueStatusPending      QueueStatus = "pending"
	QueueStatusProcessing   QueueStatus = "processing"
	QueueStatusRetryPending QueueStatus = "retry_pending"
	QueueStatusCompleted    QueueStatus = "completed"
	QueueStatusFailed       QueueStatus = "failed"
)

// IsTerminal reports whether no further status transitions are allowed
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// RetryQueueItem is a durable record of a pending or failed ingestion task
type RetryQueueItem struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID *string         `json:"organization_id,omitempty" db:"organization_id"`
	Source         string          `json:"source" db:"source"`
	EventType      string          `json:"event_type" db:"event_type"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Status         QueueStatus     `json:"status" db:"status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// EnqueueRetryItemRequest is the producer-side request for durable delivery
type EnqueueRetryItemRequest struct {
	OrganizationID *string         `json:"organization_id,omitempty"`
	Source         string          `json:"source" validate:"required"`
	EventType      string          `json:"event_type" validate:"required"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
}

// QueueStatusCounts aggregates queue items by status. retry_pending is
// reported under Retrying to keep the external vocabulary stable.
type QueueStatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// QueueFailure is one terminal failure surfaced to operators
type QueueFailure struct {
	ID           string    `json:"id" db:"id"`
	Source       string    `json:"source" db:"source"`
	EventType    string    `json:"event_type" db:"event_type"`
	Attempts     int       `json:"attempts" db:"attempts"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
