package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/tributaryhq/tributary/pkg/kafka"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

const (
	EventActivityCreated = "activity.created"
	EventLinkCreated     = "link.created"
)

// Envelope is the wire shape of every lifecycle event
type Envelope struct {
	Event     string           `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	Activity  *models.Activity `json:"activity,omitempty"`
	Link      *models.EventLink `json:"link,omitempty"`
}

// Publisher is the slice of the Kafka producer the emitter needs
type Publisher interface {
	Publish(ctx context.Context, key string, headers kafka.MessageHeaders, value []byte) error
}

// Emitter publishes activity lifecycle events for downstream consumers
// (digest builders, notification fanout). Emission is best effort; callers
// treat failures as log-worthy, not fatal.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates an emitter over the given publisher
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitActivityCreated publishes an activity.created event keyed by activity ID
func (e *Emitter) EmitActivityCreated(ctx context.Context, a *models.Activity) error {
	envelope := Envelope{
		Event:     EventActivityCreated,
		Timestamp: time.Now().UTC(),
		Activity:  a,
	}
	headers := kafka.MessageHeaders{
		Source:      string(a.Source),
		EventType:   a.EventType,
		TraceParent: traceParent(ctx),
	}
	if a.OrganizationID != nil {
		headers.OrganizationID = *a.OrganizationID
	}
	return e.publish(ctx, a.ID, headers, envelope)
}

// EmitLinkCreated publishes a link.created event keyed by the source activity
func (e *Emitter) EmitLinkCreated(ctx context.Context, link *models.EventLink) error {
	envelope := Envelope{
		Event:     EventLinkCreated,
		Timestamp: time.Now().UTC(),
		Link:      link,
	}
	headers := kafka.MessageHeaders{TraceParent: traceParent(ctx)}
	return e.publish(ctx, link.SourceEventID, headers, envelope)
}

func (e *Emitter) publish(ctx context.Context, key string, headers kafka.MessageHeaders, envelope Envelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx, key, headers, value)
}

func traceParent(ctx context.Context) string {
	traceID := tracing.GetTraceID(ctx)
	spanID := tracing.GetSpanID(ctx)
	if traceID == "" || spanID == "" {
		return ""
	}
	return "00-" + traceID + "-" + spanID + "-01"
}
