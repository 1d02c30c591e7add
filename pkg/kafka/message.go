package kafka

import (
	"encoding/json"

	"github.com/tributaryhq/tributary/pkg/models"
)

// Header is one Kafka message header
type Header struct {
	Key   string
	Value []byte
}

// MessageHeaders carries routing metadata so consumers can filter without
// deserializing the payload
type MessageHeaders struct {
	OrganizationID string
	Source         string
	EventType      string
	TraceParent    string
}

// ToKafkaHeaders converts MessageHeaders to header key-value pairs
func (h *MessageHeaders) ToKafkaHeaders() []Header {
	headers := make([]Header, 0, 4)
	if h.OrganizationID != "" {
		headers = append(headers, Header{Key: "organization_id", Value: []byte(h.OrganizationID)})
	}
	if h.Source != "" {
		headers = append(headers, Header{Key: "source", Value: []byte(h.Source)})
	}
	if h.EventType != "" {
		headers = append(headers, Header{Key: "event_type", Value: []byte(h.EventType)})
	}
	if h.TraceParent != "" {
		headers = append(headers, Header{Key: "traceparent", Value: []byte(h.TraceParent)})
	}
	return headers
}

// ExtractHeaders parses known headers from a received message
func ExtractHeaders(headers []Header) MessageHeaders {
	var out MessageHeaders
	for _, h := range headers {
		switch h.Key {
		case "organization_id":
			out.OrganizationID = string(h.Value)
		case "source":
			out.Source = string(h.Value)
		case "event_type":
			out.EventType = string(h.Value)
		case "traceparent":
			out.TraceParent = string(h.Value)
		}
	}
	return out
}

// ReceivedMessage wraps a Kafka message with its parsed event input
type ReceivedMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   MessageHeaders

	// Parsed normalized event
	Input *models.IngestEventInput
}

// ParseEventInput parses a message value as a normalized event input
func ParseEventInput(data []byte) (*models.IngestEventInput, error) {
	var input models.IngestEventInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return &input, nil
}
