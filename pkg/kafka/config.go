package kafka

import "time"

// Offset constants
const (
	FirstOffset int64 = -2 // start from the oldest message
	LastOffset  int64 = -1 // start from the newest message
)

// ConsumerConfig configures the webhook event consumer
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	CommitInterval    time.Duration
	StartOffset       int64
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	RebalanceTimeout  time.Duration
}

// DefaultConsumerConfig returns a ConsumerConfig with sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:           []string{"localhost:9092"},
		Topic:             "webhook-events",
		GroupID:           "tributary-ingest",
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           3 * time.Second,
		CommitInterval:    time.Second,
		StartOffset:       LastOffset,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		RebalanceTimeout:  30 * time.Second,
	}
}

// ProducerConfig configures the lifecycle event producer
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration

	// 0 = no acks, 1 = leader only, -1 = all replicas
	RequiredAcks int
	Async        bool
	MaxAttempts  int
	WriteTimeout time.Duration

	// none, gzip, snappy, lz4, zstd
	Compression string
}

// DefaultProducerConfig returns a ProducerConfig with sensible defaults
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "activity-events",
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: 1,
		Async:        false,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		Compression:  "snappy",
	}
}
