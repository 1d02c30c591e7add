package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"tributary-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (activity stream database)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"tributary"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (worker coordination locks)
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"true"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Embedding provider (text -> vector, optional enrichment)
	EmbeddingEnabled        bool          `env:"EMBEDDING_ENABLED" env-default:"false"`
	EmbeddingEndpoint       string        `env:"EMBEDDING_ENDPOINT" env-default:""`
	EmbeddingAPIKey         string        `env:"EMBEDDING_API_KEY" env-default:""`
	EmbeddingModel          string        `env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingRequestTimeout time.Duration `env:"EMBEDDING_REQUEST_TIMEOUT" env-default:"5s"`

	// Correlation
	SemanticLinkThreshold float64 `env:"SEMANTIC_LINK_THRESHOLD" env-default:"0.7"`
	SemanticLinkLimit     int     `env:"SEMANTIC_LINK_LIMIT" env-default:"5"`
	SemanticCandidatePool int     `env:"SEMANTIC_CANDIDATE_POOL" env-default:"500"`

	// Kafka Consumer (durable webhook delivery - ingestion)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"webhook-events"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"tributary-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer (activity lifecycle events)
	KafkaProducerEnabled bool `env:"KAFKA_PRODUCER_ENABLED" env-default:"true"`

	KafkaOutputTopic  string `env:"KAFKA_OUTPUT_TOPIC" env-default:"activity-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Retry queue / jobs
	QueueDrainInterval    time.Duration `env:"QUEUE_DRAIN_INTERVAL" env-default:"30s"`
	QueueDrainBatchSize   int           `env:"QUEUE_DRAIN_BATCH_SIZE" env-default:"25"`
	QueueMaxAttempts      int           `env:"QUEUE_MAX_ATTEMPTS" env-default:"3"`
	QueueRetryBackoffBase time.Duration `env:"QUEUE_RETRY_BACKOFF_BASE" env-default:"30s"`
	QueueStaleTimeout     time.Duration `env:"QUEUE_STALE_TIMEOUT" env-default:"10m"`
	QueueSweepInterval    time.Duration `env:"QUEUE_SWEEP_INTERVAL" env-default:"5m"`

	// Correlation dispatcher
	CorrelationWorkerCount int `env:"CORRELATION_WORKER_COUNT" env-default:"4"`
	CorrelationQueueDepth  int `env:"CORRELATION_QUEUE_DEPTH" env-default:"256"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" env-default:"localhost:4317"`
	TracingProtocol string `env:"TRACING_PROTOCOL" env-default:"grpc"`
	TracingInsecure bool   `env:"TRACING_INSECURE" env-default:"true"`
}
