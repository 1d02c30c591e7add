package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/tributaryhq/tributary/config"
	activityrepo "github.com/tributaryhq/tributary/internal/repositories/activity"
	"github.com/tributaryhq/tributary/internal/repositories/eventlink"
	jobrepo "github.com/tributaryhq/tributary/internal/repositories/job"
	"github.com/tributaryhq/tributary/internal/repositories/rawevent"
	"github.com/tributaryhq/tributary/internal/repositories/retryqueue"
	"github.com/tributaryhq/tributary/pkg/correlation"
	"github.com/tributaryhq/tributary/pkg/database"
	"github.com/tributaryhq/tributary/pkg/embedding"
	"github.com/tributaryhq/tributary/pkg/events"
	"github.com/tributaryhq/tributary/pkg/ingest"
	"github.com/tributaryhq/tributary/pkg/jobs"
	"github.com/tributaryhq/tributary/pkg/kafka"
	"github.com/tributaryhq/tributary/pkg/middleware"
	"github.com/tributaryhq/tributary/pkg/queue"
	"github.com/tributaryhq/tributary/pkg/redis"
	routeactivity "github.com/tributaryhq/tributary/pkg/routes/activity"
	routeevent "github.com/tributaryhq/tributary/pkg/routes/event"
	"github.com/tributaryhq/tributary/pkg/routes/health"
	routejobs "github.com/tributaryhq/tributary/pkg/routes/jobs"
	routequeue "github.com/tributaryhq/tributary/pkg/routes/queue"
	"github.com/tributaryhq/tributary/pkg/scoring"
	"github.com/tributaryhq/tributary/pkg/startup"
	"github.com/tributaryhq/tributary/pkg/tracing"
	"github.com/tributaryhq/tributary/pkg/tracing/exporters"
)

const version = "0.1.0"

// app holds the wired service graph shared by the startup components
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db         *database.DatabaseInstance
	redis      *redis.Client
	producer   *kafka.Producer
	consumer   *kafka.Consumer
	gateway    *ingest.Gateway
	dispatcher *ingest.Dispatcher
	worker     *queue.Worker
	processor  *jobs.Processor
	checker    *health.Checker
	echo       *echo.Echo

	workerCancel context.CancelFunc
}

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := newZapLogger(cfg)
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := initTracing(ctx, cfg)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	a := &app{cfg: cfg, logger: logger}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&component{name: "database", start: a.startDatabase, stop: a.stopDatabase})
	boot.AddDependency(&component{name: "redis", start: a.startRedis, stop: a.stopRedis})
	boot.AddDependency(&component{name: "kafka-producer", start: a.startProducer, stop: a.stopProducer})
	boot.AddDependency(&component{name: "pipeline", dependsOn: []string{"database", "kafka-producer"}, start: a.startPipeline, stop: a.stopPipeline})
	boot.AddDependency(&component{name: "kafka-consumer", dependsOn: []string{"pipeline"}, start: a.startConsumer, stop: a.stopConsumer})
	boot.AddDependency(&component{name: "workers", dependsOn: []string{"pipeline", "redis"}, start: a.startWorkers, stop: a.stopWorkers})
	boot.AddDependency(&component{name: "http-server", dependsOn: []string{"pipeline"}, start: a.startHTTP, stop: a.stopHTTP})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	a.checker.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	a.checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
}

func newZapLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func initTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.TracingEndpoint,
		Protocol: cfg.TracingProtocol,
		Insecure: cfg.TracingInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", version),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return tp.Shutdown, nil
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, database.ConnectConfig{
		Driver:          a.cfg.DatabaseDriver,
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		UserName:        a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db

	migration := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return migration.MigrateDB(a.cfg.DatabaseName, db.Sqlx())
}

func (a *app) stopDatabase(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) startRedis(ctx context.Context) error {
	if !a.cfg.RedisEnabled {
		a.logger.Info("Redis disabled, sweep runs unguarded")
		return nil
	}
	client, err := redis.NewClient(redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	return nil
}

func (a *app) stopRedis(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startProducer(ctx context.Context) error {
	if !a.cfg.KafkaProducerEnabled {
		a.logger.Info("Kafka producer disabled, lifecycle events will not be emitted")
		return nil
	}
	producerCfg := kafka.DefaultProducerConfig()
	producerCfg.Brokers = a.cfg.KafkaBrokers
	producerCfg.Topic = a.cfg.KafkaOutputTopic
	producerCfg.BatchSize = a.cfg.KafkaBatchSize
	producerCfg.BatchTimeout = time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond
	producerCfg.RequiredAcks = a.cfg.KafkaRequiredAcks
	producerCfg.Compression = a.cfg.KafkaCompression

	producer, err := kafka.NewProducer(producerCfg, a.logger)
	if err != nil {
		return err
	}
	a.producer = producer
	return nil
}

func (a *app) stopProducer(ctx context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

// startPipeline wires the repositories, correlation engine, gateway, worker
// and processor, and registers them with the DI container for the routes
func (a *app) startPipeline(ctx context.Context) error {
	activities := activityrepo.NewRepository(a.db, a.logger)
	links := eventlink.NewRepository(a.db, a.logger)
	audits := rawevent.NewRepository(a.db, a.logger)
	queueItems := retryqueue.NewRepository(a.db, a.logger)
	jobStore := jobrepo.NewRepository(a.db, a.logger)

	var emitter *events.Emitter
	if a.producer != nil {
		emitter = events.NewEmitter(a.producer, a.logger)
	}

	engine := correlation.NewEngine(activities, links, linkEmitter(emitter), correlation.Config{
		SemanticThreshold:     a.cfg.SemanticLinkThreshold,
		SemanticLimit:         a.cfg.SemanticLinkLimit,
		SemanticCandidatePool: a.cfg.SemanticCandidatePool,
	}, a.logger)

	a.dispatcher = ingest.NewDispatcher(engine, a.cfg.CorrelationWorkerCount, a.cfg.CorrelationQueueDepth, a.logger)

	var embedder embedding.Provider = embedding.Disabled{}
	if a.cfg.EmbeddingEnabled {
		embedder = embedding.NewHTTPProvider(embedding.HTTPConfig{
			Endpoint: a.cfg.EmbeddingEndpoint,
			APIKey:   a.cfg.EmbeddingAPIKey,
			Model:    a.cfg.EmbeddingModel,
			Timeout:  a.cfg.EmbeddingRequestTimeout,
		}, a.logger)
	}

	a.gateway = ingest.NewGateway(activities, audits, embedder, scoring.NewScorer(), a.dispatcher, activityEmitter(emitter), a.logger)

	var locker queue.Locker
	if a.redis != nil {
		locker = redis.NewLocker(a.redis, "tributary:")
	}
	a.worker = queue.NewWorker(queueItems, a.gateway, locker, queue.Config{
		DrainBatchSize: a.cfg.QueueDrainBatchSize,
		MaxAttempts:    a.cfg.QueueMaxAttempts,
		BackoffBase:    a.cfg.QueueRetryBackoffBase,
		StaleTimeout:   a.cfg.QueueStaleTimeout,
		DrainInterval:  a.cfg.QueueDrainInterval,
		SweepInterval:  a.cfg.QueueSweepInterval,
	}, a.logger)

	a.processor = jobs.NewProcessor(jobStore, a.cfg.QueueMaxAttempts, a.logger)
	jobs.RegisterHandlers(a.processor, activities, activities, a.gateway, a.logger)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, a.logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, a.db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*activityrepo.Repository](container, activities); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*eventlink.Repository](container, links); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*retryqueue.Repository](container, queueItems); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*jobrepo.Repository](container, jobStore); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*ingest.Gateway](container, a.gateway); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*queue.Worker](container, a.worker); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*jobs.Processor](container, a.processor)
}

func (a *app) stopPipeline(ctx context.Context) error {
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	return nil
}

func (a *app) startConsumer(ctx context.Context) error {
	if !a.cfg.KafkaConsumerEnabled {
		a.logger.Info("Kafka consumer disabled")
		return nil
	}
	consumerCfg := kafka.DefaultConsumerConfig()
	consumerCfg.Brokers = a.cfg.KafkaBrokers
	consumerCfg.Topic = a.cfg.KafkaInputTopic
	consumerCfg.GroupID = a.cfg.KafkaConsumerGroup

	consumer, err := kafka.NewConsumer(consumerCfg, a.logger)
	if err != nil {
		return err
	}
	a.consumer = consumer

	return consumer.Start(ctx, func(ctx context.Context, msg *kafka.ReceivedMessage) error {
		_, err := a.gateway.Ingest(ctx, *msg.Input)
		return err
	})
}

func (a *app) stopConsumer(ctx context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Stop()
}

func (a *app) startWorkers(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(context.Background())
	a.workerCancel = cancel

	a.dispatcher.Start(workerCtx)
	go a.worker.Run(workerCtx)
	return nil
}

func (a *app) stopWorkers(ctx context.Context) error {
	if a.workerCancel != nil {
		a.workerCancel()
	}
	return nil
}

func (a *app) startHTTP(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Context())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	a.checker = health.NewChecker(a.db, healthRedis(a.redis), version)
	a.checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	routeevent.Register(api.Group("/events"))
	routeactivity.Register(api.Group("/activities"))
	routequeue.Register(api.Group("/queue"))
	routejobs.Register(api.Group("/jobs"))

	e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = a.cfg.MaxHeaderBytes
	a.echo = e

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", a.cfg.Port)); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
	return nil
}

func (a *app) stopHTTP(ctx context.Context) error {
	if a.echo == nil {
		return nil
	}
	return a.echo.Shutdown(ctx)
}

// linkEmitter keeps the engine's emitter nil when no producer is configured;
// a typed nil *events.Emitter would dodge the engine's nil check otherwise
func linkEmitter(e *events.Emitter) correlation.LinkEmitter {
	if e == nil {
		return nil
	}
	return e
}

func activityEmitter(e *events.Emitter) ingest.ActivityEmitter {
	if e == nil {
		return nil
	}
	return e
}

func healthRedis(c *redis.Client) health.Pinger {
	if c == nil {
		return nil
	}
	return c
}

// component adapts closures to the startup dependency graph
type component struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (c *component) GetName() string {
	return c.name
}

func (c *component) DependsOn() []string {
	return c.dependsOn
}

func (c *component) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c *component) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}
