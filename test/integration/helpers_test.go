package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tributaryhq/tributary/pkg/database"
)

var (
	setupOnce sync.Once
	sharedDB  *database.DatabaseInstance
	setupErr  error
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// testDB starts a shared Postgres container, runs the migrations against it
// and returns the connection. The container lives for the test process;
// tests isolate through unique IDs rather than truncation.
func testDB(t *testing.T) *database.DatabaseInstance {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping repository integration test in short mode")
	}

	setupOnce.Do(func() {
		sharedDB, setupErr = startPostgres()
	})
	if setupErr != nil {
		t.Fatalf("failed to provision test database: %v", setupErr)
	}
	return sharedDB
}

func startPostgres() (*database.DatabaseInstance, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "tributary",
			"POSTGRES_PASSWORD": "tributary",
			"POSTGRES_DB":       "tributary_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, err
	}

	logger := noopLogger()
	db, err := database.Connect(ctx, database.ConnectConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     port.Port(),
		UserName: "tributary",
		Password: "tributary",
		Name:     "tributary_test",
		SSLMode:  "disable",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test postgres: %w", err)
	}

	migration := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: "../../db/pg",
	})
	if err := migration.MigrateDB("tributary_test", db.Sqlx()); err != nil {
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}
	return db, nil
}
