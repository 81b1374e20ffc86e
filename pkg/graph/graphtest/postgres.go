//go:build integration

package graphtest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/quorum/pkg/database"
	"github.com/platinummonkey/quorum/pkg/graph"
)

// NewPostgres returns a migrated Postgres database. It uses
// TEST_POSTGRES_PRIMARY when set and otherwise starts a container, skipping
// the test in short mode or when no container runtime is available.
func NewPostgres(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	ctx := context.Background()
	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		dbURL = startPostgres(t)
	}

	db, err := database.Open(database.DefaultConfig(database.Postgres, dbURL))
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := graph.RunMigrations(ctx, db, database.Postgres, quietLogger()); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}
	return db
}

// NewPostgresStore is NewStore over NewPostgres.
func NewPostgresStore(t *testing.T, opts ...graph.Option) *graph.Store {
	t.Helper()

	opts = append([]graph.Option{graph.WithLogger(quietLogger())}, opts...)
	store := graph.New(NewPostgres(t), opts...)
	if err := graph.EnsureRelationTypes(context.Background(), store); err != nil {
		t.Fatalf("failed to seed relation types: %v", err)
	}
	return store
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("quorum_test"),
		postgres.WithUsername("quorum"),
		postgres.WithPassword("quorum_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		// fresh context: the test context may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return connStr
}
