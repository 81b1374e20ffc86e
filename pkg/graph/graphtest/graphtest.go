// Package graphtest provides migrated graph stores for tests.
package graphtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/database"
	"github.com/platinummonkey/quorum/pkg/graph"
)

// NewSQLite opens a private in-memory SQLite database with the graph
// schema applied. The database is closed when the test ends.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open(database.DefaultConfig(database.SQLite, dsn))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := graph.RunMigrations(context.Background(), db, database.SQLite, quietLogger()); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return db
}

// NewStore returns a store over a fresh in-memory database with the
// built-in relation types seeded.
func NewStore(t testing.TB, opts ...graph.Option) *graph.Store {
	t.Helper()

	opts = append([]graph.Option{graph.WithLogger(quietLogger())}, opts...)
	store := graph.New(NewSQLite(t), opts...)
	if err := graph.EnsureRelationTypes(context.Background(), store); err != nil {
		t.Fatalf("failed to seed relation types: %v", err)
	}
	return store
}

// MustEntity creates an entity or fails the test.
func MustEntity(t testing.TB, s *graph.Store, entityType graph.EntityType, name string) int64 {
	t.Helper()

	id, err := s.CreateEntity(context.Background(), entityType, name, name)
	if err != nil {
		t.Fatalf("failed to create %s %q: %v", entityType, name, err)
	}
	return id
}

// MustRelate creates a relation or fails the test.
func MustRelate(t testing.TB, s *graph.Store, relation string, sourceID, targetID int64) {
	t.Helper()

	if err := s.CreateRelation(context.Background(), relation, sourceID, targetID); err != nil {
		t.Fatalf("failed to create %s %d->%d: %v", relation, sourceID, targetID, err)
	}
}

// MustProperty sets a property or fails the test.
func MustProperty(t testing.TB, s *graph.Store, entityID int64, key, value string) {
	t.Helper()

	if err := s.SetProperty(context.Background(), entityID, key, value); err != nil {
		t.Fatalf("failed to set %s=%s on %d: %v", key, value, entityID, err)
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}
