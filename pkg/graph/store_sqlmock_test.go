package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/graph"
)

func newMockStore(t *testing.T) (*graph.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return graph.New(db), mock
}

func TestStoreFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("connection reset")

	t.Run("create entity", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO entities").WillReturnError(dbErr)

		_, err := store.CreateEntity(ctx, "proposal", "p", "P")
		assert.True(t, apperr.IsStoreFailure(err))
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get property", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT value FROM entity_properties").
			WithArgs(int64(1), "status").
			WillReturnError(dbErr)

		_, ok, err := store.GetProperty(ctx, 1, "status")
		assert.False(t, ok)
		assert.True(t, apperr.IsStoreFailure(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("relation type lookup", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT id FROM entities WHERE entity_type").
			WithArgs("relation_type", graph.RelHasRole).
			WillReturnError(dbErr)

		_, err := store.FindTargets(ctx, 1, graph.RelHasRole)
		assert.True(t, apperr.IsStoreFailure(err), "a failed lookup must not read as an empty result")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("find targets query", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT id FROM entities WHERE entity_type").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectQuery("FROM entities e").
			WithArgs(int64(1), int64(7)).
			WillReturnError(dbErr)

		_, err := store.FindTargets(ctx, 1, graph.RelHasRole)
		assert.True(t, apperr.IsStoreFailure(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete entity rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE id").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "entity_type", "name", "label", "sort_order", "is_active", "created_at", "updated_at",
			}).AddRow(int64(3), "proposal", "p", "P", int64(0), true, nowUTC(), nowUTC()))
		mock.ExpectQuery("FROM relations r").WillReturnRows(sqlmock.NewRows([]string{
			"id", "relation_type_id", "name", "source_id", "target_id",
		}))
		mock.ExpectExec("DELETE FROM entity_properties").WillReturnError(dbErr)
		mock.ExpectRollback()

		err := store.DeleteEntity(ctx, 3)
		assert.True(t, apperr.IsStoreFailure(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
