//go:build integration

package graph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/graph/graphtest"
)

// Names are randomised so the tests can share one TEST_POSTGRES_PRIMARY.
func unique(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func TestPostgres_DuplicateEntity(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewPostgresStore(t)

	name := unique("p")
	_, err := store.CreateEntity(ctx, "proposal", name, "One")
	require.NoError(t, err)

	_, err = store.CreateEntity(ctx, "proposal", name, "Again")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDuplicate))
}

func TestPostgres_RelationsAndCascade(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewPostgresStore(t)

	user := graphtest.MustEntity(t, store, graph.TypeUser, unique("user"))
	role := graphtest.MustEntity(t, store, graph.TypeRole, unique("role"))
	graphtest.MustRelate(t, store, graph.RelHasRole, user, role)

	// idempotent on conflict
	require.NoError(t, store.CreateRelation(ctx, graph.RelHasRole, user, role))
	n, err := store.CountTargets(ctx, user, graph.RelHasRole)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.DeleteEntity(ctx, role))
	targets, err := store.FindTargets(ctx, user, graph.RelHasRole)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestPostgres_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewPostgresStore(t)

	name := unique("status")
	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx *graph.Store) error {
		id, err := tx.CreateEntity(ctx, graph.TypeWorkflowStatus, name, "Draft")
		if err != nil {
			return err
		}
		if err := tx.SetProperty(ctx, id, "status_code", "draft"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.FindEntity(ctx, graph.TypeWorkflowStatus, name)
	assert.True(t, apperr.IsNotFound(err))
}

func TestPostgres_PropertyUpsert(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewPostgresStore(t)

	id := graphtest.MustEntity(t, store, "proposal", unique("p"))
	graphtest.MustProperty(t, store, id, "status", "draft")
	graphtest.MustProperty(t, store, id, "status", "submitted")

	props, err := store.Properties(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "submitted"}, props)
}
