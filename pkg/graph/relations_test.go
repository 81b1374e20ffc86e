package graph_test

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/graph/graphtest"
	"github.com/platinummonkey/quorum/pkg/observability"
)

func ids(entities []graph.Entity) []int64 {
	out := make([]int64, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.ID)
	}
	return out
}

func TestRelations_FindTargetsAndSources(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)

	alice := graphtest.MustEntity(t, store, graph.TypeUser, "alice")
	bob := graphtest.MustEntity(t, store, graph.TypeUser, "bob")
	reviewer, _ := store.CreateEntityWithSort(ctx, graph.TypeRole, "reviewer", "Reviewer", 2)
	editor, _ := store.CreateEntityWithSort(ctx, graph.TypeRole, "editor", "Editor", 1)

	graphtest.MustRelate(t, store, graph.RelHasRole, alice, reviewer)
	graphtest.MustRelate(t, store, graph.RelHasRole, alice, editor)
	graphtest.MustRelate(t, store, graph.RelHasRole, bob, editor)

	targets, err := store.FindTargets(ctx, alice, graph.RelHasRole)
	require.NoError(t, err)
	assert.Equal(t, []int64{editor, reviewer}, ids(targets), "targets ordered by sort order")

	sources, err := store.FindSources(ctx, editor, graph.RelHasRole)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice, bob}, ids(sources))

	n, err := store.CountSources(ctx, editor, graph.RelHasRole)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.CountTargets(ctx, alice, graph.RelHasRole)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRelations_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)

	a := graphtest.MustEntity(t, store, graph.TypeUser, "a")
	r := graphtest.MustEntity(t, store, graph.TypeRole, "r")

	require.NoError(t, store.CreateRelation(ctx, graph.RelHasRole, a, r))
	require.NoError(t, store.CreateRelation(ctx, graph.RelHasRole, a, r))

	n, err := store.CountTargets(ctx, a, graph.RelHasRole)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := store.RelationExists(ctx, graph.RelHasRole, a, r)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRelations_UnknownType(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)

	a := graphtest.MustEntity(t, store, graph.TypeUser, "a")
	b := graphtest.MustEntity(t, store, graph.TypeRole, "b")

	targets, err := store.FindTargets(ctx, a, "no_such_relation")
	require.NoError(t, err)
	assert.Empty(t, targets)

	sources, err := store.FindSources(ctx, b, "no_such_relation")
	require.NoError(t, err)
	assert.Empty(t, sources)

	err = store.CreateRelation(ctx, "no_such_relation", a, b)
	require.Error(t, err)
	assert.True(t, apperr.IsConfigurationGap(err))
	assert.Equal(t, "no_such_relation", apperr.CodeOf(err))

	assert.NoError(t, store.DeleteRelation(ctx, "no_such_relation", a, b))

	n, err := store.CountTargets(ctx, a, "no_such_relation")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelations_Delete(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)

	a := graphtest.MustEntity(t, store, graph.TypeUser, "a")
	r1 := graphtest.MustEntity(t, store, graph.TypeRole, "r1")
	r2 := graphtest.MustEntity(t, store, graph.TypeRole, "r2")
	graphtest.MustRelate(t, store, graph.RelHasRole, a, r1)
	graphtest.MustRelate(t, store, graph.RelHasRole, a, r2)

	require.NoError(t, store.DeleteRelation(ctx, graph.RelHasRole, a, r1))
	require.NoError(t, store.DeleteRelation(ctx, graph.RelHasRole, a, r1))

	targets, err := store.FindTargets(ctx, a, graph.RelHasRole)
	require.NoError(t, err)
	assert.Equal(t, []int64{r2}, ids(targets))

	all, err := store.ListAllRelations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, graph.RelHasRole, all[0].RelationType)

	require.NoError(t, store.DeleteRelationByID(ctx, all[0].ID))
	assert.True(t, apperr.IsNotFound(store.DeleteRelationByID(ctx, all[0].ID)))
}

func TestRelations_ReplaceTargets(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)

	role := graphtest.MustEntity(t, store, graph.TypeRole, "editor")
	p1 := graphtest.MustEntity(t, store, graph.TypePermission, "p1")
	p2 := graphtest.MustEntity(t, store, graph.TypePermission, "p2")
	p3 := graphtest.MustEntity(t, store, graph.TypePermission, "p3")
	graphtest.MustRelate(t, store, graph.RelHasPermission, role, p1)
	graphtest.MustRelate(t, store, graph.RelHasPermission, role, p2)

	require.NoError(t, store.ReplaceTargets(ctx, role, graph.RelHasPermission, []int64{p2, p3}))
	targets, err := store.FindTargets(ctx, role, graph.RelHasPermission)
	require.NoError(t, err)
	assert.Equal(t, []int64{p2, p3}, ids(targets))

	err = store.ReplaceTargets(ctx, role, "no_such_relation", []int64{p1})
	assert.True(t, apperr.IsConfigurationGap(err))

	require.NoError(t, store.DeleteAllFromSource(ctx, role, graph.RelHasPermission))
	targets, err = store.FindTargets(ctx, role, graph.RelHasPermission)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestRelations_ReplaceTargetsRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)

	role := graphtest.MustEntity(t, store, graph.TypeRole, "editor")
	p1 := graphtest.MustEntity(t, store, graph.TypePermission, "p1")
	graphtest.MustRelate(t, store, graph.RelHasPermission, role, p1)

	// 424242 does not exist, so the insert violates the foreign key
	err := store.ReplaceTargets(ctx, role, graph.RelHasPermission, []int64{424242})
	require.Error(t, err)
	assert.True(t, apperr.IsStoreFailure(err))

	targets, err := store.FindTargets(ctx, role, graph.RelHasPermission)
	require.NoError(t, err)
	assert.Equal(t, []int64{p1}, ids(targets))
}

func TestRelationTypeCache_SeesNewTypesAndRenames(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := graphtest.NewStore(t, graph.WithMetrics(metrics))

	a := graphtest.MustEntity(t, store, "doc", "a")
	b := graphtest.MustEntity(t, store, "doc", "b")

	// a miss is not cached, so creating the type later makes it usable
	assert.True(t, apperr.IsConfigurationGap(store.CreateRelation(ctx, "cites", a, b)))
	rt := graphtest.MustEntity(t, store, graph.TypeRelationType, "cites")
	require.NoError(t, store.CreateRelation(ctx, "cites", a, b))

	_, err := store.FindTargets(ctx, a, "cites")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("relation_type")), float64(1))

	// renaming the type purges the cache
	require.NoError(t, store.UpdateEntity(ctx, rt, "references", "References"))
	targets, err := store.FindTargets(ctx, a, "cites")
	require.NoError(t, err)
	assert.Empty(t, targets)
	targets, err = store.FindTargets(ctx, a, "references")
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids(targets))
}

func TestRelationTypeCache_ConcurrentLookups(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)

	a := graphtest.MustEntity(t, store, graph.TypeUser, "a")
	r := graphtest.MustEntity(t, store, graph.TypeRole, "r")
	graphtest.MustRelate(t, store, graph.RelHasRole, a, r)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			targets, err := store.FindTargets(ctx, a, graph.RelHasRole)
			assert.NoError(t, err)
			assert.Len(t, targets, 1)
		}()
	}
	wg.Wait()
}

func TestRelationTypes_TxDoesNotLeakIntoCache(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewStore(t)
	a := graphtest.MustEntity(t, store, "doc", "a")
	b := graphtest.MustEntity(t, store, "doc", "b")

	_ = store.WithTx(ctx, func(tx *graph.Store) error {
		_, err := tx.CreateEntity(ctx, graph.TypeRelationType, "temp", "Temp")
		require.NoError(t, err)
		require.NoError(t, tx.CreateRelation(ctx, "temp", a, b))
		return assert.AnError
	})

	assert.True(t, apperr.IsConfigurationGap(store.CreateRelation(ctx, "temp", a, b)))
}
