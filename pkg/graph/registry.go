package graph

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/quorum/pkg/observability"
)

// DefaultRelationTypeCacheSize bounds the relation-type name cache.
const DefaultRelationTypeCacheSize = 256

// relationTypes resolves relation type names to entity ids.
//
// Only positive lookups are cached, so a relation type created after a miss
// is seen on the next call. Any write to a relation_type entity purges the
// cache. A lookup that started before a purge does not populate the cache
// afterwards.
type relationTypes struct {
	cache   *lru.Cache[string, int64]
	group   singleflight.Group
	metrics *observability.Metrics

	// generation is bumped by purge.
	generation atomic.Uint64
	lookup     func(ctx context.Context, q querier, name string) (int64, bool, error)
}

func newRelationTypes(size int, metrics *observability.Metrics) *relationTypes {
	if size <= 0 {
		size = DefaultRelationTypeCacheSize
	}
	cache, err := lru.New[string, int64](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &relationTypes{cache: cache, metrics: metrics, lookup: lookupRelationType}
}

const relationTypeQuery = `SELECT id FROM entities WHERE entity_type = $1 AND name = $2`

// resolve returns the id of the named relation type and whether it exists.
// Transaction-scoped callers pass cached=false so that uncommitted rows never
// reach the shared cache.
func (r *relationTypes) resolve(ctx context.Context, q querier, name string, cached bool) (int64, bool, error) {
	if !cached {
		return r.lookup(ctx, q, name)
	}

	if id, ok := r.cache.Get(name); ok {
		r.metrics.RelationTypeCacheHit()
		return id, true, nil
	}
	r.metrics.RelationTypeCacheMiss()

	// Keyed by generation so callers arriving after a purge never join a
	// flight that read the old rows.
	gen := r.generation.Load()
	key := strconv.FormatUint(gen, 10) + ":" + name
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		id, ok, err := r.lookup(ctx, q, name)
		if err != nil || !ok {
			return int64(0), err
		}
		r.cache.Add(name, id)
		if r.generation.Load() != gen {
			r.cache.Remove(name)
		}
		return id, nil
	})
	if err != nil {
		return 0, false, err
	}
	id := v.(int64)
	return id, id != 0, nil
}

func (r *relationTypes) purge() {
	r.generation.Add(1)
	r.cache.Purge()
}

func lookupRelationType(ctx context.Context, q querier, name string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, relationTypeQuery, string(TypeRelationType), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
