package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/quorum/pkg/async"
	"github.com/platinummonkey/quorum/pkg/graph"
)

// ResyncStats reports one full resync.
type ResyncStats struct {
	Nodes    int
	Edges    int
	Failed   int
	Duration time.Duration
}

// Resync publishes an upsert for every entity, with all its properties,
// and then for every relation. Nodes go out before edges so a consumer
// never sees an edge to an unknown node. It bypasses the queue and waits
// for every publish; failures are counted, and an error is returned when
// any publish failed.
func (d *Dispatcher) Resync(ctx context.Context, store *graph.Store) (ResyncStats, error) {
	started := time.Now()

	var (
		entities  []graph.Entity
		props     map[int64]map[string]string
		relations []graph.Relation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		entities, err = store.ListAllEntities(gctx)
		return err
	})
	g.Go(func() (err error) {
		props, err = store.ListAllProperties(gctx)
		return err
	})
	g.Go(func() (err error) {
		relations, err = store.ListAllRelations(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return ResyncStats{}, fmt.Errorf("load graph for resync: %w", err)
	}

	nodes := make([]graph.Change, 0, len(entities))
	for i := range entities {
		e := entities[i]
		nodes = append(nodes, graph.Change{
			Kind:       graph.ChangeNodeUpsert,
			EntityID:   e.ID,
			Entity:     &e,
			Properties: props[e.ID],
		})
	}
	edges := make([]graph.Change, 0, len(relations))
	for _, r := range relations {
		edges = append(edges, graph.Change{
			Kind:     graph.ChangeEdgeUpsert,
			Relation: r.RelationType,
			SourceID: r.SourceID,
			TargetID: r.TargetID,
		})
	}

	var failed atomic.Int64
	publish := func(ctx context.Context, change graph.Change) error {
		ev := NewEvent(change)
		data, err := json.Marshal(ev)
		if err != nil {
			failed.Add(1)
			return err
		}
		if !d.send(ctx, ev, Subject(d.cfg.SubjectPrefix, ev.Kind), data) {
			failed.Add(1)
		}
		return nil
	}
	poolCfg := async.PoolConfig{
		Workers:  d.cfg.Workers,
		TaskName: "graph mirror resync",
		Timeout:  d.cfg.PublishTimeout,
		Logger:   d.logger,
	}

	stats := ResyncStats{Nodes: len(nodes), Edges: len(edges)}
	errs := async.Batch(ctx, nodes, poolCfg, publish)
	errs = append(errs, async.Batch(ctx, edges, poolCfg, publish)...)
	stats.Failed = int(failed.Load())
	stats.Duration = time.Since(started)

	d.logger.WithFields(logrus.Fields{
		"nodes":    stats.Nodes,
		"edges":    stats.Edges,
		"failed":   stats.Failed,
		"duration": stats.Duration,
	}).Info("Mirror resync finished")

	if stats.Failed > 0 || len(errs) > 0 {
		return stats, fmt.Errorf("mirror resync: %d of %d publishes failed", stats.Failed, stats.Nodes+stats.Edges)
	}
	return stats, nil
}

// ScheduleResync runs Resync on a cron schedule, skipping a run while the
// previous one is still going. The returned scheduler is already started;
// stop it with Stop.
func (d *Dispatcher) ScheduleResync(store *graph.Store, spec string, timeout time.Duration) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(d.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := d.Resync(ctx, store); err != nil {
			d.logger.WithError(err).Warn("Scheduled mirror resync failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule mirror resync %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
