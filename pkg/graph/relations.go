package graph

import (
	"context"
	"time"

	"github.com/platinummonkey/quorum/pkg/apperr"
)

const relationColumns = `r.id, r.relation_type_id, rt.name, r.source_id, r.target_id`

func (s *Store) queryRelations(ctx context.Context, op, where string, args ...interface{}) ([]Relation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+relationColumns+`
		FROM relations r
		JOIN entities rt ON rt.id = r.relation_type_id
		`+where+`
		ORDER BY r.id
	`, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	relations := []Relation{}
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ID, &r.RelationTypeID, &r.RelationType, &r.SourceID, &r.TargetID); err != nil {
			return nil, storeErr(op, err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return relations, nil
}

func (s *Store) relationsTouching(ctx context.Context, entityID int64) ([]Relation, error) {
	return s.queryRelations(ctx, "graph.DeleteEntity", `WHERE r.source_id = $1 OR r.target_id = $1`, entityID)
}

// ListAllRelations returns every relation ordered by id. Used by full resyncs.
func (s *Store) ListAllRelations(ctx context.Context) (relations []Relation, err error) {
	defer s.track("list_all_relations", time.Now(), &err)
	return s.queryRelations(ctx, "graph.ListAllRelations", "")
}

// FindTargets returns the entities reached from source over relation,
// ordered by sort order then id. An unknown relation type yields no
// entities.
func (s *Store) FindTargets(ctx context.Context, sourceID int64, relation string) (entities []Entity, err error) {
	defer s.track("find_targets", time.Now(), &err)

	rtID, ok, err := s.resolveRelationType(ctx, relation)
	if err != nil {
		return nil, storeErr("graph.FindTargets", err)
	}
	if !ok {
		return []Entity{}, nil
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT e.id, e.entity_type, e.name, e.label, e.sort_order, e.is_active, e.created_at, e.updated_at
		FROM entities e
		JOIN relations r ON r.target_id = e.id
		WHERE r.source_id = $1 AND r.relation_type_id = $2
		ORDER BY e.sort_order, e.id
	`, sourceID, rtID)
	if err != nil {
		return nil, storeErr("graph.FindTargets", err)
	}
	entities, err = scanEntities(rows)
	if err != nil {
		return nil, storeErr("graph.FindTargets", err)
	}
	return entities, nil
}

// FindSources returns the entities that reach target over relation,
// ordered by sort order then id. An unknown relation type yields no
// entities.
func (s *Store) FindSources(ctx context.Context, targetID int64, relation string) (entities []Entity, err error) {
	defer s.track("find_sources", time.Now(), &err)

	rtID, ok, err := s.resolveRelationType(ctx, relation)
	if err != nil {
		return nil, storeErr("graph.FindSources", err)
	}
	if !ok {
		return []Entity{}, nil
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT e.id, e.entity_type, e.name, e.label, e.sort_order, e.is_active, e.created_at, e.updated_at
		FROM entities e
		JOIN relations r ON r.source_id = e.id
		WHERE r.target_id = $1 AND r.relation_type_id = $2
		ORDER BY e.sort_order, e.id
	`, targetID, rtID)
	if err != nil {
		return nil, storeErr("graph.FindSources", err)
	}
	entities, err = scanEntities(rows)
	if err != nil {
		return nil, storeErr("graph.FindSources", err)
	}
	return entities, nil
}

// CreateRelation links source to target over relation. Creating an edge
// that already exists is a no-op. An unknown relation type is a
// configuration gap.
func (s *Store) CreateRelation(ctx context.Context, relation string, sourceID, targetID int64) (err error) {
	defer s.track("create_relation", time.Now(), &err)

	rtID, ok, err := s.resolveRelationType(ctx, relation)
	if err != nil {
		return storeErr("graph.CreateRelation", err)
	}
	if !ok {
		s.metrics.ConfigGap("relation_type")
		return apperr.ConfigurationGap("graph.CreateRelation", relation)
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO relations (relation_type_id, source_id, target_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (relation_type_id, source_id, target_id) DO NOTHING
	`, rtID, sourceID, targetID, now())
	if err != nil {
		return storeErr("graph.CreateRelation", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.emit(ctx, Change{Kind: ChangeEdgeUpsert, Relation: relation, SourceID: sourceID, TargetID: targetID})
	}
	return nil
}

// RelationExists reports whether the edge exists.
func (s *Store) RelationExists(ctx context.Context, relation string, sourceID, targetID int64) (exists bool, err error) {
	defer s.track("relation_exists", time.Now(), &err)

	rtID, ok, err := s.resolveRelationType(ctx, relation)
	if err != nil {
		return false, storeErr("graph.RelationExists", err)
	}
	if !ok {
		return false, nil
	}

	var n int64
	if err = s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relations
		WHERE relation_type_id = $1 AND source_id = $2 AND target_id = $3
	`, rtID, sourceID, targetID).Scan(&n); err != nil {
		return false, storeErr("graph.RelationExists", err)
	}
	return n > 0, nil
}

// DeleteRelation removes the edge if present. An unknown relation type is a
// no-op.
func (s *Store) DeleteRelation(ctx context.Context, relation string, sourceID, targetID int64) (err error) {
	defer s.track("delete_relation", time.Now(), &err)

	rtID, ok, err := s.resolveRelationType(ctx, relation)
	if err != nil {
		return storeErr("graph.DeleteRelation", err)
	}
	if !ok {
		return nil
	}

	res, err := s.q.ExecContext(ctx, `
		DELETE FROM relations
		WHERE relation_type_id = $1 AND source_id = $2 AND target_id = $3
	`, rtID, sourceID, targetID)
	if err != nil {
		return storeErr("graph.DeleteRelation", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.emit(ctx, Change{Kind: ChangeEdgeDelete, Relation: relation, SourceID: sourceID, TargetID: targetID})
	}
	return nil
}

// DeleteRelationByID removes a relation by id.
func (s *Store) DeleteRelationByID(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Store) (err error) {
		defer tx.track("delete_relation_by_id", time.Now(), &err)

		found, err := tx.queryRelations(ctx, "graph.DeleteRelationByID", `WHERE r.id = $1`, id)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return apperr.NotFound("graph.DeleteRelationByID", "relation %d", id)
		}
		if _, err = tx.q.ExecContext(ctx, `DELETE FROM relations WHERE id = $1`, id); err != nil {
			return storeErr("graph.DeleteRelationByID", err)
		}
		r := found[0]
		tx.emit(ctx, Change{Kind: ChangeEdgeDelete, Relation: r.RelationType, SourceID: r.SourceID, TargetID: r.TargetID})
		return nil
	})
}

// DeleteAllFromSource removes every relation-typed edge leaving source.
func (s *Store) DeleteAllFromSource(ctx context.Context, sourceID int64, relation string) error {
	return s.WithTx(ctx, func(tx *Store) (err error) {
		defer tx.track("delete_all_from_source", time.Now(), &err)

		targets, err := tx.FindTargets(ctx, sourceID, relation)
		if err != nil || len(targets) == 0 {
			return err
		}
		rtID, _, err := tx.resolveRelationType(ctx, relation)
		if err != nil {
			return storeErr("graph.DeleteAllFromSource", err)
		}
		if _, err = tx.q.ExecContext(ctx,
			`DELETE FROM relations WHERE source_id = $1 AND relation_type_id = $2`, sourceID, rtID); err != nil {
			return storeErr("graph.DeleteAllFromSource", err)
		}
		for _, t := range targets {
			tx.emit(ctx, Change{Kind: ChangeEdgeDelete, Relation: relation, SourceID: sourceID, TargetID: t.ID})
		}
		return nil
	})
}

// ReplaceTargets makes targetIDs the exact set of relation-typed targets of
// source, atomically.
func (s *Store) ReplaceTargets(ctx context.Context, sourceID int64, relation string, targetIDs []int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if len(targetIDs) > 0 {
			// surface an unknown relation type before removing anything
			if _, ok, err := tx.resolveRelationType(ctx, relation); err != nil {
				return storeErr("graph.ReplaceTargets", err)
			} else if !ok {
				tx.metrics.ConfigGap("relation_type")
				return apperr.ConfigurationGap("graph.ReplaceTargets", relation)
			}
		}
		if err := tx.DeleteAllFromSource(ctx, sourceID, relation); err != nil {
			return err
		}
		for _, id := range targetIDs {
			if err := tx.CreateRelation(ctx, relation, sourceID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountSources counts the edges of a relation type that point at target.
func (s *Store) CountSources(ctx context.Context, targetID int64, relation string) (n int64, err error) {
	defer s.track("count_sources", time.Now(), &err)
	return s.countEdges(ctx, "graph.CountSources", "target_id", targetID, relation)
}

// CountTargets counts the edges of a relation type that leave source.
func (s *Store) CountTargets(ctx context.Context, sourceID int64, relation string) (n int64, err error) {
	defer s.track("count_targets", time.Now(), &err)
	return s.countEdges(ctx, "graph.CountTargets", "source_id", sourceID, relation)
}

func (s *Store) countEdges(ctx context.Context, op, column string, id int64, relation string) (int64, error) {
	rtID, ok, err := s.resolveRelationType(ctx, relation)
	if err != nil {
		return 0, storeErr(op, err)
	}
	if !ok {
		return 0, nil
	}
	var n int64
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relations WHERE `+column+` = $1 AND relation_type_id = $2`,
		id, rtID).Scan(&n); err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}
