package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/quorum/pkg/apperr"
)

const entityColumns = `id, entity_type, name, label, sort_order, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var entityType string
	if err := row.Scan(&e.ID, &entityType, &e.Name, &e.Label, &e.SortOrder, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.EntityType = EntityType(entityType)
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]Entity, error) {
	defer rows.Close()
	entities := []Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// CreateEntity inserts an entity and returns its id. A second entity with
// the same (type, name) fails with apperr.ErrDuplicate in the chain.
func (s *Store) CreateEntity(ctx context.Context, entityType EntityType, name, label string) (int64, error) {
	return s.CreateEntityWithSort(ctx, entityType, name, label, 0)
}

// CreateEntityWithSort inserts an entity with an explicit sort order.
func (s *Store) CreateEntityWithSort(ctx context.Context, entityType EntityType, name, label string, sortOrder int64) (id int64, err error) {
	defer s.track("create_entity", time.Now(), &err)

	ts := now()
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO entities (entity_type, name, label, sort_order, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, string(entityType), name, label, sortOrder, true, ts, ts).Scan(&id)
	if err != nil {
		return 0, storeErr("graph.CreateEntity", err)
	}

	if entityType == TypeRelationType {
		s.relationTypesChanged()
	}
	s.emit(ctx, Change{
		Kind:     ChangeNodeUpsert,
		EntityID: id,
		Entity: &Entity{
			ID: id, EntityType: entityType, Name: name, Label: label,
			SortOrder: sortOrder, IsActive: true, CreatedAt: ts, UpdatedAt: ts,
		},
	})
	return id, nil
}

// CreateEntityWithProperties inserts an entity and its properties in one
// transaction.
func (s *Store) CreateEntityWithProperties(ctx context.Context, e NewEntity) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *Store) error {
		var err error
		id, err = tx.CreateEntityWithSort(ctx, e.Type, e.Name, e.Label, e.SortOrder)
		if err != nil {
			return err
		}
		return tx.SetProperties(ctx, id, e.Properties)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// EnsureEntity returns the id of the (type, name) entity, creating it with
// label and sortOrder when absent. An existing entity is left untouched.
func (s *Store) EnsureEntity(ctx context.Context, entityType EntityType, name, label string, sortOrder int64) (id int64, created bool, err error) {
	existing, err := s.FindEntity(ctx, entityType, name)
	if err == nil {
		return existing.ID, false, nil
	}
	if !apperr.IsNotFound(err) {
		return 0, false, err
	}
	id, err = s.CreateEntityWithSort(ctx, entityType, name, label, sortOrder)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id int64) (e *Entity, err error) {
	defer s.track("get_entity", time.Now(), &err)

	e, err = scanEntity(s.q.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("graph.GetEntity", "entity %d", id)
	}
	if err != nil {
		return nil, storeErr("graph.GetEntity", err)
	}
	return e, nil
}

// FindEntity fetches an entity by (type, name).
func (s *Store) FindEntity(ctx context.Context, entityType EntityType, name string) (e *Entity, err error) {
	defer s.track("find_entity", time.Now(), &err)

	e, err = scanEntity(s.q.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = $1 AND name = $2`,
		string(entityType), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("graph.FindEntity", "%s %q", entityType, name)
	}
	if err != nil {
		return nil, storeErr("graph.FindEntity", err)
	}
	return e, nil
}

// ListEntities returns all entities of a type ordered by sort order, then id.
func (s *Store) ListEntities(ctx context.Context, entityType EntityType) (entities []Entity, err error) {
	defer s.track("list_entities", time.Now(), &err)

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = $1 ORDER BY sort_order, id`,
		string(entityType))
	if err != nil {
		return nil, storeErr("graph.ListEntities", err)
	}
	entities, err = scanEntities(rows)
	if err != nil {
		return nil, storeErr("graph.ListEntities", err)
	}
	return entities, nil
}

// CountEntities returns the number of entities of a type.
func (s *Store) CountEntities(ctx context.Context, entityType EntityType) (n int64, err error) {
	defer s.track("count_entities", time.Now(), &err)

	if err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE entity_type = $1`, string(entityType)).Scan(&n); err != nil {
		return 0, storeErr("graph.CountEntities", err)
	}
	return n, nil
}

// UpdateEntity changes an entity's name and label.
func (s *Store) UpdateEntity(ctx context.Context, id int64, name, label string) (err error) {
	defer s.track("update_entity", time.Now(), &err)

	existing, err := s.GetEntity(ctx, id)
	if err != nil {
		return err
	}

	ts := now()
	res, err := s.q.ExecContext(ctx,
		`UPDATE entities SET name = $1, label = $2, updated_at = $3 WHERE id = $4`,
		name, label, ts, id)
	if err != nil {
		return storeErr("graph.UpdateEntity", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("graph.UpdateEntity", "entity %d", id)
	}

	if existing.EntityType == TypeRelationType {
		s.relationTypesChanged()
	}
	existing.Name, existing.Label, existing.UpdatedAt = name, label, ts
	s.emit(ctx, Change{Kind: ChangeNodeUpsert, EntityID: id, Entity: existing})
	return nil
}

// SetActive toggles an entity's is_active flag.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) (err error) {
	defer s.track("set_active", time.Now(), &err)

	existing, err := s.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	ts := now()
	if _, err = s.q.ExecContext(ctx,
		`UPDATE entities SET is_active = $1, updated_at = $2 WHERE id = $3`, active, ts, id); err != nil {
		return storeErr("graph.SetActive", err)
	}
	existing.IsActive, existing.UpdatedAt = active, ts
	s.emit(ctx, Change{Kind: ChangeNodeUpsert, EntityID: id, Entity: existing})
	return nil
}

// DeleteEntity removes an entity together with its properties and every
// relation in which it is source or target. The delete is atomic.
//
// A relation type is refused, with apperr.ErrInUse in the chain, while any
// relation still has that type.
func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Store) (err error) {
		defer tx.track("delete_entity", time.Now(), &err)

		existing, err := tx.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if existing.EntityType == TypeRelationType {
			var refs int64
			if err = tx.q.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM relations WHERE relation_type_id = $1`, id).Scan(&refs); err != nil {
				return storeErr("graph.DeleteEntity", err)
			}
			if refs > 0 {
				return apperr.StoreFailure("graph.DeleteEntity",
					fmt.Errorf("%w: relation type %q is used by %d relations", apperr.ErrInUse, existing.Name, refs))
			}
		}

		edges, err := tx.relationsTouching(ctx, id)
		if err != nil {
			return err
		}

		if _, err = tx.q.ExecContext(ctx, `DELETE FROM entity_properties WHERE entity_id = $1`, id); err != nil {
			return storeErr("graph.DeleteEntity", err)
		}
		if _, err = tx.q.ExecContext(ctx, `DELETE FROM relations WHERE source_id = $1 OR target_id = $1`, id); err != nil {
			return storeErr("graph.DeleteEntity", err)
		}
		if _, err = tx.q.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id); err != nil {
			return storeErr("graph.DeleteEntity", err)
		}

		if existing.EntityType == TypeRelationType {
			tx.relationTypesChanged()
		}
		for _, r := range edges {
			tx.emit(ctx, Change{Kind: ChangeEdgeDelete, Relation: r.RelationType, SourceID: r.SourceID, TargetID: r.TargetID})
		}
		tx.emit(ctx, Change{Kind: ChangeNodeDelete, EntityID: id, Entity: existing})
		return nil
	})
}

// ListAllEntities returns every entity ordered by id. Used by full resyncs.
func (s *Store) ListAllEntities(ctx context.Context) (entities []Entity, err error) {
	defer s.track("list_all_entities", time.Now(), &err)

	rows, err := s.q.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, storeErr("graph.ListAllEntities", err)
	}
	entities, err = scanEntities(rows)
	if err != nil {
		return nil, storeErr("graph.ListAllEntities", err)
	}
	return entities, nil
}

// GetProperty returns the value of key on an entity. ok is false when the
// key is absent, which is distinct from an empty value.
func (s *Store) GetProperty(ctx context.Context, entityID int64, key string) (value string, ok bool, err error) {
	defer s.track("get_property", time.Now(), &err)

	err = s.q.QueryRowContext(ctx,
		`SELECT value FROM entity_properties WHERE entity_id = $1 AND key = $2`,
		entityID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("graph.GetProperty", err)
	}
	return value, true, nil
}

// SetProperty upserts key=value on an entity.
func (s *Store) SetProperty(ctx context.Context, entityID int64, key, value string) (err error) {
	defer s.track("set_property", time.Now(), &err)

	if err = s.setProperty(ctx, entityID, key, value); err != nil {
		return err
	}
	s.emit(ctx, Change{Kind: ChangeNodeUpsert, EntityID: entityID, Properties: map[string]string{key: value}})
	return nil
}

func (s *Store) setProperty(ctx context.Context, entityID int64, key, value string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entity_properties (entity_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_id, key) DO UPDATE SET value = excluded.value
	`, entityID, key, value)
	if err != nil {
		return storeErr("graph.SetProperty", err)
	}
	return nil
}

// SwapProperty sets key to value only while the stored value still equals
// *old, or while the property is absent when old is nil. It reports whether
// the write happened. A concurrent writer that changed the property first
// makes it return false instead of overwriting that change.
func (s *Store) SwapProperty(ctx context.Context, entityID int64, key string, old *string, value string) (swapped bool, err error) {
	defer s.track("swap_property", time.Now(), &err)

	var res sql.Result
	if old == nil {
		res, err = s.q.ExecContext(ctx, `
			INSERT INTO entity_properties (entity_id, key, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (entity_id, key) DO NOTHING
		`, entityID, key, value)
	} else {
		res, err = s.q.ExecContext(ctx,
			`UPDATE entity_properties SET value = $1 WHERE entity_id = $2 AND key = $3 AND value = $4`,
			value, entityID, key, *old)
	}
	if err != nil {
		return false, storeErr("graph.SwapProperty", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("graph.SwapProperty", err)
	}
	if n == 0 {
		return false, nil
	}
	s.emit(ctx, Change{Kind: ChangeNodeUpsert, EntityID: entityID, Properties: map[string]string{key: value}})
	return true, nil
}

// SetProperties upserts several properties in one transaction.
func (s *Store) SetProperties(ctx context.Context, entityID int64, props map[string]string) error {
	if len(props) == 0 {
		return nil
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return s.WithTx(ctx, func(tx *Store) (err error) {
		defer tx.track("set_properties", time.Now(), &err)

		written := make(map[string]string, len(props))
		for _, k := range keys {
			if err = tx.setProperty(ctx, entityID, k, props[k]); err != nil {
				return err
			}
			written[k] = props[k]
		}
		tx.emit(ctx, Change{Kind: ChangeNodeUpsert, EntityID: entityID, Properties: written})
		return nil
	})
}

// DeleteProperty removes key from an entity. Removing an absent key is not
// an error.
func (s *Store) DeleteProperty(ctx context.Context, entityID int64, key string) (err error) {
	defer s.track("delete_property", time.Now(), &err)

	res, err := s.q.ExecContext(ctx,
		`DELETE FROM entity_properties WHERE entity_id = $1 AND key = $2`, entityID, key)
	if err != nil {
		return storeErr("graph.DeleteProperty", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.emit(ctx, Change{Kind: ChangeNodeUpsert, EntityID: entityID, DeletedKeys: []string{key}})
	}
	return nil
}

// Properties returns every property of an entity.
func (s *Store) Properties(ctx context.Context, entityID int64) (props map[string]string, err error) {
	defer s.track("properties", time.Now(), &err)

	rows, err := s.q.QueryContext(ctx,
		`SELECT key, value FROM entity_properties WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, storeErr("graph.Properties", err)
	}
	defer rows.Close()

	props = make(map[string]string)
	for rows.Next() {
		var k, v string
		if err = rows.Scan(&k, &v); err != nil {
			return nil, storeErr("graph.Properties", err)
		}
		props[k] = v
	}
	if err = rows.Err(); err != nil {
		return nil, storeErr("graph.Properties", err)
	}
	return props, nil
}

// ListAllProperties returns every property keyed by entity id.
func (s *Store) ListAllProperties(ctx context.Context) (all map[int64]map[string]string, err error) {
	defer s.track("list_all_properties", time.Now(), &err)

	rows, err := s.q.QueryContext(ctx, `SELECT entity_id, key, value FROM entity_properties ORDER BY entity_id, key`)
	if err != nil {
		return nil, storeErr("graph.ListAllProperties", err)
	}
	defer rows.Close()

	all = make(map[int64]map[string]string)
	for rows.Next() {
		var id int64
		var k, v string
		if err = rows.Scan(&id, &k, &v); err != nil {
			return nil, storeErr("graph.ListAllProperties", err)
		}
		if all[id] == nil {
			all[id] = make(map[string]string)
		}
		all[id][k] = v
	}
	if err = rows.Err(); err != nil {
		return nil, storeErr("graph.ListAllProperties", err)
	}
	return all, nil
}
