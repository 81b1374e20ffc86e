// Package graph stores the entity-relation-property model everything else is
// built on.
//
// # Model
//
// An entity is a typed, named node; (entity_type, name) is unique. Each
// entity carries an open set of string properties. A relation is a directed
// edge whose type is itself an entity of type "relation_type", so new
// relation kinds are data, not schema.
//
// Roles, permissions, positions, workflow statuses and transitions are all
// entities; their links are relations. Callers refer to relation types by
// name and the store resolves names to ids through a small LRU cache.
//
// # Lookup semantics
//
// Reads that name an unknown relation type return empty results; writes
// that name one fail with apperr.KindConfigurationGap. Entity lookups that
// match nothing fail with apperr.KindNotFound. A property that is absent is
// reported as such, distinct from an empty value.
//
// # Transactions
//
//	err := store.WithTx(ctx, func(tx *graph.Store) error {
//		id, err := tx.CreateEntity(ctx, "proposal", "p-1", "Proposal 1")
//		if err != nil {
//			return err
//		}
//		return tx.SetProperty(ctx, id, "status", "draft")
//	})
//
// Inside the callback use only tx. With SQLite the pool holds a single
// connection, so a query through the outer store would wait on the
// transaction forever.
//
// # Change notification
//
// A Notifier registered with WithNotifier sees every committed mutation.
// Changes made inside a transaction are delivered after commit and dropped
// on rollback. pkg/mirror uses this to publish the graph to a read model.
package graph
