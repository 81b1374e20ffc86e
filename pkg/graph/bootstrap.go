package graph

import (
	"context"
	"sort"
)

// EnsureRelationTypes creates any built-in relation type that does not yet
// exist. Existing rows are left as they are.
func EnsureRelationTypes(ctx context.Context, s *Store) error {
	builtIn := BuiltInRelationTypes()
	names := make([]string, 0, len(builtIn))
	for name := range builtIn {
		names = append(names, name)
	}
	sort.Strings(names)

	return s.WithTx(ctx, func(tx *Store) error {
		for _, name := range names {
			if _, _, err := tx.EnsureEntity(ctx, TypeRelationType, name, builtIn[name], 0); err != nil {
				return err
			}
		}
		return nil
	})
}
