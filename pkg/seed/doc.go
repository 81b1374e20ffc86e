// Package seed loads the governance ontology from a YAML file: relation
// types, permissions, roles with their grants, and workflows.
//
// Applying a document only ever adds. Entities are found or created by
// (entity_type, name), grants are added when missing, and a transition is
// skipped when one already exists for its (scope, from, to). Editing the
// file and applying it again therefore picks up new items without
// disturbing data changed through the authoring APIs.
//
//	doc, err := seed.LoadFile("governance.yaml")
//	if err != nil {
//	    return err
//	}
//	report, err := seed.NewApplier(store).Apply(ctx, doc)
//
// A Watcher re-applies the file whenever it changes on disk.
package seed
