package graph

import "context"

// ChangeKind identifies a graph mutation reported to a Notifier.
type ChangeKind string

const (
	ChangeNodeUpsert ChangeKind = "node.upsert"
	ChangeNodeDelete ChangeKind = "node.delete"
	ChangeEdgeUpsert ChangeKind = "edge.upsert"
	ChangeEdgeDelete ChangeKind = "edge.delete"
)

// Change describes one committed mutation.
//
// Node changes always carry EntityID. Entity is set when the node's columns
// were written; Properties holds only the keys written by this mutation and
// DeletedKeys the keys removed. Edge changes carry Relation, SourceID and
// TargetID.
type Change struct {
	Kind        ChangeKind
	EntityID    int64
	Entity      *Entity
	Properties  map[string]string
	DeletedKeys []string
	Relation    string
	SourceID    int64
	TargetID    int64
}

// Notifier receives committed graph mutations.
//
// Notify must not block on delivery and has no way to fail the mutation that
// produced the change. Implementations that deliver to a remote system queue
// the change and return.
type Notifier interface {
	Notify(ctx context.Context, change Change)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, change Change)

// Notify calls f(ctx, change).
func (f NotifierFunc) Notify(ctx context.Context, change Change) {
	f(ctx, change)
}
