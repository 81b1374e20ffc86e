package mirror

import (
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/quorum/pkg/graph"
)

// DefaultSubjectPrefix prefixes every published subject.
const DefaultSubjectPrefix = "quorum.graph"

// Event is the wire form of one graph change.
type Event struct {
	ID        string           `json:"id"`
	Kind      graph.ChangeKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Node      *NodePayload     `json:"node,omitempty"`
	Edge      *EdgePayload     `json:"edge,omitempty"`
}

// NodePayload describes an entity change. Entity is absent when only
// properties changed; Properties carries just the written keys.
type NodePayload struct {
	ID          int64             `json:"id"`
	Entity      *graph.Entity     `json:"entity,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	DeletedKeys []string          `json:"deleted_keys,omitempty"`
}

// EdgePayload describes a relation change.
type EdgePayload struct {
	RelationType string `json:"relation_type"`
	SourceID     int64  `json:"source_id"`
	TargetID     int64  `json:"target_id"`
}

// NewEvent converts a committed change into an event with a fresh id.
func NewEvent(change graph.Change) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      change.Kind,
		Timestamp: time.Now().UTC(),
	}
	switch change.Kind {
	case graph.ChangeEdgeUpsert, graph.ChangeEdgeDelete:
		ev.Edge = &EdgePayload{
			RelationType: change.Relation,
			SourceID:     change.SourceID,
			TargetID:     change.TargetID,
		}
	default:
		ev.Node = &NodePayload{
			ID:          change.EntityID,
			Entity:      change.Entity,
			Properties:  change.Properties,
			DeletedKeys: change.DeletedKeys,
		}
	}
	return ev
}

// Subject is where an event of kind is published: "<prefix>.<kind>".
func Subject(prefix string, kind graph.ChangeKind) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(kind)
}
