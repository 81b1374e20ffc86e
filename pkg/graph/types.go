package graph

import (
	"time"
)

// EntityType is the free-form kind tag of an entity. Business kinds such as
// "proposal" or "meeting" are plain strings; the constants below name the
// kinds the core itself special-cases.
type EntityType string

const (
	TypeRelationType       EntityType = "relation_type"
	TypeWorkflowStatus     EntityType = "workflow_status"
	TypeWorkflowTransition EntityType = "workflow_transition"
	TypeTorFunction        EntityType = "tor_function"
	TypeUser               EntityType = "user"
	TypeRole               EntityType = "role"
	TypePermission         EntityType = "permission"
)

// Well-known relation type names.
const (
	RelHasRole        = "has_role"
	RelHasPermission  = "has_permission"
	RelFillsPosition  = "fills_position"
	RelBelongsToTor   = "belongs_to_tor"
	RelTransitionFrom = "transition_from"
	RelTransitionTo   = "transition_to"
)

// BuiltInRelationTypes returns the relation types the core depends on, with
// their display labels.
func BuiltInRelationTypes() map[string]string {
	return map[string]string{
		RelHasRole:        "Has Role",
		RelHasPermission:  "Has Permission",
		RelFillsPosition:  "Fills Position",
		RelBelongsToTor:   "Belongs to ToR",
		RelTransitionFrom: "Transition From",
		RelTransitionTo:   "Transition To",
	}
}

// Entity is a typed, named node. (EntityType, Name) is unique.
type Entity struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	Name       string     `json:"name"`
	Label      string     `json:"label"`
	SortOrder  int64      `json:"sort_order"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Relation is a typed directed edge. RelationType is the name of the
// relation_type entity referenced by RelationTypeID.
type Relation struct {
	ID             int64  `json:"id"`
	RelationTypeID int64  `json:"relation_type_id"`
	RelationType   string `json:"relation_type"`
	SourceID       int64  `json:"source_id"`
	TargetID       int64  `json:"target_id"`
}

// NewEntity describes an entity to create.
type NewEntity struct {
	Type       EntityType
	Name       string
	Label      string
	SortOrder  int64
	Properties map[string]string
}
