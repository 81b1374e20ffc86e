package authz

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/observability"
)

// CapabilityPrefix marks a tor_function property as a capability flag.
const CapabilityPrefix = "can_"

// Known capability keys. Any property with CapabilityPrefix is honoured;
// these are the ones existing callers check.
const (
	CanCallMeetings      = "can_call_meetings"
	CanManageAgenda      = "can_manage_agenda"
	CanRecordDecisions   = "can_record_decisions"
	CanReviewSuggestions = "can_review_suggestions"
	CanCreateProposals   = "can_create_proposals"
	CanApproveProposals  = "can_approve_proposals"
)

// CapabilityResolver answers resource-scoped questions by walking
//
//	user --fills_position--> tor_function --belongs_to_X--> resource
//
// and reading "true"-valued can_* properties on the function.
//
// Every check fails closed: when a relation type cannot be resolved the
// answer is false, never an error. Such gaps are logged at debug level and
// counted in the configuration gap metric so they stay observable.
type CapabilityResolver struct {
	store   *graph.Store
	metrics *observability.Metrics
	logger  *logrus.Logger
}

// NewCapabilityResolver creates a resolver over store.
func NewCapabilityResolver(store *graph.Store) *CapabilityResolver {
	return &CapabilityResolver{
		store:   store,
		metrics: store.Metrics(),
		logger:  store.Logger(),
	}
}

const capabilityJoin = `
	FROM entity_properties ep
	JOIN entities func
		ON ep.entity_id = func.id
		AND func.entity_type = $1
	JOIN relations r_fills
		ON r_fills.target_id = func.id
		AND r_fills.source_id = $2
		AND r_fills.relation_type_id = $3
	JOIN relations r_belongs
		ON r_belongs.source_id = func.id
		AND r_belongs.target_id = $4
		AND r_belongs.relation_type_id = $5
`

// relationIDs resolves fills_position and belongsTo. ok is false when either
// is missing.
func (c *CapabilityResolver) relationIDs(ctx context.Context, belongsTo string) (fillsID, belongsID int64, ok bool, err error) {
	fillsID, ok, err = c.store.RelationTypeID(ctx, graph.RelFillsPosition)
	if err != nil {
		return 0, 0, false, err
	}
	if !ok {
		c.gap(graph.RelFillsPosition)
		return 0, 0, false, nil
	}
	belongsID, ok, err = c.store.RelationTypeID(ctx, belongsTo)
	if err != nil {
		return 0, 0, false, err
	}
	if !ok {
		c.gap(belongsTo)
		return 0, 0, false, nil
	}
	return fillsID, belongsID, true, nil
}

func (c *CapabilityResolver) gap(relation string) {
	c.metrics.ConfigGap("relation_type")
	c.logger.WithField("relation_type", relation).Debug("Capability check against unknown relation type, denying")
}

// HasResourceCapability reports whether any position the user fills in
// resourceID carries capability = "true".
func (c *CapabilityResolver) HasResourceCapability(ctx context.Context, userID, resourceID int64, belongsTo, capability string) (bool, error) {
	fillsID, belongsID, ok, err := c.relationIDs(ctx, belongsTo)
	if err != nil {
		return false, err
	}
	if !ok {
		c.metrics.AuthzDecision("abac", false)
		return false, nil
	}

	var n int64
	err = c.store.QueryRowContext(ctx, `SELECT COUNT(*) `+capabilityJoin+`
		WHERE ep.key = $6 AND ep.value = 'true'`,
		string(graph.TypeTorFunction), userID, fillsID, resourceID, belongsID, capability,
	).Scan(&n)
	if err != nil {
		return false, apperr.StoreFailure("authz.HasResourceCapability", err)
	}

	allowed := n > 0
	c.metrics.AuthzDecision("abac", allowed)
	return allowed, nil
}

// LoadCapabilities returns every can_* key set to "true" on the positions
// the user fills in a ToR.
func (c *CapabilityResolver) LoadCapabilities(ctx context.Context, userID, torID int64) (Permissions, error) {
	return c.LoadResourceCapabilities(ctx, userID, torID, graph.RelBelongsToTor)
}

// LoadResourceCapabilities is LoadCapabilities for any belongs_to_* relation.
func (c *CapabilityResolver) LoadResourceCapabilities(ctx context.Context, userID, resourceID int64, belongsTo string) (Permissions, error) {
	fillsID, belongsID, ok, err := c.relationIDs(ctx, belongsTo)
	if err != nil {
		return Permissions{}, err
	}
	if !ok {
		return NewPermissions(), nil
	}

	rows, err := c.store.QueryContext(ctx, `SELECT DISTINCT ep.key `+capabilityJoin+`
		WHERE ep.key LIKE 'can_%' AND ep.value = 'true'`,
		string(graph.TypeTorFunction), userID, fillsID, resourceID, belongsID,
	)
	if err != nil {
		return Permissions{}, apperr.StoreFailure("authz.LoadCapabilities", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return Permissions{}, apperr.StoreFailure("authz.LoadCapabilities", err)
		}
		// LIKE treats '_' as a wildcard
		if strings.HasPrefix(key, CapabilityPrefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return Permissions{}, apperr.StoreFailure("authz.LoadCapabilities", err)
	}
	return NewPermissions(keys...), nil
}
