package authz

import (
	"context"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/graph"
)

// DefaultBypassPermission lets holders skip resource capability checks.
const DefaultBypassPermission = "tor.edit"

// Actor is the caller identity a guard checks: the user id plus the
// permission codes already loaded into the session.
type Actor struct {
	UserID      int64
	Permissions Permissions
}

// Guard is the two-phase handler check: a global bypass permission first,
// then the per-resource capability.
type Guard struct {
	capabilities *CapabilityResolver
	bypass       []string
	belongsTo    string
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithBypassPermission overrides the global permissions that skip the
// capability lookup; holding any one of them is enough. No codes, or only
// empty ones, disables the bypass.
func WithBypassPermission(codes ...string) GuardOption {
	return func(g *Guard) { g.bypass = codes }
}

// WithBelongsTo sets the relation linking positions to the guarded resource
// kind. Defaults to belongs_to_tor.
func WithBelongsTo(relation string) GuardOption {
	return func(g *Guard) { g.belongsTo = relation }
}

// NewGuard creates a guard over a capability resolver.
func NewGuard(capabilities *CapabilityResolver, opts ...GuardOption) *Guard {
	g := &Guard{
		capabilities: capabilities,
		bypass:       []string{DefaultBypassPermission},
		belongsTo:    graph.RelBelongsToTor,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Require checks capability against resourceID through the guard's
// default belongs-to relation.
func (g *Guard) Require(ctx context.Context, actor Actor, resourceID int64, capability string) error {
	return g.RequireResourceCapability(ctx, actor, resourceID, g.belongsTo, capability)
}

// RequireResourceCapability returns nil when the actor may exercise
// capability on resourceID, reached through the given belongs-to relation,
// and a PermissionDenied error carrying the capability otherwise. Holders of
// a bypass permission are admitted without touching the store.
func (g *Guard) RequireResourceCapability(ctx context.Context, actor Actor, resourceID int64, relation, capability string) error {
	if actor.Permissions.HasAny(g.bypass...) {
		g.capabilities.metrics.AuthzDecision("guard", true)
		return nil
	}

	ok, err := g.capabilities.HasResourceCapability(ctx, actor.UserID, resourceID, relation, capability)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.PermissionDenied("authz.Guard", capability)
	}
	return nil
}
