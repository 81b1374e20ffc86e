package authz

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/observability"
)

// PermissionResolver answers role-based questions by walking
// user --has_role--> role --has_permission--> permission.
//
// Grants are plain relations; the write helpers here are conveniences over
// the graph store that keep the relation names in one place.
type PermissionResolver struct {
	store   *graph.Store
	metrics *observability.Metrics
	logger  *logrus.Logger
}

// NewPermissionResolver creates a resolver over store.
func NewPermissionResolver(store *graph.Store) *PermissionResolver {
	return &PermissionResolver{
		store:   store,
		metrics: store.Metrics(),
		logger:  store.Logger(),
	}
}

// WithStore returns a resolver bound to another store, typically the
// transaction-scoped store handed to a graph.Store.WithTx callback.
func (r *PermissionResolver) WithStore(store *graph.Store) *PermissionResolver {
	cp := *r
	cp.store = store
	return &cp
}

// PermissionsForUser returns the union of the permission codes granted by
// every role the user holds. A user with no roles has no permissions.
func (r *PermissionResolver) PermissionsForUser(ctx context.Context, userID int64) (Permissions, error) {
	roles, err := r.store.FindTargets(ctx, userID, graph.RelHasRole)
	if err != nil {
		return Permissions{}, err
	}

	result := NewPermissions()
	for _, role := range roles {
		perms, err := r.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return Permissions{}, err
		}
		result = result.Union(perms)
	}

	r.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"roles":       len(roles),
		"permissions": result.Len(),
	}).Debug("Resolved user permissions")
	return result, nil
}

// PermissionsForRole returns the permission codes granted by one role.
func (r *PermissionResolver) PermissionsForRole(ctx context.Context, roleID int64) (Permissions, error) {
	perms, err := r.store.FindTargets(ctx, roleID, graph.RelHasPermission)
	if err != nil {
		return Permissions{}, err
	}
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Name)
	}
	return NewPermissions(codes...), nil
}

// HasPermission reports whether the user holds code through any role.
func (r *PermissionResolver) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	perms, err := r.PermissionsForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := perms.Has(code)
	r.metrics.AuthzDecision("rbac", allowed)
	return allowed, nil
}

// RolesForUser returns the role entities a user holds.
func (r *PermissionResolver) RolesForUser(ctx context.Context, userID int64) ([]graph.Entity, error) {
	return r.store.FindTargets(ctx, userID, graph.RelHasRole)
}

// UsersWithRole returns the user entities holding a role.
func (r *PermissionResolver) UsersWithRole(ctx context.Context, roleID int64) ([]graph.Entity, error) {
	return r.store.FindSources(ctx, roleID, graph.RelHasRole)
}

// AssignRole gives a user a role. Assigning a held role is a no-op.
func (r *PermissionResolver) AssignRole(ctx context.Context, userID, roleID int64) error {
	return r.store.CreateRelation(ctx, graph.RelHasRole, userID, roleID)
}

// RevokeRole removes a role from a user.
func (r *PermissionResolver) RevokeRole(ctx context.Context, userID, roleID int64) error {
	return r.store.DeleteRelation(ctx, graph.RelHasRole, userID, roleID)
}

// ReplaceRoles makes roleIDs the user's exact role set, atomically.
func (r *PermissionResolver) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return r.store.ReplaceTargets(ctx, userID, graph.RelHasRole, roleIDs)
}

// Grant adds a permission to a role.
func (r *PermissionResolver) Grant(ctx context.Context, roleID, permissionID int64) error {
	return r.store.CreateRelation(ctx, graph.RelHasPermission, roleID, permissionID)
}

// Revoke removes a permission from a role.
func (r *PermissionResolver) Revoke(ctx context.Context, roleID, permissionID int64) error {
	return r.store.DeleteRelation(ctx, graph.RelHasPermission, roleID, permissionID)
}

// ToggleGrant grants the permission when the role lacks it and revokes it
// otherwise. It returns whether the role holds the permission afterwards.
func (r *PermissionResolver) ToggleGrant(ctx context.Context, roleID, permissionID int64) (granted bool, err error) {
	err = r.store.WithTx(ctx, func(tx *graph.Store) error {
		exists, err := tx.RelationExists(ctx, graph.RelHasPermission, roleID, permissionID)
		if err != nil {
			return err
		}
		if exists {
			return tx.DeleteRelation(ctx, graph.RelHasPermission, roleID, permissionID)
		}
		granted = true
		return tx.CreateRelation(ctx, graph.RelHasPermission, roleID, permissionID)
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}
