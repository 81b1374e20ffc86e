// Package authz resolves what a user may do.
//
// Two models live side by side on the same graph:
//
//   - Role based: PermissionResolver walks has_role then has_permission and
//     returns the union of permission codes across every role held.
//   - Attribute based: CapabilityResolver walks fills_position to the
//     tor_function positions a user holds in one resource and reads their
//     can_* flags.
//
// Guard combines them the way handlers need: a global bypass permission
// (tor.edit by default) first, then the resource capability.
//
//	guard := authz.NewGuard(authz.NewCapabilityResolver(store))
//	if err := guard.Require(ctx, actor, torID, authz.CanCallMeetings); err != nil {
//		return err // apperr.KindPermissionDenied, code "can_call_meetings"
//	}
//
// Capability checks fail closed. A missing relation type, a missing flag and
// a flag set to anything other than "true" all read as false.
package authz
