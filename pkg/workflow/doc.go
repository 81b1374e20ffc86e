// Package workflow is a data-driven state machine engine. Each scope (a
// governed entity type such as "proposal") has statuses and transitions
// stored as graph entities, so workflows change without a deploy.
//
// A transition is taken only when it is configured for the exact
// (scope, from, to) triple, the actor holds its required permission, and
// its optional "key=value" condition holds against the governed entity's
// properties. Anything else is rejected:
//
//	_, err := engine.ValidateTransition(ctx, "proposal", "draft", "submitted", perms, props)
//	switch {
//	case apperr.IsPermissionDenied(err):
//		// apperr.CodeOf(err) names the missing permission
//	case apperr.IsInvalidTransition(err):
//		// not configured, ambiguous, or condition unmet
//	}
//
// The engine never writes. Persisting the new status is the caller's job;
// see package governance.
//
// Builder authors statuses and transitions and keeps the configuration
// consistent: no duplicate triples, no transitions out of terminal
// statuses, no deleting statuses still referenced.
package workflow
