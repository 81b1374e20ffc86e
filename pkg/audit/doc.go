// Package audit records who changed what in the governance graph.
//
// Every event names an actor, an action, and a target entity:
//
//	event := audit.NewEvent(actorID, audit.EventTypeStatusTransition, "proposal", proposalID,
//		map[string]interface{}{"from": "draft", "to": "submitted"})
//	audit.Record(ctx, auditLogger, logger, event)
//
// Record never fails the caller: a write error is logged at warn level and
// dropped.
//
// Destinations:
//
//   - FileLogger: newline-delimited JSON with size-based rotation
//   - DBLogger: an audit_logs table next to the graph tables, with Search,
//     GetStats, Export and retention Cleanup
//   - MultiLogger: fan-out to several destinations
//   - NoOp: discards everything
package audit
