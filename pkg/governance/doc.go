// Package governance applies workflow transitions to governed entities.
//
// The workflow engine only answers whether a transition is allowed.
// Service.Transition is the caller side: it reads the entity's current
// status, asks the engine, enforces required outcomes, writes the new
// status in the same transaction, and records who did it in the audit log.
package governance
