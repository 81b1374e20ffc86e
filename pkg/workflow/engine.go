package workflow

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/observability"
)

var engineTracer = otel.Tracer("quorum/workflow/engine")

// Engine validates and enumerates status transitions. It holds no state of
// its own: the current status of a governed entity is its "status"
// property, and every transition is a workflow_transition entity.
type Engine struct {
	store   *graph.Store
	metrics *observability.Metrics
	logger  *logrus.Logger
}

// NewEngine creates an engine over store.
func NewEngine(store *graph.Store) *Engine {
	return &Engine{
		store:   store,
		metrics: store.Metrics(),
		logger:  store.Logger(),
	}
}

// WithStore returns an engine bound to another store, typically a
// transaction-scoped one.
func (e *Engine) WithStore(store *graph.Store) *Engine {
	cp := *e
	cp.store = store
	return &cp
}

// transitionSelect returns every transition row with its endpoints resolved
// through the transition_from / transition_to relations. Callers append
// further conditions; $1 is always the scope.
const transitionSelect = `
	SELECT t.id, t.name, t.label,
		s_from.id, COALESCE(p_from_code.value, ''),
		s_to.id, COALESCE(p_to_code.value, ''),
		COALESCE(p_perm.value, ''),
		COALESCE(p_cond.value, ''),
		COALESCE(p_outcome.value, 'false')
	FROM entities t
	JOIN entity_properties p_scope
		ON p_scope.entity_id = t.id AND p_scope.key = 'entity_type_scope'
	JOIN relations r_from ON r_from.source_id = t.id
	JOIN entities rt_from
		ON rt_from.id = r_from.relation_type_id
		AND rt_from.entity_type = 'relation_type' AND rt_from.name = 'transition_from'
	JOIN entities s_from ON s_from.id = r_from.target_id
	JOIN entity_properties p_from_code
		ON p_from_code.entity_id = s_from.id AND p_from_code.key = 'status_code'
	JOIN relations r_to ON r_to.source_id = t.id
	JOIN entities rt_to
		ON rt_to.id = r_to.relation_type_id
		AND rt_to.entity_type = 'relation_type' AND rt_to.name = 'transition_to'
	JOIN entities s_to ON s_to.id = r_to.target_id
	JOIN entity_properties p_to_code
		ON p_to_code.entity_id = s_to.id AND p_to_code.key = 'status_code'
	LEFT JOIN entity_properties p_perm
		ON p_perm.entity_id = t.id AND p_perm.key = 'required_permission'
	LEFT JOIN entity_properties p_cond
		ON p_cond.entity_id = t.id AND p_cond.key = 'condition'
	LEFT JOIN entity_properties p_outcome
		ON p_outcome.entity_id = t.id AND p_outcome.key = 'requires_outcome'
	WHERE t.entity_type = 'workflow_transition'
		AND p_scope.value = $1`

func scanTransitions(rows *sql.Rows, scope string) ([]Transition, error) {
	defer rows.Close()
	transitions := []Transition{}
	for rows.Next() {
		t := Transition{Scope: scope}
		var outcome string
		if err := rows.Scan(&t.ID, &t.Name, &t.Label,
			&t.FromStatusID, &t.FromStatusCode,
			&t.ToStatusID, &t.ToStatusCode,
			&t.RequiredPermission, &t.Condition, &outcome); err != nil {
			return nil, err
		}
		t.RequiresOutcome = outcome == "true"
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// transitionsFrom returns every configured transition leaving from, with no
// guard applied.
func (e *Engine) transitionsFrom(ctx context.Context, scope, from string) ([]Transition, error) {
	rows, err := e.store.QueryContext(ctx, transitionSelect+`
		AND p_from_code.value = $2
		ORDER BY s_to.id, t.id`, scope, from)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.transitionsFrom", err)
	}
	transitions, err := scanTransitions(rows, scope)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.transitionsFrom", err)
	}
	return transitions, nil
}

// lookup returns the transitions configured for (scope, from, to).
func (e *Engine) lookup(ctx context.Context, scope, from, to string) ([]Transition, error) {
	rows, err := e.store.QueryContext(ctx, transitionSelect+`
		AND p_from_code.value = $2
		AND p_to_code.value = $3
		ORDER BY t.id`, scope, from, to)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.lookup", err)
	}
	transitions, err := scanTransitions(rows, scope)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.lookup", err)
	}
	return transitions, nil
}

// guardPasses applies a transition's permission and condition guard.
func guardPasses(t Transition, perms PermissionSet, props map[string]string) bool {
	if t.RequiredPermission != "" && (perms == nil || !perms.Has(t.RequiredPermission)) {
		return false
	}
	return conditionMet(t.Condition, props)
}

// ValidateTransition checks that (scope, from, to) is a configured
// transition whose guard passes for this actor and entity. It writes
// nothing; the caller persists the new status.
//
// Errors:
//   - apperr.KindInvalidTransition when no transition is configured, when
//     more than one is (wrapping apperr.ErrAmbiguous), or when the
//     condition is not met
//   - apperr.KindPermissionDenied with the required permission as code
//   - apperr.KindStoreFailure when the lookup fails
func (e *Engine) ValidateTransition(ctx context.Context, scope, from, to string, perms PermissionSet, props map[string]string) (AvailableTransition, error) {
	const op = "workflow.ValidateTransition"

	ctx, span := engineTracer.Start(ctx, "ValidateTransition")
	span.SetAttributes(
		attribute.String("workflow.scope", scope),
		attribute.String("workflow.from", from),
		attribute.String("workflow.to", to),
	)
	defer span.End()

	matches, err := e.lookup(ctx, scope, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition lookup failed")
		return AvailableTransition{}, err
	}

	result, err := e.check(op, scope, from, to, matches, perms, props)
	span.SetAttributes(attribute.String("workflow.result", result))
	e.metrics.WorkflowTransition(scope, result)
	if err != nil {
		observability.WithTraceContext(ctx, e.logger).WithFields(logrus.Fields{
			"scope":  scope,
			"from":   from,
			"to":     to,
			"result": result,
		}).Debug("Workflow transition rejected")
		return AvailableTransition{}, err
	}
	return matches[0].available(), nil
}

func (e *Engine) check(op, scope, from, to string, matches []Transition, perms PermissionSet, props map[string]string) (string, error) {
	switch {
	case len(matches) == 0:
		return "undefined", apperr.InvalidTransition(op, "no transition from %q to %q in %s", from, to, scope)
	case len(matches) > 1:
		err := apperr.InvalidTransition(op, "%d transitions from %q to %q in %s", len(matches), from, to, scope)
		err.Err = apperr.ErrAmbiguous
		return "ambiguous", err
	}

	t := matches[0]
	if t.RequiredPermission != "" && (perms == nil || !perms.Has(t.RequiredPermission)) {
		return "denied", apperr.PermissionDenied(op, t.RequiredPermission)
	}
	if !conditionMet(t.Condition, props) {
		return "condition_unmet", apperr.InvalidTransition(op, "condition %q not met for %q to %q in %s", t.Condition, from, to, scope)
	}
	return "allowed", nil
}

// AvailableTransitions lists the transitions leaving from whose guard
// currently passes. A terminal status, an unknown status and a status with
// nothing configured all yield an empty list.
func (e *Engine) AvailableTransitions(ctx context.Context, scope, from string, perms PermissionSet, props map[string]string) ([]AvailableTransition, error) {
	ctx, span := engineTracer.Start(ctx, "AvailableTransitions")
	span.SetAttributes(
		attribute.String("workflow.scope", scope),
		attribute.String("workflow.from", from),
	)
	defer span.End()

	all, err := e.transitionsFrom(ctx, scope, from)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition lookup failed")
		return nil, err
	}

	available := []AvailableTransition{}
	for _, t := range all {
		if guardPasses(t, perms, props) {
			available = append(available, t.available())
		}
	}
	span.SetAttributes(attribute.Int("workflow.available", len(available)))
	return available, nil
}

// InitialStatus returns the code of the scope's initial status. A scope
// without one is a configuration gap.
func (e *Engine) InitialStatus(ctx context.Context, scope string) (string, error) {
	statuses, err := listStatuses(ctx, e.store, scope)
	if err != nil {
		return "", err
	}
	for _, s := range statuses {
		if s.IsInitial {
			return s.Code, nil
		}
	}
	e.metrics.ConfigGap("workflow_initial_status")
	return "", apperr.ConfigurationGap("workflow.InitialStatus", scope)
}

// CurrentStatus returns the entity's "status" property, falling back to the
// scope's initial status when the entity has none yet.
func (e *Engine) CurrentStatus(ctx context.Context, scope string, entityID int64) (string, error) {
	status, ok, err := e.store.GetProperty(ctx, entityID, PropStatus)
	if err != nil {
		return "", err
	}
	if ok && status != "" {
		return status, nil
	}
	return e.InitialStatus(ctx, scope)
}
