package workflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/graph"
)

// Builder authors workflows: the statuses and transitions of each scope.
// Every mutating call runs in one transaction.
type Builder struct {
	store *graph.Store
}

// NewBuilder creates a builder over store.
func NewBuilder(store *graph.Store) *Builder {
	return &Builder{store: store}
}

// StatusInput describes a status to create.
type StatusInput struct {
	Scope      string
	Code       string
	Label      string
	Order      int64
	IsInitial  bool
	IsTerminal bool
}

// StatusUpdate carries the mutable fields of a status. The scope and code
// of a status never change.
type StatusUpdate struct {
	Label      string
	Order      int64
	IsInitial  bool
	IsTerminal bool
}

// TransitionInput describes a transition to create.
type TransitionInput struct {
	Scope              string
	FromStatusID       int64
	ToStatusID         int64
	Label              string
	RequiredPermission string
	RequiresOutcome    bool
	Condition          string
}

// TransitionUpdate carries the mutable fields of a transition. To move a
// transition between statuses, delete it and create a new one.
type TransitionUpdate struct {
	Label              string
	RequiredPermission string
	RequiresOutcome    bool
	Condition          string
}

// ListScopes returns every scope that has statuses, with status and
// transition counts, ordered by scope.
func (b *Builder) ListScopes(ctx context.Context) ([]Scope, error) {
	rows, err := b.store.QueryContext(ctx, `
		SELECT p.value, COUNT(DISTINCT e.id), COALESCE(MAX(tc.transition_count), 0)
		FROM entities e
		JOIN entity_properties p ON p.entity_id = e.id AND p.key = 'entity_type_scope'
		LEFT JOIN (
			SELECT pt.value AS scope, COUNT(*) AS transition_count
			FROM entities et
			JOIN entity_properties pt ON pt.entity_id = et.id AND pt.key = 'entity_type_scope'
			WHERE et.entity_type = 'workflow_transition'
			GROUP BY pt.value
		) tc ON tc.scope = p.value
		WHERE e.entity_type = 'workflow_status'
		GROUP BY p.value
		ORDER BY p.value
	`)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.ListScopes", err)
	}
	defer rows.Close()

	scopes := []Scope{}
	for rows.Next() {
		var s Scope
		if err := rows.Scan(&s.Scope, &s.StatusCount, &s.TransitionCount); err != nil {
			return nil, apperr.StoreFailure("workflow.ListScopes", err)
		}
		scopes = append(scopes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StoreFailure("workflow.ListScopes", err)
	}
	return scopes, nil
}

// ListStatuses returns the statuses of a scope ordered by their order
// property, then id.
func (b *Builder) ListStatuses(ctx context.Context, scope string) ([]Status, error) {
	return listStatuses(ctx, b.store, scope)
}

func listStatuses(ctx context.Context, store *graph.Store, scope string) ([]Status, error) {
	rows, err := store.QueryContext(ctx, `
		SELECT e.id, e.name,
			COALESCE(p_code.value, ''),
			COALESCE(p_label.value, e.label),
			COALESCE(p_order.value, '0'),
			COALESCE(p_initial.value, ''),
			COALESCE(p_terminal.value, '')
		FROM entities e
		JOIN entity_properties p_scope ON p_scope.entity_id = e.id AND p_scope.key = 'entity_type_scope'
		LEFT JOIN entity_properties p_code ON p_code.entity_id = e.id AND p_code.key = 'status_code'
		LEFT JOIN entity_properties p_label ON p_label.entity_id = e.id AND p_label.key = 'label'
		LEFT JOIN entity_properties p_order ON p_order.entity_id = e.id AND p_order.key = 'order'
		LEFT JOIN entity_properties p_initial ON p_initial.entity_id = e.id AND p_initial.key = 'is_initial'
		LEFT JOIN entity_properties p_terminal ON p_terminal.entity_id = e.id AND p_terminal.key = 'is_terminal'
		WHERE e.entity_type = 'workflow_status'
			AND p_scope.value = $1
		ORDER BY CAST(COALESCE(p_order.value, '0') AS INTEGER), e.id
	`, scope)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.ListStatuses", err)
	}
	defer rows.Close()

	statuses := []Status{}
	for rows.Next() {
		s := Status{Scope: scope}
		var order, initial, terminal string
		if err := rows.Scan(&s.ID, &s.Name, &s.Code, &s.Label, &order, &initial, &terminal); err != nil {
			return nil, apperr.StoreFailure("workflow.ListStatuses", err)
		}
		s.Order, _ = strconv.ParseInt(order, 10, 64)
		s.IsInitial = initial == "true"
		s.IsTerminal = terminal == "true"
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StoreFailure("workflow.ListStatuses", err)
	}
	return statuses, nil
}

// ListTransitions returns the transitions of a scope ordered by from and
// to status codes.
func (b *Builder) ListTransitions(ctx context.Context, scope string) ([]Transition, error) {
	rows, err := b.store.QueryContext(ctx, transitionSelect+`
		ORDER BY COALESCE(p_from_code.value, ''), COALESCE(p_to_code.value, ''), t.id`, scope)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.ListTransitions", err)
	}
	transitions, err := scanTransitions(rows, scope)
	if err != nil {
		return nil, apperr.StoreFailure("workflow.ListTransitions", err)
	}
	return transitions, nil
}

// GetStatus loads one status by entity id.
func (b *Builder) GetStatus(ctx context.Context, id int64) (Status, error) {
	return getStatus(ctx, b.store, id)
}

func getStatus(ctx context.Context, store *graph.Store, id int64) (Status, error) {
	e, err := store.GetEntity(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if e.EntityType != graph.TypeWorkflowStatus {
		return Status{}, apperr.NotFound("workflow.GetStatus", "workflow status %d", id)
	}
	props, err := store.Properties(ctx, id)
	if err != nil {
		return Status{}, err
	}
	s := Status{
		ID:         e.ID,
		Name:       e.Name,
		Scope:      props[PropScope],
		Code:       props[PropStatusCode],
		Label:      e.Label,
		IsInitial:  props[PropIsInitial] == "true",
		IsTerminal: props[PropIsTerminal] == "true",
	}
	if label, ok := props[PropLabel]; ok {
		s.Label = label
	}
	s.Order, _ = strconv.ParseInt(props[PropOrder], 10, 64)
	return s, nil
}

// CreateStatus adds a status to a scope.
func (b *Builder) CreateStatus(ctx context.Context, in StatusInput) (int64, error) {
	if in.Scope == "" || in.Code == "" {
		return 0, fmt.Errorf("workflow.CreateStatus: scope and status code are required")
	}
	label := in.Label
	if label == "" {
		label = in.Code
	}

	props := map[string]string{
		PropStatusCode: in.Code,
		PropScope:      in.Scope,
		PropLabel:      label,
		PropOrder:      strconv.FormatInt(in.Order, 10),
	}
	if in.IsInitial {
		props[PropIsInitial] = "true"
	}
	if in.IsTerminal {
		props[PropIsTerminal] = "true"
	}

	return b.store.CreateEntityWithProperties(ctx, graph.NewEntity{
		Type:       graph.TypeWorkflowStatus,
		Name:       StatusName(in.Scope, in.Code),
		Label:      label,
		SortOrder:  in.Order,
		Properties: props,
	})
}

// UpdateStatus changes a status's label, order and flags. Marking a status
// terminal is refused while transitions leave it.
func (b *Builder) UpdateStatus(ctx context.Context, id int64, in StatusUpdate) error {
	const op = "workflow.UpdateStatus"

	return b.store.WithTx(ctx, func(tx *graph.Store) error {
		current, err := getStatus(ctx, tx, id)
		if err != nil {
			return err
		}

		if in.IsTerminal && !current.IsTerminal {
			outgoing, err := tx.CountSources(ctx, id, graph.RelTransitionFrom)
			if err != nil {
				return err
			}
			if outgoing > 0 {
				return apperr.InvalidTransition(op, "status %q has %d outgoing transitions and cannot be terminal", current.Name, outgoing)
			}
		}

		label := in.Label
		if label == "" {
			label = current.Label
		}
		if err := tx.UpdateEntity(ctx, id, current.Name, label); err != nil {
			return err
		}
		if err := tx.SetProperties(ctx, id, map[string]string{
			PropLabel: label,
			PropOrder: strconv.FormatInt(in.Order, 10),
		}); err != nil {
			return err
		}
		if err := setFlag(ctx, tx, id, PropIsInitial, in.IsInitial); err != nil {
			return err
		}
		return setFlag(ctx, tx, id, PropIsTerminal, in.IsTerminal)
	})
}

func setFlag(ctx context.Context, store *graph.Store, id int64, key string, on bool) error {
	if on {
		return store.SetProperty(ctx, id, key, "true")
	}
	return store.DeleteProperty(ctx, id, key)
}

// DeleteStatus removes a status. It is refused, with apperr.ErrInUse in the
// chain, while any transition starts or ends at it.
func (b *Builder) DeleteStatus(ctx context.Context, id int64) error {
	const op = "workflow.DeleteStatus"

	return b.store.WithTx(ctx, func(tx *graph.Store) error {
		if _, err := getStatus(ctx, tx, id); err != nil {
			return err
		}
		from, err := tx.CountSources(ctx, id, graph.RelTransitionFrom)
		if err != nil {
			return err
		}
		to, err := tx.CountSources(ctx, id, graph.RelTransitionTo)
		if err != nil {
			return err
		}
		if refs := from + to; refs > 0 {
			return apperr.StoreFailure(op, fmt.Errorf("%w: status %d is referenced by %d transitions", apperr.ErrInUse, id, refs))
		}
		return tx.DeleteEntity(ctx, id)
	})
}

// CreateTransition adds a transition between two statuses of the same
// scope. A second transition for the same (scope, from, to) is refused
// with apperr.ErrDuplicate in the chain, as is any transition leaving a
// terminal status.
func (b *Builder) CreateTransition(ctx context.Context, in TransitionInput) (int64, error) {
	const op = "workflow.CreateTransition"

	if in.Condition != "" {
		if _, err := ParseCondition(in.Condition); err != nil {
			return 0, apperr.InvalidTransition(op, "%v", err)
		}
	}

	var id int64
	err := b.store.WithTx(ctx, func(tx *graph.Store) error {
		from, err := getStatus(ctx, tx, in.FromStatusID)
		if err != nil {
			return err
		}
		to, err := getStatus(ctx, tx, in.ToStatusID)
		if err != nil {
			return err
		}
		scope := in.Scope
		if scope == "" {
			scope = from.Scope
		}
		if from.Scope != scope || to.Scope != scope {
			return apperr.InvalidTransition(op, "statuses %q and %q are not both in scope %s", from.Name, to.Name, scope)
		}
		if from.IsTerminal {
			return apperr.InvalidTransition(op, "status %q is terminal", from.Name)
		}

		existing, err := NewEngine(tx).lookup(ctx, scope, from.Code, to.Code)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.StoreFailure(op, fmt.Errorf("%w: transition %s already exists",
				apperr.ErrDuplicate, TransitionName(scope, from.Code, to.Code)))
		}

		label := in.Label
		if label == "" {
			label = to.Label
		}
		props := map[string]string{
			PropScope:              scope,
			PropFromStatusCode:     from.Code,
			PropToStatusCode:       to.Code,
			PropTransitionLabel:    label,
			PropRequiredPermission: in.RequiredPermission,
			PropRequiresOutcome:    strconv.FormatBool(in.RequiresOutcome),
		}
		if in.Condition != "" {
			props[PropCondition] = in.Condition
		}

		id, err = tx.CreateEntityWithProperties(ctx, graph.NewEntity{
			Type:       graph.TypeWorkflowTransition,
			Name:       TransitionName(scope, from.Code, to.Code),
			Label:      label,
			Properties: props,
		})
		if err != nil {
			return err
		}
		if err := tx.CreateRelation(ctx, graph.RelTransitionFrom, id, from.ID); err != nil {
			return err
		}
		return tx.CreateRelation(ctx, graph.RelTransitionTo, id, to.ID)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateTransition changes a transition's label and guard.
func (b *Builder) UpdateTransition(ctx context.Context, id int64, in TransitionUpdate) error {
	const op = "workflow.UpdateTransition"

	if in.Condition != "" {
		if _, err := ParseCondition(in.Condition); err != nil {
			return apperr.InvalidTransition(op, "%v", err)
		}
	}

	return b.store.WithTx(ctx, func(tx *graph.Store) error {
		e, err := tx.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if e.EntityType != graph.TypeWorkflowTransition {
			return apperr.NotFound(op, "workflow transition %d", id)
		}

		label := in.Label
		if label == "" {
			label = e.Label
		}
		if err := tx.UpdateEntity(ctx, id, e.Name, label); err != nil {
			return err
		}
		if err := tx.SetProperties(ctx, id, map[string]string{
			PropTransitionLabel:    label,
			PropRequiredPermission: in.RequiredPermission,
			PropRequiresOutcome:    strconv.FormatBool(in.RequiresOutcome),
		}); err != nil {
			return err
		}
		if in.Condition == "" {
			return tx.DeleteProperty(ctx, id, PropCondition)
		}
		return tx.SetProperty(ctx, id, PropCondition, in.Condition)
	})
}

// DeleteTransition removes a transition and its status links.
func (b *Builder) DeleteTransition(ctx context.Context, id int64) error {
	return b.store.WithTx(ctx, func(tx *graph.Store) error {
		e, err := tx.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if e.EntityType != graph.TypeWorkflowTransition {
			return apperr.NotFound("workflow.DeleteTransition", "workflow transition %d", id)
		}
		return tx.DeleteEntity(ctx, id)
	})
}
