package workflow

// Property keys on workflow_status entities.
const (
	PropStatusCode = "status_code"
	PropScope      = "entity_type_scope"
	PropLabel      = "label"
	PropOrder      = "order"
	PropIsInitial  = "is_initial"
	PropIsTerminal = "is_terminal"
)

// Property keys on workflow_transition entities.
const (
	PropFromStatusCode     = "from_status_code"
	PropToStatusCode       = "to_status_code"
	PropTransitionLabel    = "transition_label"
	PropRequiredPermission = "required_permission"
	PropRequiresOutcome    = "requires_outcome"
	PropCondition          = "condition"
)

// Property keys the engine's callers keep on governed entities.
const (
	PropStatus  = "status"
	PropOutcome = "outcome"
)

// PermissionSet is the view of an actor's permission codes the engine needs.
// authz.Permissions satisfies it.
type PermissionSet interface {
	Has(code string) bool
}

// Status is one state of a scope's state machine.
type Status struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Scope      string `json:"entity_type_scope"`
	Code       string `json:"status_code"`
	Label      string `json:"label"`
	Order      int64  `json:"order"`
	IsInitial  bool   `json:"is_initial"`
	IsTerminal bool   `json:"is_terminal"`
}

// Transition is an allowed edge between two statuses of a scope, with its
// guard.
type Transition struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Scope              string `json:"entity_type_scope"`
	FromStatusID       int64  `json:"from_status_id"`
	FromStatusCode     string `json:"from_status_code"`
	ToStatusID         int64  `json:"to_status_id"`
	ToStatusCode       string `json:"to_status_code"`
	Label              string `json:"transition_label"`
	RequiredPermission string `json:"required_permission"`
	Condition          string `json:"condition,omitempty"`
	RequiresOutcome    bool   `json:"requires_outcome"`
}

// AvailableTransition is a transition an actor may take right now.
type AvailableTransition struct {
	ToStatusCode    string `json:"to_status_code"`
	Label           string `json:"transition_label"`
	RequiresOutcome bool   `json:"requires_outcome"`
}

func (t Transition) available() AvailableTransition {
	return AvailableTransition{
		ToStatusCode:    t.ToStatusCode,
		Label:           t.Label,
		RequiresOutcome: t.RequiresOutcome,
	}
}

// Scope summarises one configured workflow.
type Scope struct {
	Scope           string `json:"scope"`
	StatusCount     int64  `json:"status_count"`
	TransitionCount int64  `json:"transition_count"`
}

// StatusName is the entity name of a status: "<scope>.<code>".
func StatusName(scope, code string) string {
	return scope + "." + code
}

// TransitionName is the entity name of a transition: "<scope>.<from>_to_<to>".
func TransitionName(scope, from, to string) string {
	return scope + "." + from + "_to_" + to
}
