package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/quorum/pkg/workflow"
)

// Document is the seed file format.
//
//	relation_types:
//	  belongs_to_committee: Belongs to committee
//	permissions:
//	  - code: proposals.submit
//	    label: Submit proposals
//	    group: proposals
//	roles:
//	  - name: member
//	    label: Member
//	    permissions: [proposals.submit]
//	workflows:
//	  proposal:
//	    statuses:
//	      - {code: draft, label: Draft, initial: true}
//	      - {code: submitted, label: Submitted}
//	    transitions:
//	      - {from: draft, to: submitted, label: Submit, permission: proposals.submit}
type Document struct {
	RelationTypes map[string]string   `yaml:"relation_types"`
	Permissions   []Permission        `yaml:"permissions"`
	Roles         []Role              `yaml:"roles"`
	Workflows     map[string]Workflow `yaml:"workflows"`
}

// Permission is a permission entity. Group is stored as the "group"
// property for display grouping.
type Permission struct {
	Code  string `yaml:"code"`
	Label string `yaml:"label"`
	Group string `yaml:"group,omitempty"`
}

// Role is a role entity and the permissions granted to it. Grants are only
// ever added; removing a code from the file does not revoke it.
type Role struct {
	Name        string   `yaml:"name"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description,omitempty"`
	Permissions []string `yaml:"permissions"`
}

// Workflow is the statuses and transitions of one scope.
type Workflow struct {
	Statuses    []Status     `yaml:"statuses"`
	Transitions []Transition `yaml:"transitions"`
}

// Status is a workflow status. Order defaults to its position in the list.
type Status struct {
	Code     string `yaml:"code"`
	Label    string `yaml:"label"`
	Order    int64  `yaml:"order,omitempty"`
	Initial  bool   `yaml:"initial,omitempty"`
	Terminal bool   `yaml:"terminal,omitempty"`
}

// Transition is a workflow transition between two status codes.
type Transition struct {
	From            string `yaml:"from"`
	To              string `yaml:"to"`
	Label           string `yaml:"label"`
	Permission      string `yaml:"permission,omitempty"`
	Condition       string `yaml:"condition,omitempty"`
	RequiresOutcome bool   `yaml:"requires_outcome,omitempty"`
}

// LoadFile reads and validates a seed file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed document. Unknown fields are
// rejected so a misspelt key does not silently seed nothing.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if errs := doc.Validate(); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: errs}
	}
	return &doc, nil
}

// ValidationError is one problem found in a seed document.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return "invalid seed file: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("invalid seed file: %s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Validate checks the document for structural problems. References to
// permissions or statuses that are not in the document are allowed; they
// are resolved against the store when applied.
func (d *Document) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for name := range d.RelationTypes {
		if name == "" {
			add("relation_types", "empty relation type name")
		}
	}

	seen := map[string]bool{}
	for i, p := range d.Permissions {
		field := fmt.Sprintf("permissions[%d]", i)
		if p.Code == "" {
			add(field, "code is required")
			continue
		}
		if seen[p.Code] {
			add(field, "duplicate permission %q", p.Code)
		}
		seen[p.Code] = true
	}

	roles := map[string]bool{}
	for i, r := range d.Roles {
		field := fmt.Sprintf("roles[%d]", i)
		if r.Name == "" {
			add(field, "name is required")
			continue
		}
		if roles[r.Name] {
			add(field, "duplicate role %q", r.Name)
		}
		roles[r.Name] = true
		for _, code := range r.Permissions {
			if code == "" {
				add(field, "empty permission code")
			}
		}
	}

	for _, scope := range d.Scopes() {
		wf := d.Workflows[scope]
		statuses := map[string]bool{}
		initial := 0
		for i, s := range wf.Statuses {
			field := fmt.Sprintf("workflows.%s.statuses[%d]", scope, i)
			if s.Code == "" {
				add(field, "code is required")
				continue
			}
			if statuses[s.Code] {
				add(field, "duplicate status %q", s.Code)
			}
			statuses[s.Code] = true
			if s.Initial {
				initial++
			}
		}
		if initial > 1 {
			add("workflows."+scope, "%d initial statuses", initial)
		}

		pairs := map[[2]string]bool{}
		for i, t := range wf.Transitions {
			field := fmt.Sprintf("workflows.%s.transitions[%d]", scope, i)
			if t.From == "" || t.To == "" {
				add(field, "from and to are required")
				continue
			}
			key := [2]string{t.From, t.To}
			if pairs[key] {
				add(field, "duplicate transition %s to %s", t.From, t.To)
			}
			pairs[key] = true
			if t.Condition != "" {
				if _, err := workflow.ParseCondition(t.Condition); err != nil {
					add(field, "%v", err)
				}
			}
		}
	}
	return errs
}

// Scopes returns the workflow scopes in the document, sorted.
func (d *Document) Scopes() []string {
	scopes := make([]string, 0, len(d.Workflows))
	for scope := range d.Workflows {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}
