// Package apperr defines the error taxonomy shared by the graph store, the
// authorization resolvers and the workflow engine.
//
// Every error returned by those packages is either an *Error carrying a Kind
// or a plain wrapped error from the caller's own context. Callers inspect the
// kind with KindOf or the Is* helpers; errors.Is and errors.As work through
// the wrap chain.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindPermissionDenied  Kind = "permission_denied"
	KindInvalidTransition Kind = "invalid_transition"
	KindStoreFailure      Kind = "store_failure"
	KindConfigurationGap  Kind = "configuration_gap"
)

// Sentinel errors for conditions callers commonly branch on.
var (
	// ErrDuplicate matches a unique-constraint violation, e.g. a second
	// entity with the same (entity_type, name).
	ErrDuplicate = errors.New("duplicate")

	// ErrAmbiguous matches a lookup that found more than one row where the
	// data model requires at most one.
	ErrAmbiguous = errors.New("ambiguous")

	// ErrInUse matches a delete refused because other rows still reference
	// the target.
	ErrInUse = errors.New("in use")
)

// Error is a classified error.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Op names the operation that failed, e.g. "graph.CreateEntity".
	Op string

	// Code carries the permission or capability code for KindPermissionDenied,
	// and the unresolved name for KindConfigurationGap.
	Code string

	// Message is a short human-readable description.
	Message string

	// Err is the wrapped underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports an id or name lookup that matched nothing.
func NotFound(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// PermissionDenied reports a failed permission or capability check.
func PermissionDenied(op, code string) *Error {
	return &Error{Kind: KindPermissionDenied, Op: op, Code: code, Message: "permission denied"}
}

// InvalidTransition reports a workflow transition that is not defined or
// whose guard is not satisfied.
func InvalidTransition(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidTransition, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationGap reports a by-name lookup of graph configuration (a
// relation type, a workflow row) that nothing has ever created.
func ConfigurationGap(op, name string) *Error {
	return &Error{Kind: KindConfigurationGap, Op: op, Code: name, Message: "not configured"}
}

// StoreFailure wraps a backing-store error.
func StoreFailure(op string, err error) *Error {
	return &Error{Kind: KindStoreFailure, Op: op, Err: err}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsNotFound(err error) bool          { return KindOf(err) == KindNotFound }
func IsPermissionDenied(err error) bool  { return KindOf(err) == KindPermissionDenied }
func IsInvalidTransition(err error) bool { return KindOf(err) == KindInvalidTransition }
func IsStoreFailure(err error) bool      { return KindOf(err) == KindStoreFailure }
func IsConfigurationGap(err error) bool  { return KindOf(err) == KindConfigurationGap }
