package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for Harrier core operations. Services wrap these with
// fmt.Errorf("%w: ...") so callers can classify with errors.Is while the
// message names the specific field, operator, or entity at fault.
var (
	// ErrMalformedAst indicates a structurally invalid rule AST (unknown
	// node tag, wrong arity, excessive depth).
	ErrMalformedAst = errors.New("malformed rule ast")

	// ErrSemantic indicates an AST that parsed but violates the field
	// catalog (disallowed operator, wrong value shape or type).
	ErrSemantic = errors.New("semantic validation failed")

	// ErrUnknownField indicates a fieldKey absent from the field catalog.
	ErrUnknownField = errors.New("unknown field key")

	// ErrNotFound indicates a missing entity reference.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a lifecycle or uniqueness violation: wrong
	// status for a transition, duplicate orderPriority, duplicate
	// ruleVersionId within a ruleset version.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument indicates a request violating a structural
	// invariant, e.g. referencing an archived rule.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfig indicates invalid ruleset configuration, e.g.
	// PARALLEL execution without a decision precedence.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPreconditionFailed indicates a fingerprint mismatch on a
	// conditional write.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// PreconditionError reports a stale-fingerprint rejection. It carries the
// server's current fingerprint and a snapshot of the conflicting resource so
// the caller can reconcile without a second round trip.
type PreconditionError struct {
	Expected string
	Current  string
	Resource any
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: expected fingerprint %q, current %q", e.Expected, e.Current)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}
