package timeline

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeKindMismatch       Code = "kind_mismatch"
	CodeCycleDetected      Code = "cycle_detected"
	CodeDepthExceeded      Code = "depth_exceeded"
	CodeAlreadyRunning     Code = "already_running"
	CodeInvariantViolation Code = "invariant_violation"
	CodeOwnershipMismatch  Code = "ownership_mismatch"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrKindMismatch       = &Error{Code: CodeKindMismatch}
	ErrCycleDetected      = &Error{Code: CodeCycleDetected}
	ErrDepthExceeded      = &Error{Code: CodeDepthExceeded}
	ErrAlreadyRunning     = &Error{Code: CodeAlreadyRunning}
	ErrInvariantViolation = &Error{Code: CodeInvariantViolation}
	ErrOwnershipMismatch  = &Error{Code: CodeOwnershipMismatch}
)

// Error is the only error kind the engine reports for rejected mutations.
// Rule names the violated constraint for invariant violations.
type Error struct {
	Code   Code
	Op     string
	Entity string
	ID     string
	Rule   string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Rule != "" {
		b.WriteString(" [")
		b.WriteString(e.Rule)
		b.WriteString("]")
	}
	if e.Entity != "" || e.ID != "" {
		fmt.Fprintf(&b, " %s %s", e.Entity, e.ID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func NotFound(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Entity: entity, ID: id}
}

func KindMismatch(id string, want, got Kind) *Error {
	return &Error{Code: CodeKindMismatch, Entity: "item", ID: id, Detail: fmt.Sprintf("addressed as %s, stored as %s", want, got)}
}

func CycleDetected(taskID, parentID string) *Error {
	return &Error{Code: CodeCycleDetected, Entity: "task", ID: taskID, Detail: fmt.Sprintf("parent %s is the task or one of its descendants", parentID)}
}

func DepthExceeded(taskID string, depth int) *Error {
	return &Error{Code: CodeDepthExceeded, Entity: "task", ID: taskID, Detail: fmt.Sprintf("deepest node would sit at depth %d, limit is %d levels", depth, MaxTreeLevels)}
}

func AlreadyRunning(userID, intervalID string) *Error {
	return &Error{Code: CodeAlreadyRunning, Entity: "user", ID: userID, Detail: "interval " + intervalID + " is still running"}
}

func Violation(rule, entity, id, detail string) *Error {
	return &Error{Code: CodeInvariantViolation, Rule: rule, Entity: entity, ID: id, Detail: detail}
}

func OwnershipMismatch(entity, id, actor string) *Error {
	return &Error{Code: CodeOwnershipMismatch, Entity: entity, ID: id, Detail: "not owned by " + actor}
}

// WithOp stamps the operation name on a typed error and returns other errors unchanged.
func WithOp(op string, err error) error {
	var te *Error
	if !errors.As(err, &te) {
		return err
	}
	if te.Op != "" {
		return err
	}
	cp := *te
	cp.Op = op
	return &cp
}

// CodeOf returns the code of a typed error, or "" for anything else.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
