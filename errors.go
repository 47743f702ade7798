package catnip

import (
	"errors"
	"fmt"
)

// Code is the stable error taxonomy of spec.md §7: every failure a
// call or a qtoken completion surfaces maps onto exactly one of these,
// regardless of which internal layer raised it.
type Code string

const (
	CodeBadArg          Code = "bad_arg"
	CodeBadState        Code = "bad_state"
	CodeInUse           Code = "in_use"
	CodeUnreachable     Code = "unreachable"
	CodeRefused         Code = "refused"
	CodeTimeout         Code = "timeout"
	CodeConnectionReset Code = "connection_reset"
	CodeEof             Code = "eof"
	CodeCancelled       Code = "cancelled"
	CodeOutOfRoom       Code = "out_of_room"
	CodeOutOfMemory     Code = "out_of_memory"
)

// Error represents a structured catnip error with context, adapted
// from the teacher's errors.go *Error{Op,DevID,Queue,Code,Errno,Msg,Inner}.
// Errno is dropped (there is no syscall boundary on the data path);
// QD replaces DevID/Queue, since a queue descriptor is this layer's
// one addressable resource handle.
type Error struct {
	Op    string // operation that failed (e.g. "connect", "push")
	QD    uint32 // queue descriptor involved, 0 if not applicable
	Code  Code   // stable spec.md §7 category
	Msg   string // human-readable detail
	Inner error  // wrapped cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.QD != 0 {
		parts = append(parts, fmt.Sprintf("qd=%d", e.QD))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("catnip: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("catnip: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is provides errors.Is support, matching on Code alone so callers can
// write errors.Is(err, catnip.NewError("", catnip.CodeTimeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new structured error with no wrapped cause.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewQueueError creates a new error scoped to a specific queue
// descriptor.
func NewQueueError(op string, qd uint32, code Code, msg string) *Error {
	return &Error{Op: op, QD: qd, Code: code, Msg: msg}
}

// WrapError wraps an existing error under op/code, preserving it as
// Unwrap's cause. If inner is already a *Error, its QD carries over
// and only Op/Code/Msg are refreshed.
func WrapError(op string, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ce, ok := inner.(*Error); ok {
		return &Error{Op: op, QD: ce.QD, Code: code, Msg: ce.Msg, Inner: ce.Inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
