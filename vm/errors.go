package vm

import (
	"errors"
	"fmt"
)

// Kind tags the error taxonomy the Malbolge VM and generator report to
// callers. Every error the core returns can be matched on Kind via
// errors.As rather than compared against opaque string messages.
type Kind string

const (
	KindInvalidProgram      Kind = "invalid_program"
	KindInvalidOpcode       Kind = "invalid_opcode"
	KindInputUnderflow      Kind = "input_underflow"
	KindStepLimitExceeded   Kind = "step_limit_exceeded"
	KindMemoryLimitExceeded Kind = "memory_limit_exceeded"
	KindMalbolgeRuntime     Kind = "malbolge_runtime"
	KindInvalidArgument     Kind = "invalid_argument"
)

// Error is the error type every public VM operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malbolge: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("malbolge: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Is reports whether err is, or wraps, a *vm.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
