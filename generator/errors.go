package generator

import (
	"errors"
	"fmt"

	"github.com/wallstop/malbolge-go/vm"
)

// Error is the error type GenerateForString returns on failure. It
// reuses the vm.Kind taxonomy so callers can match on a single error
// classification across both packages.
type Error struct {
	Kind    vm.Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malbolge generator: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("malbolge generator: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind vm.Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind vm.Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Is reports whether err is, or wraps, a *generator.Error of the given kind.
func Is(err error, kind vm.Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
