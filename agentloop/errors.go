package agentloop

import (
	"errors"
	"fmt"
)

// DispatchError is the base error for failures of the dispatch pipeline
// itself. Failures inside a host function are never DispatchErrors; tools
// report those as values in their results.
type DispatchError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %q: %s: %v", e.Tool, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Message)
}

func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// ToolNotFoundError is returned when the model names a tool that is not registered.
type ToolNotFoundError struct{ DispatchError }

// ArgumentDecodeError is returned when the raw arguments do not decode into
// the tool's argument type, or fail its validation rules.
type ArgumentDecodeError struct{ DispatchError }

// ResultEncodeError is returned when a tool's result cannot be encoded.
type ResultEncodeError struct{ DispatchError }

// ToolPanicError is returned when a host function panics.
type ToolPanicError struct {
	DispatchError
	Value interface{}
}

// IsDispatchError reports whether err is one of the dispatch error types.
func IsDispatchError(err error) bool {
	switch {
	case errors.As(err, new(*ToolNotFoundError)),
		errors.As(err, new(*ArgumentDecodeError)),
		errors.As(err, new(*ResultEncodeError)),
		errors.As(err, new(*ToolPanicError)),
		errors.As(err, new(*DispatchError)):
		return true
	}
	return false
}

// Registration errors. These are programming errors detected at startup.

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// InvalidToolError is returned when a tool cannot be registered as given.
type InvalidToolError struct {
	Name   string
	Reason string
}

func (e *InvalidToolError) Error() string {
	return fmt.Sprintf("invalid tool %q: %s", e.Name, e.Reason)
}
