package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error represents a lifecycle error with context for troubleshooting
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	ErrorCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrorCodeScanFailed           ErrorCode = "SCAN_FAILED"
	ErrorCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
)

// ErrInvalidState matches any state machine violation with errors.Is
var ErrInvalidState = &Error{Code: ErrorCodeInvalidState}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// ErrWrongState creates an error for an operation invoked in the wrong state
func ErrWrongState(module, op string, state State) *Error {
	return NewError(ErrorCodeInvalidState,
		fmt.Sprintf("Cannot %s module '%s' in state %s", op, module, state)).
		WithContext("module", module).
		WithContext("state", state.String()).
		WithSuggestion("Controllers are single use: create a new controller to start the module again")
}

// ErrScanFailed creates an error for a discovery pass that could not run
func ErrScanFailed(module string, cause error) *Error {
	return NewError(ErrorCodeScanFailed,
		fmt.Sprintf("Failed to discover archives of module '%s'", module)).
		WithContext("module", module).
		WithCause(cause)
}

// ErrInvalidConfiguration creates an error for rejected configuration
func ErrInvalidConfiguration(message string, cause error) *Error {
	return NewError(ErrorCodeInvalidConfiguration, message).
		WithCause(cause).
		WithSuggestion("Exclusions use shell glob syntax: '*', '?' and '[...]' over the archive file name")
}
