package host

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a host error with context for troubleshooting
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Module is the module the error is about, if any
	Module string

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	ErrorCodeModuleNotFound   ErrorCode = "MODULE_NOT_FOUND"
	ErrorCodeInvalidManifest  ErrorCode = "INVALID_MANIFEST"
	ErrorCodeAlreadyDeployed  ErrorCode = "ALREADY_DEPLOYED"
	ErrorCodeDeployFailed     ErrorCode = "DEPLOY_FAILED"
	ErrorCodeReloadInProgress ErrorCode = "RELOAD_IN_PROGRESS"
)

// Error implements the error interface
func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Code, e.Message)}
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

// IsCode reports whether err is a host error with the given code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// ErrModuleNotFound creates an error for an unknown module name
func ErrModuleNotFound(name, modulesDir string) *Error {
	return &Error{
		Code:    ErrorCodeModuleNotFound,
		Message: fmt.Sprintf("Module '%s' is not deployed", name),
		Module:  name,
		Suggestion: fmt.Sprintf(
			"Verify the module exists: ls -la %s/%s/module.yaml", modulesDir, name),
	}
}

// ErrInvalidManifest creates an error for a manifest that failed to load
func ErrInvalidManifest(path string, cause error) *Error {
	return &Error{
		Code:    ErrorCodeInvalidManifest,
		Message: fmt.Sprintf("Manifest '%s' is invalid", path),
		Cause:   cause,
		Suggestion: "Check module.yaml syntax; required: name. " +
			"reload_strategy must be restart or rolling, drivers must be known",
	}
}

// ErrAlreadyDeployed creates an error for a duplicate deployment
func ErrAlreadyDeployed(name string) *Error {
	return &Error{
		Code:       ErrorCodeAlreadyDeployed,
		Message:    fmt.Sprintf("Module '%s' is already deployed", name),
		Module:     name,
		Suggestion: "Use reload to replace a running module",
	}
}

// ErrDeployFailed creates an error for a module that could not start
func ErrDeployFailed(name string, cause error) *Error {
	return &Error{
		Code:    ErrorCodeDeployFailed,
		Message: fmt.Sprintf("Failed to deploy module '%s'", name),
		Module:  name,
		Cause:   cause,
	}
}

// ErrReloadInProgress creates an error for overlapping reloads
func ErrReloadInProgress(name string) *Error {
	return &Error{
		Code:    ErrorCodeReloadInProgress,
		Message: fmt.Sprintf("Module '%s' is already reloading", name),
		Module:  name,
	}
}
