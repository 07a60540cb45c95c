// Package actionerror defines the error taxonomy the action pipeline raises,
// and the HTTP status each maps to at the front door.
package actionerror

import "fmt"

// SchemaError is returned when a payload does not match the derived or
// custom JSON schema for an action. Maps to HTTP 400.
type SchemaError struct {
	Action string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in action %q: %s", e.Action, e.Detail)
}

func (e *SchemaError) StatusCode() int { return 400 }

// ActionError is a business-rule violation: unknown id, missing relation
// target, illegal reassignment, cascade with no delete action registered,
// and so on. Maps to HTTP 400.
type ActionError struct {
	Detail string
}

func (e *ActionError) Error() string { return e.Detail }

func (e *ActionError) StatusCode() int { return 400 }

// NewActionError builds an ActionError with a formatted message.
func NewActionError(format string, args ...any) *ActionError {
	return &ActionError{Detail: fmt.Sprintf(format, args...)}
}

// PermissionError is raised when the caller lacks a required management
// level or group permission. Maps to HTTP 403.
type PermissionError struct {
	Detail string
}

func (e *PermissionError) Error() string { return e.Detail }

func (e *PermissionError) StatusCode() int { return 403 }

// MissingPermission is a PermissionError naming the specific level required.
func MissingPermission(required string) *PermissionError {
	return &PermissionError{Detail: fmt.Sprintf("Missing permission: %s", required)}
}

// PermissionDenied is a PermissionError with a free-form reason.
func PermissionDenied(reason string) *PermissionError {
	return &PermissionError{Detail: reason}
}

// AuthError signals invalid credentials or an expired/invalid token. Maps to
// HTTP 401.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string { return e.Detail }

func (e *AuthError) StatusCode() int { return 401 }

// DatastoreError wraps a failure from the external datastore: either an
// optimistic-concurrency rejection (HTTP 400, Locked true) or a transport
// failure (HTTP 500).
type DatastoreError struct {
	Detail string
	Locked bool
	Err    error
}

func (e *DatastoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("datastore error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("datastore error: %s", e.Detail)
}

func (e *DatastoreError) Unwrap() error { return e.Err }

func (e *DatastoreError) StatusCode() int {
	if e.Locked {
		return 400
	}
	return 500
}

// StatusCoded is implemented by every error type in this package; the HTTP
// front door type-switches on it to pick a response status.
type StatusCoded interface {
	error
	StatusCode() int
}
