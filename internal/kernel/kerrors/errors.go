// Package kerrors defines the domain error taxonomy shared across kernel
// packages. Errors carry a stable code rather than relying on type
// assertions, so the HTTP and tool-call layers can map them to a consistent
// envelope without importing every kernel package.
package kerrors

import "fmt"

// Code is a stable, machine-readable domain error identifier.
type Code string

const (
	InvariantViolation       Code = "INVARIANT_VIOLATION"
	DependencyCycle          Code = "DEPENDENCY_CYCLE"
	PlanStale                Code = "PLAN_STALE"
	LeaseStale               Code = "LEASE_STALE"
	LeaseFenced              Code = "LEASE_FENCED"
	ReservationConflict      Code = "RESERVATION_CONFLICT"
	InvalidCapabilities      Code = "INVALID_CAPABILITIES"
	InvalidTaskClass         Code = "INVALID_TASK_CLASS"
	InvalidWorkSpec          Code = "INVALID_WORK_SPEC"
	AmbiguousReference       Code = "AMBIGUOUS_REFERENCE"
	IdentifierParentRequired Code = "IDENTIFIER_PARENT_REQUIRED"
	AuthDenied               Code = "AUTH_DENIED"
	Conflict                 Code = "CONFLICT"
	NotFound                 Code = "NOT_FOUND"
	Internal                 Code = "INTERNAL"
)

// httpStatus maps a domain code to the HTTP status the api layer returns.
// Kept here, not in httpapi, so every caller of kerrors.New gets a
// consistent status without the kernel importing net/http.
var httpStatus = map[Code]int{
	InvariantViolation:       422,
	DependencyCycle:          422,
	PlanStale:                409,
	LeaseStale:               409,
	LeaseFenced:              409,
	ReservationConflict:      409,
	InvalidCapabilities:      400,
	InvalidTaskClass:         400,
	InvalidWorkSpec:          400,
	AmbiguousReference:       400,
	IdentifierParentRequired: 400,
	AuthDenied:               403,
	Conflict:                 409,
	NotFound:                 404,
	Internal:                 500,
}

// Error is the concrete error type every kernel operation returns for
// expected failure modes. Details carries structured context (task ids,
// offending fields) for the caller to act on programmatically.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
}

// HTTPStatus returns the status code the api layer should respond with for
// this error. Falls back to 500 for an unrecognized code.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

// New builds an *Error with no structured details.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Newf is an alias of New kept for call sites that read better with an
// explicit "f" (mirrors fmt.Errorf naming).
func Newf(code Code, format string, args ...any) *Error {
	return New(code, format, args...)
}

// WithDetails attaches structured detail fields and returns the same error
// for chaining at the call site.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// Is supports errors.Is(err, kerrors.Sentinel(kerrors.NotFound)) style
// comparisons: two *Error values match when their Codes are equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel returns a zero-message *Error for use with errors.Is, e.g.
// errors.Is(err, kerrors.Sentinel(kerrors.NotFound)).
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}
