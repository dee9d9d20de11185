// Package errs defines the error taxonomy shared across components.
// Library errors are converted into these kinds at component boundaries;
// only taxonomy errors cross them. The API layer maps every kind onto a
// uniform {code, message, retryable} body.
package errs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned when a status update would violate
	// the monotonic lifecycle of a record
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConcurrentModification is returned when optimistic locking fails
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// ValidationError wraps field-specific validation errors. Not retryable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ScopeError reports a tool that is not accessible to the requesting
// tenant or is disabled for it. Not retryable.
type ScopeError struct {
	ToolID   int64
	TenantID string
	Reason   string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("tool %d not usable by tenant %s: %s", e.ToolID, e.TenantID, e.Reason)
}

// NewScopeError creates a new scope or enablement error
func NewScopeError(toolID int64, tenantID, reason string) error {
	return &ScopeError{ToolID: toolID, TenantID: tenantID, Reason: reason}
}

// IsScopeError checks if an error is a scope or enablement error
func IsScopeError(err error) bool {
	var se *ScopeError
	return errors.As(err, &se)
}

// AuthError reports missing or rejected credentials (HTTP 401/403 or an
// absent env key). Never retried.
type AuthError struct {
	Subject    string // tool or channel name
	StatusCode int    // 0 when credentials were missing locally
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed for %s (HTTP %d): %s", e.Subject, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authentication failed for %s: %s", e.Subject, e.Message)
}

// NewAuthError creates a new authentication error
func NewAuthError(subject string, statusCode int, message string) error {
	return &AuthError{Subject: subject, StatusCode: statusCode, Message: message}
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// TransientError marks a retryable I/O failure: connection error, timeout
// or HTTP 5xx (plus 408/429). Retried with backoff and counted against the
// circuit breaker.
type TransientError struct {
	Op         string
	StatusCode int // 0 for non-HTTP failures
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure in %s (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError creates a new transient I/O error
func NewTransientError(op string, statusCode int, err error) error {
	return &TransientError{Op: op, StatusCode: statusCode, Err: err}
}

// IsTransientError checks if an error is a transient I/O error
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CircuitOpenError is returned when the per-(tenant, tool) breaker refuses
// a call before dispatch. Not retried within the same invocation.
type CircuitOpenError struct {
	TenantID   string
	ToolID     int64
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for tool %d of tenant %s, retry after %s",
		e.ToolID, e.TenantID, e.RetryAfter)
}

// NewCircuitOpenError creates a new circuit breaker rejection
func NewCircuitOpenError(tenantID string, toolID int64, retryAfter time.Duration) error {
	return &CircuitOpenError{TenantID: tenantID, ToolID: toolID, RetryAfter: retryAfter}
}

// IsCircuitOpenError checks if an error is a circuit breaker rejection
func IsCircuitOpenError(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// PolicyViolationError reports a guardrail breach found during policy
// evaluation or supervision.
type PolicyViolationError struct {
	RuleID   string
	Severity string
	Message  string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation [%s, %s]: %s", e.RuleID, e.Severity, e.Message)
}

// NewPolicyViolationError creates a new policy violation error
func NewPolicyViolationError(ruleID, severity, message string) error {
	return &PolicyViolationError{RuleID: ruleID, Severity: severity, Message: message}
}

// IsPolicyViolationError checks if an error is a policy violation
func IsPolicyViolationError(err error) bool {
	var pe *PolicyViolationError
	return errors.As(err, &pe)
}

// PlaybookExecutionError reports a failed playbook precondition: wrong
// step, unknown playbook, a risky step without a USER actor, or a failed
// call_tool dispatch. The step is never advanced.
type PlaybookExecutionError struct {
	ExceptionID string
	PlaybookID  int64
	StepOrder   int
	Message     string
	Err         error
}

func (e *PlaybookExecutionError) Error() string {
	if e.StepOrder > 0 {
		return fmt.Sprintf("playbook %d step %d on exception %s: %s",
			e.PlaybookID, e.StepOrder, e.ExceptionID, e.Message)
	}
	return fmt.Sprintf("playbook %d on exception %s: %s", e.PlaybookID, e.ExceptionID, e.Message)
}

func (e *PlaybookExecutionError) Unwrap() error { return e.Err }

// NewPlaybookExecutionError creates a new playbook execution error
func NewPlaybookExecutionError(exceptionID string, playbookID int64, stepOrder int, message string, err error) error {
	return &PlaybookExecutionError{
		ExceptionID: exceptionID,
		PlaybookID:  playbookID,
		StepOrder:   stepOrder,
		Message:     message,
		Err:         err,
	}
}

// IsPlaybookExecutionError checks if an error is a playbook execution error
func IsPlaybookExecutionError(err error) bool {
	var pe *PlaybookExecutionError
	return errors.As(err, &pe)
}

// FatalError marks a broken internal invariant, e.g. an attempted
// overwrite of a terminal execution status. The worker marks the event
// failed in the ledger and routes it to the DLQ.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// NewFatalError creates a new fatal invariant error
func NewFatalError(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatalError checks if an error is a fatal invariant error
func IsFatalError(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Retryable reports whether the caller may retry the failed operation.
// Only transient I/O failures qualify.
func Retryable(err error) bool {
	return IsTransientError(err)
}

// Code maps an error onto the wire code of the uniform API failure body.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err), errors.Is(err, ErrInvalidInput):
		return "validation_error"
	case IsScopeError(err):
		return "scope_error"
	case IsAuthError(err):
		return "auth_error"
	case IsTransientError(err):
		return "transient_error"
	case IsCircuitOpenError(err):
		return "circuit_open"
	case IsPolicyViolationError(err):
		return "policy_violation"
	case IsPlaybookExecutionError(err):
		return "playbook_execution_error"
	case IsFatalError(err):
		return "fatal_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "internal_error"
	}
}
