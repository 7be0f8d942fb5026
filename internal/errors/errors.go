package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrUpstream         = errors.New("upstream failure")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeUpstream   ErrorType = "upstream"
	ErrorTypeNotAllowed ErrorType = "not_allowed"
)

// State names the step of a multi-step flow that failed. It is surfaced to
// users on error pages and in logs.
type State string

const (
	StateInvalidToken        State = "invalid_token"
	StateInvalidState        State = "invalid_state"
	StateSubscriptionInvalid State = "subscription_invalid"
	StateOAuthDenied         State = "oauth_denied"
	StateOAuthError          State = "oauth_error"
	StateUpstreamError       State = "upstream_error"
	StateBadRequest          State = "bad_request"
)

// FlowError is a structured error for request handling flows.
type FlowError struct {
	Type       ErrorType
	State      State
	Op         string // Operation that failed (e.g., "exchange_code", "add_member")
	Err        error  // Underlying error
	StatusCode int    // HTTP status returned to the caller
}

func (e *FlowError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed (%s)", e.Op, e.State)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.State, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *FlowError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth && e.StatusCode != http.StatusForbidden
	case ErrForbidden:
		return e.Type == ErrorTypeAuth && e.StatusCode == http.StatusForbidden
	case ErrUpstream:
		return e.Type == ErrorTypeUpstream
	case ErrMethodNotAllowed:
		return e.Type == ErrorTypeNotAllowed
	}

	return errors.Is(e.Err, target)
}

// NewFlowError creates a new FlowError with the default status for its type.
func NewFlowError(errorType ErrorType, state State, op string, err error) *FlowError {
	return &FlowError{
		Type:       errorType,
		State:      state,
		Op:         op,
		Err:        err,
		StatusCode: defaultStatus(errorType),
	}
}

// WithStatusCode overrides the HTTP status code reported for the error.
func (e *FlowError) WithStatusCode(code int) *FlowError {
	e.StatusCode = code
	return e
}

func defaultStatus(errorType ErrorType) int {
	switch errorType {
	case ErrorTypeValidation, ErrorTypeAuth:
		return http.StatusBadRequest
	case ErrorTypeNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions

// Validation wraps missing or malformed request input (400).
func Validation(state State, op string, err error) *FlowError {
	return NewFlowError(ErrorTypeValidation, state, op, err)
}

// Auth wraps a rejected credential: bad token, bad signature, inactive
// subscription. Status defaults to 400; use Forbidden for 403.
func Auth(state State, op string, err error) *FlowError {
	return NewFlowError(ErrorTypeAuth, state, op, err)
}

// Forbidden wraps an authenticated-but-not-entitled failure (403).
func Forbidden(state State, op string, err error) *FlowError {
	return NewFlowError(ErrorTypeAuth, state, op, err).WithStatusCode(http.StatusForbidden)
}

// Upstream wraps a remote API failure (500).
func Upstream(op string, err error) *FlowError {
	return NewFlowError(ErrorTypeUpstream, StateUpstreamError, op, err)
}

// NotAllowed wraps a wrong HTTP method (405).
func NotAllowed(method string) *FlowError {
	return NewFlowError(ErrorTypeNotAllowed, StateBadRequest, "method", fmt.Errorf("%w: %s", ErrMethodNotAllowed, method))
}

// HTTPStatus returns the status code carried by err, or 500 for
// unclassified errors.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var flowErr *FlowError
	if errors.As(err, &flowErr) && flowErr.StatusCode != 0 {
		return flowErr.StatusCode
	}
	return http.StatusInternalServerError
}

// StateOf returns the flow state of err, or StateUpstreamError for
// unclassified errors.
func StateOf(err error) State {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.State
	}
	return StateUpstreamError
}

// IsUpstream reports whether err is an upstream failure, either classified
// or unclassified.
func IsUpstream(err error) bool {
	if err == nil {
		return false
	}
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Type == ErrorTypeUpstream
	}
	return true
}
