package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrUpstreamError      = "UPSTREAM_ERROR"
	ErrNetworkError       = "NETWORK_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// OAuth outcome codes.
const (
	ErrOAuthCancelled   = "OAUTH_CANCELLED"
	ErrOAuthInProgress  = "OAUTH_IN_PROGRESS"
	ErrOAuthUnavailable = "OAUTH_UNAVAILABLE"
	ErrOAuthError       = "OAUTH_ERROR"
)

// Messages surfaced verbatim to clients.
const (
	MsgMissingParameters = "Missing parameters"
	MsgUnknownError      = "An unknown error occurred"
	MsgInvalidCredential = "Invalid Credentials"
	MsgAlreadyExists     = "Email or Username already exist."
)

// LoginPath is where an AuthError sends the user.
const LoginPath = "/login"

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Details  []FieldError `json:"details,omitempty"`
	Redirect string       `json:"redirect,omitempty"`
	TraceID  string       `json:"trace_id,omitempty"`

	// Status carries the upstream HTTP status for UPSTREAM_ERROR so the BFF
	// can relay it unchanged.
	Status int `json:"-"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewMissingParametersError is the ValidationError raised before any
// backend call when a required request field is absent.
func NewMissingParametersError(fields ...string) *ErrorEnvelope {
	e := &ErrorEnvelope{Code: ErrBadRequest, Message: MsgMissingParameters}
	for _, f := range fields {
		e.Details = append(e.Details, FieldError{Field: f, Code: "REQUIRED", Message: "is required"})
	}
	return e
}

// NewUnauthorizedError returns an UNAUTHORIZED error that redirects to the
// login page.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg, Redirect: LoginPath, Status: 401}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewUpstreamError wraps a non-2xx backend reply. An empty message or a
// zero status falls back to the generic 500.
func NewUpstreamError(status int, msg string) *ErrorEnvelope {
	if status == 0 {
		status = 500
	}
	if msg == "" {
		msg = MsgUnknownError
	}
	return &ErrorEnvelope{Code: ErrUpstreamError, Message: msg, Status: status}
}

// NewNetworkError returns a NETWORK_ERROR for transport-level failures.
func NewNetworkError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNetworkError,
		Message: "The backend could not be reached",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewOAuthError returns one of the OAUTH_* outcome errors.
func NewOAuthError(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

// AsEnvelope extracts an ErrorEnvelope from err's chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is, or wraps, an AuthError.
func IsUnauthorized(err error) bool {
	env, ok := AsEnvelope(err)
	return ok && env.Code == ErrUnauthorized
}
