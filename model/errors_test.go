package model

import (
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Service not found"}
	want := "NOT_FOUND: Service not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewMissingParametersError(t *testing.T) {
	e := NewMissingParametersError("username", "password")
	if e.Code != ErrBadRequest {
		t.Errorf("Code = %q, want %q", e.Code, ErrBadRequest)
	}
	if e.Message != "Missing parameters" {
		t.Errorf("Message = %q, want %q", e.Message, "Missing parameters")
	}
	if len(e.Details) != 2 {
		t.Fatalf("Details length = %d, want 2", len(e.Details))
	}
	if e.Details[1].Field != "password" {
		t.Errorf("Details[1].Field = %q, want %q", e.Details[1].Field, "password")
	}
}

func TestNewUnauthorizedError_redirectsToLogin(t *testing.T) {
	e := NewUnauthorizedError("session expired")
	if e.Redirect != LoginPath {
		t.Errorf("Redirect = %q, want %q", e.Redirect, LoginPath)
	}
	if e.Status != 401 {
		t.Errorf("Status = %d, want 401", e.Status)
	}
}

func TestNewUpstreamError_defaults(t *testing.T) {
	e := NewUpstreamError(0, "")
	if e.Status != 500 {
		t.Errorf("Status = %d, want 500", e.Status)
	}
	if e.Message != MsgUnknownError {
		t.Errorf("Message = %q, want %q", e.Message, MsgUnknownError)
	}

	e = NewUpstreamError(409, "Email or Username already exist.")
	if e.Status != 409 || e.Message != MsgAlreadyExists {
		t.Errorf("got %d %q", e.Status, e.Message)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "x", Code: "TYPE", Message: "must be a number"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
}

func TestIsUnauthorized_wrapped(t *testing.T) {
	err := fmt.Errorf("fetch areas: %w", NewUnauthorizedError("expired"))
	if !IsUnauthorized(err) {
		t.Error("IsUnauthorized() = false for wrapped auth error")
	}
	if IsUnauthorized(fmt.Errorf("plain")) {
		t.Error("IsUnauthorized() = true for plain error")
	}
	if IsUnauthorized(NewNetworkError()) {
		t.Error("IsUnauthorized() = true for network error")
	}
}

func TestAsEnvelope(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewOAuthError(ErrOAuthInProgress, "pending"))
	env, ok := AsEnvelope(err)
	if !ok {
		t.Fatal("AsEnvelope() ok = false")
	}
	if env.Code != ErrOAuthInProgress {
		t.Errorf("Code = %q, want %q", env.Code, ErrOAuthInProgress)
	}
}
