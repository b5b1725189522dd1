// Package oauth runs the connect flow: open the provider's authorization
// page, wait for the redirect, classify what came back, and report the
// outcome to the backend. One parametrised flow serves every provider.
package oauth

import (
	"net/url"

	"github.com/perimeter-epitech/area/model"
)

// Outcome classifies how an authorization attempt ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeInProgress  Outcome = "in_progress"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeError       Outcome = "error"
)

// AuthResult is what the redirect carried, plus the attempt context the
// exchange needs.
type AuthResult struct {
	Outcome  Outcome
	Provider string

	// Exactly one of Code or Token is set on success.
	Code  string
	Token string

	// ProviderError and Description carry the redirect's error and
	// error_description parameters.
	ProviderError string
	Description   string

	CodeVerifier string
	RedirectURI  string
	Linking      bool
}

// Classify maps redirect parameters onto an outcome.
func Classify(params url.Values) AuthResult {
	if e := params.Get("error"); e != "" {
		r := AuthResult{ProviderError: e, Description: params.Get("error_description")}
		switch e {
		case "access_denied":
			r.Outcome = OutcomeCancelled
		case "temporarily_unavailable", "server_error":
			r.Outcome = OutcomeUnavailable
		default:
			r.Outcome = OutcomeError
		}
		return r
	}
	if code := params.Get("code"); code != "" {
		return AuthResult{Outcome: OutcomeSuccess, Code: code}
	}
	for _, k := range []string{"token", "access_token"} {
		if tok := params.Get(k); tok != "" {
			return AuthResult{Outcome: OutcomeSuccess, Token: tok}
		}
	}
	return AuthResult{
		Outcome:       OutcomeError,
		ProviderError: "invalid_request",
		Description:   "redirect carried neither a code nor a token",
	}
}

// Err returns nil on success and the matching OAUTH_* error otherwise.
func (r AuthResult) Err() error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeCancelled:
		return model.NewOAuthError(model.ErrOAuthCancelled, "Authorization was cancelled")
	case OutcomeInProgress:
		return errInProgress()
	case OutcomeUnavailable:
		return model.NewOAuthError(model.ErrOAuthUnavailable, "The provider is temporarily unavailable")
	default:
		msg := r.Description
		if msg == "" {
			msg = r.ProviderError
		}
		if msg == "" {
			msg = "Authorization failed"
		}
		return model.NewOAuthError(model.ErrOAuthError, msg)
	}
}

// failurePayload is what the backend receives for a non-success outcome.
func (r AuthResult) failurePayload() map[string]string {
	desc := r.Description
	if desc == "" {
		desc = r.ProviderError
	}
	return map[string]string{
		"error":             string(r.Outcome),
		"error_description": desc,
	}
}

func errInProgress() error {
	return model.NewOAuthError(model.ErrOAuthInProgress, "An authorization for this provider is already in progress")
}

// IsInProgress reports whether err is the in-progress refusal.
func IsInProgress(err error) bool {
	env, ok := model.AsEnvelope(err)
	return ok && env.Code == model.ErrOAuthInProgress
}
