// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the BFF API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/perimeter-epitech/area/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
// UPSTREAM_ERROR is absent: it carries the backend's own status.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:  http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrNetworkError:       http.StatusBadGateway,
	model.ErrBackendUnavailable: http.StatusServiceUnavailable,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrOAuthCancelled:     http.StatusBadRequest,
	model.ErrOAuthInProgress:    http.StatusConflict,
	model.ErrOAuthUnavailable:   http.StatusServiceUnavailable,
	model.ErrOAuthError:         http.StatusBadGateway,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteRaw relays a backend JSON body unchanged. An empty body is written
// as {}.
func WriteRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// StatusFor returns the HTTP status an envelope is written with.
func StatusFor(ee *model.ErrorEnvelope) int {
	if ee.Code == model.ErrUpstreamError && ee.Status >= 400 {
		return ee.Status
	}
	if status := statusForCode[ee.Code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Wrapped envelopes are unwrapped; any other error becomes
// a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, StatusFor(ee), errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteMissingParameters writes the 400 every proxy route returns when a
// required field is absent.
func WriteMissingParameters(w http.ResponseWriter, fields ...string) {
	WriteError(w, model.NewMissingParametersError(fields...))
}
