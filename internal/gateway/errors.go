// Structured error responses.
//
// DESIGN: Every non-2xx body the gateway emits goes through WriteError (or
// through a terminal in-band error event once streaming has begun). Handlers
// never hand-write error JSON; that keeps stub routes and real failures on
// the same code path.
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrorKind identifies a class of gateway failure on the wire.
type ErrorKind string

const (
	ErrInvalidRequest  ErrorKind = "invalid_request_error"
	ErrNotFound        ErrorKind = "not_found_error"
	ErrNotImplemented  ErrorKind = "not_implemented_error"
	ErrUpstream        ErrorKind = "upstream_error"
	ErrUpstreamTimeout ErrorKind = "upstream_timeout_error"
)

// Status returns the HTTP status code for the error kind.
func (k ErrorKind) Status() int {
	switch k {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrNotImplemented:
		return http.StatusNotImplemented
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// apiError is the inner error object of the envelope.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// errorEnvelope is the canonical error body:
//
//	{"type": "error", "error": {"type": "<kind>", "message": "<text>"}}
type errorEnvelope struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

// newErrorEnvelope builds the canonical envelope for an error kind.
func newErrorEnvelope(kind ErrorKind, msg string) errorEnvelope {
	return errorEnvelope{Type: "error", Error: apiError{Type: string(kind), Message: msg}}
}

// WriteError writes a structured error response with the status code that
// matches the kind. Single call site for all non-2xx responses.
func WriteError(w http.ResponseWriter, kind ErrorKind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.Status())
	if err := json.NewEncoder(w).Encode(newErrorEnvelope(kind, msg)); err != nil {
		log.Debug().Err(err).Msg("failed to write error response")
	}
}
