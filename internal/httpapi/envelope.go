// Package httpapi wires the HTTP surface: the authentication/authorization
// middleware chain, request routing via go-chi/chi/v5, and the REST/SSE
// handler set. The response
// envelope and writeJSON/writeError helpers follow a router.go convention
// of one small envelope type shared by every handler.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

// envelope is the canonical response shape for every JSON endpoint.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     *errBody `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

type errBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID(r),
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	var message string
	var details map[string]any
	if e, ok := apperr.As(err); ok {
		message = e.Message
		details = e.Details
	} else {
		message = "internal error"
	}
	if status >= 500 {
		log.Error().Err(err).Str("request_id", requestID(r)).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := envelope{
		Success: false,
		Error: &errBody{
			Code:    apperr.Code(kind),
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID(r),
	}
	if encErr := json.NewEncoder(w).Encode(env); encErr != nil {
		log.Error().Err(encErr).Msg("failed to encode error body")
	}
}

func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
