package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/operantlabs/operant/internal/agent"
	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/internal/jobs"
	"github.com/operantlabs/operant/internal/registry"
	"github.com/operantlabs/operant/pkg/models"
)

// respond writes the CRUDResponse envelope every management endpoint uses.
func respond(w http.ResponseWriter, status int, message string, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.CRUDResponse{ //nolint:errcheck
		Status:  status,
		Message: message,
		Result:  result,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, message, nil)
}

// decodeJSON reads a request body into v, rejecting unknown garbage with
// a uniform error message.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseIntParam reads an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, def int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return def
	}
	parsed, ok := parseIntSafe(value)
	if !ok {
		return def
	}
	return parsed
}

func parseIntSafe(s string) (int, bool) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			return 0, false
		}
	}
	return n, true
}

// errorStatus maps runtime failures to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrTerminal),
		errors.Is(err, agent.ErrTurnActive),
		errors.Is(err, agent.ErrSessionEnded),
		errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, providers.ErrUnsupportedHosting):
		return http.StatusBadRequest
	case errors.Is(err, providers.ErrMissingCredential):
		return http.StatusUnprocessableEntity
	}

	var turnErr *agent.TurnError
	if errors.As(err, &turnErr) {
		switch turnErr.Kind {
		case agent.KindValidation:
			return http.StatusUnprocessableEntity
		case agent.KindSafetyDenied:
			return http.StatusForbidden
		case agent.KindProviderTransient:
			return http.StatusTooManyRequests
		case agent.KindProviderFatal:
			return http.StatusBadGateway
		case agent.KindInterrupted:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// respondEngineError writes a failure with its mapped status.
func respondEngineError(w http.ResponseWriter, err error) {
	respondError(w, errorStatus(err), err.Error())
}
