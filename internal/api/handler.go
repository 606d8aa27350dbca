// Package api provides HTTP handlers for the Taleweaver API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/engine"
	"github.com/taleweaver/taleweaver/internal/provider"
	"github.com/taleweaver/taleweaver/internal/store"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

var validate = validator.New()

// Handler serves the session, message, scenario and profile endpoints.
type Handler struct {
	repo   store.Repository
	engine *engine.Engine
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, eng *engine.Engine) *Handler {
	return &Handler{repo: repo, engine: eng}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/scenarios", h.ListScenarios)
		r.Get("/scenarios/{id}", h.GetScenario)

		r.Post("/sessions", h.StartSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/active", h.GetActiveSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
		r.Get("/sessions/{id}/messages", h.ListMessages)
		r.Post("/sessions/{id}/messages", h.SubmitMessage)

		r.Get("/profile", h.GetProfile)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DomainError maps engine and store errors onto stable HTTP statuses.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrScenarioNotFound):
		Error(w, http.StatusNotFound, "scenario not found")
	case errors.Is(err, domain.ErrSessionCompleted):
		Error(w, http.StatusConflict, "session already completed")
	case errors.Is(err, domain.ErrActiveSessionExists):
		Error(w, http.StatusConflict, "active session already exists")
	default:
		if f, ok := provider.AsFailure(err); ok {
			switch f.Kind {
			case provider.FailureTimeout:
				Error(w, http.StatusGatewayTimeout, "assistant timed out")
			default:
				Error(w, http.StatusBadGateway, "assistant unavailable")
			}
			return
		}
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON decodes a size-limited JSON request body into v and runs
// struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}
