package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/identity"
)

type startSessionRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required,max=64"`
}

// StartSession begins a new practice session in a scenario.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.engine.StartSession(r.Context(), userID, req.ScenarioID)
	if err != nil {
		slog.Warn("failed to start session", "user_id", userID, "scenario_id", req.ScenarioID, "error", err)
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusCreated, sess)
}

// ListSessions returns the user's session history, most recent first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list sessions", "user_id", userID, "error", err)
		DomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}

	JSON(w, http.StatusOK, sessions)
}

// GetActiveSession returns the user's single non-completed session.
func (h *Handler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess, err := h.repo.GetActiveSession(r.Context(), userID)
	if err != nil {
		slog.Error("failed to get active session", "user_id", userID, "error", err)
		DomainError(w, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "no active session")
		return
	}

	JSON(w, http.StatusOK, sess)
}

// GetSession returns one of the user's sessions by ID.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess)
}

// DeleteSession removes a session and its messages.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteSession(r.Context(), sess.ID); err != nil {
		slog.Error("failed to delete session", "session_id", sess.ID, "error", err)
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListMessages returns the full ordered transcript for a session.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), sess.ID)
	if err != nil {
		slog.Error("failed to list messages", "session_id", sess.ID, "error", err)
		DomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	JSON(w, http.StatusOK, msgs)
}

// ownedSession loads the session from the URL and verifies it belongs to
// the requesting user. A foreign session reads as not found.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	sess, err := h.repo.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("failed to get session", "error", err)
		DomainError(w, err)
		return nil, false
	}
	if sess == nil || sess.UserID != userID {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
