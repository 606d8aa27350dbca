package api

import (
	"log/slog"
	"net/http"

	"github.com/taleweaver/taleweaver/internal/identity"
)

// GetProfile returns the current user and their practice statistics.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	stats, err := h.repo.UserStats(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load user stats", "user_id", userID, "error", err)
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
		"stats":    stats,
	})
}
