package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/taleweaver/taleweaver/internal/domain"
)

// ListScenarios returns the scenario catalog.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.repo.ListScenarios(r.Context())
	if err != nil {
		slog.Error("failed to list scenarios", "error", err)
		DomainError(w, err)
		return
	}
	if scenarios == nil {
		scenarios = []*domain.Scenario{}
	}

	JSON(w, http.StatusOK, scenarios)
}

// GetScenario returns one scenario by ID.
func (h *Handler) GetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := h.repo.GetScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("failed to get scenario", "error", err)
		DomainError(w, err)
		return
	}
	if sc == nil {
		Error(w, http.StatusNotFound, "scenario not found")
		return
	}

	JSON(w, http.StatusOK, sc)
}
