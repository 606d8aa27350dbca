package api

import (
	"log/slog"
	"net/http"

	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/engine"
)

type submitMessageRequest struct {
	Channel  string `json:"channel" validate:"required,oneof=main helper"`
	Text     string `json:"text" validate:"required,min=1,max=8000"`
	DedupKey string `json:"dedup_key" validate:"omitempty,max=128"`
}

// submitMessageResponse is byte-identical for the original call and any
// retry of the same dedup key, so replays are invisible on the wire.
type submitMessageResponse struct {
	UserMessage        *domain.Message           `json:"user_message"`
	AssistantMessage   *domain.Message           `json:"assistant_message"`
	CompletionDetected bool                      `json:"completion_detected"`
	SessionCompleted   bool                      `json:"session_completed"`
	Summary            *domain.CompletionSummary `json:"summary,omitempty"`
}

// SubmitMessage accepts one chat turn and returns the persisted pair.
// Clients retry safely by resending the same dedup_key.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	var req submitMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.Exchange(r.Context(), engine.ExchangeInput{
		SessionID: sess.ID,
		Channel:   domain.Channel(req.Channel),
		Text:      req.Text,
		DedupKey:  req.DedupKey,
	})
	if err != nil {
		// Message content never reaches the log.
		slog.Warn("exchange failed",
			"session_id", sess.ID,
			"channel", req.Channel,
			"error", err,
		)
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, submitMessageResponse{
		UserMessage:        result.UserMessage,
		AssistantMessage:   result.AssistantMessage,
		CompletionDetected: result.CompletionDetected,
		SessionCompleted:   result.SessionCompleted,
		Summary:            result.Summary,
	})
}
