// Package domain contains core domain types for the Taleweaver application.
package domain

import (
	"time"
)

// Session represents one ongoing or finished practice conversation.
// At most one non-completed session exists per user; the store enforces
// this with a partial unique index, not an application check.
type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ScenarioID      string     `json:"scenario_id"`
	Completed       bool       `json:"completed"`
	StartedAt       time.Time  `json:"started_at"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	MainMessages    int        `json:"main_messages"`
	HelperMessages  int        `json:"helper_messages"`
}

// Active returns true if the session can still accept message exchanges.
func (s *Session) Active() bool {
	return !s.Completed
}

// Summary returns the completion summary for a completed session.
// Returns nil while the session is still active.
func (s *Session) Summary() *CompletionSummary {
	if !s.Completed || s.CompletedAt == nil {
		return nil
	}
	duration := int64(s.CompletedAt.Sub(s.StartedAt).Seconds())
	if s.DurationSeconds != nil {
		duration = *s.DurationSeconds
	}
	return &CompletionSummary{
		CompletedAt:     *s.CompletedAt,
		DurationSeconds: duration,
		MainMessages:    s.MainMessages,
		HelperMessages:  s.HelperMessages,
	}
}

// CompletionSummary carries the final state of a completed session.
type CompletionSummary struct {
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	MainMessages    int       `json:"main_messages"`
	HelperMessages  int       `json:"helper_messages"`
}
