package domain

import (
	"time"
)

// User represents a user in the system.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserStats aggregates a user's practice history for the profile view.
type UserStats struct {
	CompletedSessions    int   `json:"completed_sessions"`
	TotalPracticeSeconds int64 `json:"total_practice_seconds"`
	TotalExchanges       int   `json:"total_exchanges"`
}
