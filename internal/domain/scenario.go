package domain

import (
	"time"
)

// Scenario represents a practice scenario the user can start a session in.
type Scenario struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Level       string    `json:"level"`
	Setting     string    `json:"setting"`
	CreatedAt   time.Time `json:"created_at"`
}
