// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/taleweaver/taleweaver/internal/domain"
)

// Repository defines the interface for persisting users, scenarios,
// sessions and messages.
//
// Lookup methods return (nil, nil) when the record does not exist.
// Constraint violations are mapped onto domain sentinel errors so callers
// never inspect driver error strings.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UpsertScenario creates or updates a scenario record.
	UpsertScenario(ctx context.Context, sc *domain.Scenario) error

	// GetScenario retrieves a scenario by ID.
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)

	// ListScenarios returns all scenarios ordered by title.
	ListScenarios(ctx context.Context) ([]*domain.Scenario, error)

	// CreateSession inserts a new active session. Returns
	// domain.ErrActiveSessionExists if the user already has a
	// non-completed session (enforced by a partial unique index).
	CreateSession(ctx context.Context, sess *domain.Session) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// GetActiveSession retrieves the user's single non-completed session.
	GetActiveSession(ctx context.Context, userID string) (*domain.Session, error)

	// ListSessions returns all of a user's sessions, most recent first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// DeleteSession removes a session and, by cascade, its messages.
	DeleteSession(ctx context.Context, id string) error

	// CompleteSession atomically transitions an active session to
	// completed (conditional UPDATE on completed = 0), setting
	// completed_at and duration_seconds. It never overwrites an existing
	// completion timestamp. Returns the final session row and whether
	// this call performed the transition; a lost race returns the row
	// written by the winner with won = false. Returns
	// domain.ErrSessionNotFound if the session does not exist.
	CompleteSession(ctx context.Context, id string, completedAt time.Time) (sess *domain.Session, won bool, err error)

	// GetStaleSessions returns active sessions with no activity since the
	// cutoff time.
	GetStaleSessions(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)

	// UserStats aggregates completed-session statistics for a user.
	UserStats(ctx context.Context, userID string) (*domain.UserStats, error)

	// CreateUserMessage inserts a human turn. The insert is conditional
	// on the session still being active, closing the race between the
	// eligibility check and a concurrent completion. Fills msg.Seq.
	// Rejects role/channel pairs the domain does not allow with
	// domain.ErrValidation.
	// Returns domain.ErrDuplicateMessage when the (session, channel,
	// dedup key) uniqueness constraint is violated,
	// domain.ErrSessionCompleted or domain.ErrSessionNotFound otherwise.
	CreateUserMessage(ctx context.Context, msg *domain.Message) error

	// CreateAssistantMessage inserts an assistant turn, increments the
	// session's channel counter and touches last_activity_at in one
	// transaction. Fills msg.Seq and returns the updated channel counter.
	// Returns domain.ErrDuplicateReply when an assistant turn already
	// exists for msg.ReplyTo.
	CreateAssistantMessage(ctx context.Context, msg *domain.Message) (count int, err error)

	// GetMessageByDedupKey retrieves the human turn recorded under the
	// given deduplication key, if any.
	GetMessageByDedupKey(ctx context.Context, sessionID string, ch domain.Channel, key string) (*domain.Message, error)

	// GetReply retrieves the assistant turn answering the human turn with
	// the given sequence number, if any.
	GetReply(ctx context.Context, sessionID string, replyTo int64) (*domain.Message, error)

	// RecentHistory returns the most recent limit turns on a channel,
	// ordered oldest first, with (sent_at, seq) as the stable sort key.
	RecentHistory(ctx context.Context, sessionID string, ch domain.Channel, limit int) ([]*domain.Message, error)

	// ListMessages returns the full ordered transcript for a session.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
