package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/taleweaver/taleweaver/internal/domain"
)

// CompleteSession transitions a session from active to completed. The
// transition is a compare-and-set at the store: of two concurrent
// completion attempts exactly one write takes effect. Losing the race is
// treated as success, because the desired end state is reached either
// way, and the loser returns the winner's final state.
func (e *Engine) CompleteSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, won, err := e.repo.CompleteSession(ctx, sessionID, e.now())
	if err != nil {
		return nil, err
	}

	if won {
		e.logger.Info("session completed",
			"session_id", sess.ID,
			"duration_seconds", derefInt64(sess.DurationSeconds),
			"main_messages", sess.MainMessages,
			"helper_messages", sess.HelperMessages,
		)
		e.publish(Event{Type: EventCompleted, SessionID: sess.ID, Summary: sess.Summary()})
	} else {
		e.logger.Debug("completion race lost, session already completed", "session_id", sess.ID)
	}
	return sess, nil
}

// StartSession creates a new active session for the user. The store's
// one-active-session-per-user constraint decides the winner when two
// requests race; the loser gets domain.ErrActiveSessionExists.
func (e *Engine) StartSession(ctx context.Context, userID, scenarioID string) (*domain.Session, error) {
	sc, err := e.repo.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, domain.ErrScenarioNotFound
	}

	now := e.now()
	sess := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ScenarioID:     scenarioID,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := e.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	e.logger.Info("session started", "session_id", sess.ID, "scenario_id", scenarioID)
	return sess, nil
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
