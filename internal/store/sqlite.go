package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. Foreign keys
	// must be on for session deletion to cascade to messages.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		level TEXT NOT NULL DEFAULT '',
		setting TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		scenario_id TEXT NOT NULL REFERENCES scenarios(id),
		completed INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		completed_at INTEGER,
		duration_seconds INTEGER,
		main_messages INTEGER NOT NULL DEFAULT 0 CHECK (main_messages >= 0),
		helper_messages INTEGER NOT NULL DEFAULT 0 CHECK (helper_messages >= 0),
		CHECK ((completed = 0 AND completed_at IS NULL) OR (completed = 1 AND completed_at IS NOT NULL))
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(user_id) WHERE completed = 0;
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_stale ON sessions(last_activity_at) WHERE completed = 0;

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		channel TEXT NOT NULL,
		content TEXT NOT NULL,
		dedup_key TEXT,
		reply_to INTEGER,
		sent_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_dedup ON messages(session_id, channel, dedup_key) WHERE dedup_key IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_reply ON messages(session_id, reply_to) WHERE reply_to IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_messages_order ON messages(session_id, channel, sent_at, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withBusyRetry retries fn on SQLITE_BUSY / database-locked errors with
// exponential backoff: 100ms, 200ms, 400ms.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return withBusyRetry(ctx, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username,
			user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// UpsertScenario creates or updates a scenario record.
func (s *SQLiteStore) UpsertScenario(ctx context.Context, sc *domain.Scenario) error {
	query := `
	INSERT INTO scenarios (id, title, description, level, setting, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		level = excluded.level,
		setting = excluded.setting`

	createdAt := sc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		sc.ID, sc.Title, sc.Description, sc.Level, sc.Setting, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert scenario: %w", err)
	}
	return nil
}

// GetScenario retrieves a scenario by ID.
func (s *SQLiteStore) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	query := `SELECT id, title, description, level, setting, created_at FROM scenarios WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var sc domain.Scenario
	var createdAt int64
	err := row.Scan(&sc.ID, &sc.Title, &sc.Description, &sc.Level, &sc.Setting, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scenario row: %w", err)
	}

	sc.CreatedAt = time.Unix(createdAt, 0)
	return &sc, nil
}

// ListScenarios returns all scenarios ordered by title.
func (s *SQLiteStore) ListScenarios(ctx context.Context) ([]*domain.Scenario, error) {
	query := `SELECT id, title, description, level, setting, created_at FROM scenarios ORDER BY title`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query scenarios: %w", err)
	}
	defer closeRows(rows, "scenarios")

	var scenarios []*domain.Scenario
	for rows.Next() {
		var sc domain.Scenario
		var createdAt int64
		if err := rows.Scan(&sc.ID, &sc.Title, &sc.Description, &sc.Level, &sc.Setting, &createdAt); err != nil {
			return nil, fmt.Errorf("scan scenario row: %w", err)
		}
		sc.CreatedAt = time.Unix(createdAt, 0)
		scenarios = append(scenarios, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenarios: %w", err)
	}
	return scenarios, nil
}

const sessionColumns = `id, user_id, scenario_id, completed, started_at,
	last_activity_at, completed_at, duration_seconds, main_messages, helper_messages`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	var completed int
	var startedAt, lastActivity int64
	var completedAt, duration sql.NullInt64

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.ScenarioID, &completed,
		&startedAt, &lastActivity, &completedAt, &duration,
		&sess.MainMessages, &sess.HelperMessages,
	)
	if err != nil {
		return nil, err
	}

	sess.Completed = completed != 0
	sess.StartedAt = time.Unix(startedAt, 0)
	sess.LastActivityAt = time.Unix(lastActivity, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		sess.CompletedAt = &ts
	}
	if duration.Valid {
		d := duration.Int64
		sess.DurationSeconds = &d
	}
	return &sess, nil
}

// CreateSession inserts a new active session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	query := `
	INSERT INTO sessions (id, user_id, scenario_id, completed, started_at, last_activity_at)
	VALUES (?, ?, ?, 0, ?, ?)`

	return withBusyRetry(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ID, sess.UserID, sess.ScenarioID,
			sess.StartedAt.Unix(), sess.LastActivityAt.Unix(),
		)
		if shared.IsUniqueViolation(err, "sessions.user_id") {
			return domain.ErrActiveSessionExists
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// GetActiveSession retrieves the user's single non-completed session.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND completed = 0`, userID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active session row: %w", err)
	}
	return sess, nil
}

// ListSessions returns all of a user's sessions, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY started_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and, by cascade, its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return withBusyRetry(ctx, "delete session", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrSessionNotFound
		}
		return nil
	})
}

// CompleteSession atomically transitions an active session to completed.
// The conditional UPDATE on completed = 0 is the compare-and-set: of two
// concurrent completion attempts exactly one write takes effect, and the
// loser observes the winner's final state.
func (s *SQLiteStore) CompleteSession(ctx context.Context, id string, completedAt time.Time) (*domain.Session, bool, error) {
	query := `
	UPDATE sessions
	SET completed = 1,
	    completed_at = ?,
	    duration_seconds = MAX(0, ? - started_at),
	    last_activity_at = ?
	WHERE id = ? AND completed = 0`

	ts := completedAt.Unix()
	var won bool
	err := withBusyRetry(ctx, "complete session", func() error {
		result, err := s.db.ExecContext(ctx, query, ts, ts, ts, id)
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		won = rows > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sess == nil {
		return nil, false, domain.ErrSessionNotFound
	}
	return sess, won, nil
}

// GetStaleSessions returns active sessions with no activity since the cutoff.
func (s *SQLiteStore) GetStaleSessions(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE completed = 0 AND last_activity_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer closeRows(rows, "stale sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale sessions: %w", err)
	}
	return sessions, nil
}

// UserStats aggregates completed-session statistics for a user.
func (s *SQLiteStore) UserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	query := `
	SELECT COUNT(*),
	       COALESCE(SUM(duration_seconds), 0),
	       COALESCE(SUM(main_messages + helper_messages), 0)
	FROM sessions WHERE user_id = ? AND completed = 1`

	var stats domain.UserStats
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.CompletedSessions, &stats.TotalPracticeSeconds, &stats.TotalExchanges,
	)
	if err != nil {
		return nil, fmt.Errorf("query user stats: %w", err)
	}
	return &stats, nil
}

// CreateUserMessage inserts a human turn. The INSERT ... SELECT is
// conditional on the session still being active so a concurrent completion
// cannot slip a new turn into a completed session.
func (s *SQLiteStore) CreateUserMessage(ctx context.Context, msg *domain.Message) error {
	if !msg.Role.AllowedOn(msg.Channel) {
		return fmt.Errorf("%w: role %q not allowed on channel %q", domain.ErrValidation, msg.Role, msg.Channel)
	}

	query := `
	INSERT INTO messages (id, session_id, role, channel, content, dedup_key, sent_at)
	SELECT ?, ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ? AND completed = 0)
	RETURNING seq`

	var dedupKey any
	if msg.DedupKey != "" {
		dedupKey = msg.DedupKey
	}

	return withBusyRetry(ctx, "create user message", func() error {
		err := s.db.QueryRowContext(ctx, query,
			msg.ID, msg.SessionID, string(msg.Role), string(msg.Channel),
			msg.Content, dedupKey, msg.SentAt.Unix(),
			msg.SessionID,
		).Scan(&msg.Seq)
		if errors.Is(err, sql.ErrNoRows) {
			return s.sessionIneligible(ctx, msg.SessionID)
		}
		if shared.IsUniqueViolation(err, "messages.dedup_key") {
			return domain.ErrDuplicateMessage
		}
		if err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		return nil
	})
}

// CreateAssistantMessage inserts an assistant turn, bumps the channel
// counter and touches last_activity_at in one transaction. The counter
// moves via UPDATE ... = ... + 1 at the store, never read-modify-write in
// application memory.
func (s *SQLiteStore) CreateAssistantMessage(ctx context.Context, msg *domain.Message) (int, error) {
	if !msg.Role.AllowedOn(msg.Channel) {
		return 0, fmt.Errorf("%w: role %q not allowed on channel %q", domain.ErrValidation, msg.Role, msg.Channel)
	}

	counterCol := "main_messages"
	if msg.Channel == domain.ChannelHelper {
		counterCol = "helper_messages"
	}

	insert := `
	INSERT INTO messages (id, session_id, role, channel, content, reply_to, sent_at)
	SELECT ?, ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ? AND completed = 0)
	RETURNING seq`

	bump := `
	UPDATE sessions
	SET ` + counterCol + ` = ` + counterCol + ` + 1, last_activity_at = ?
	WHERE id = ?
	RETURNING ` + counterCol

	var count int
	err := withBusyRetry(ctx, "create assistant message", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer rollback(tx)

		err = tx.QueryRowContext(ctx, insert,
			msg.ID, msg.SessionID, string(msg.Role), string(msg.Channel),
			msg.Content, msg.ReplyTo, msg.SentAt.Unix(),
			msg.SessionID,
		).Scan(&msg.Seq)
		if errors.Is(err, sql.ErrNoRows) {
			return s.sessionIneligible(ctx, msg.SessionID)
		}
		if shared.IsUniqueViolation(err, "messages.reply_to") {
			return domain.ErrDuplicateReply
		}
		if err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}

		if err := tx.QueryRowContext(ctx, bump, msg.SentAt.Unix(), msg.SessionID).Scan(&count); err != nil {
			return fmt.Errorf("bump %s: %w", counterCol, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit assistant message: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// sessionIneligible distinguishes a missing session from a completed one
// after a conditional insert matched no rows.
func (s *SQLiteStore) sessionIneligible(ctx context.Context, sessionID string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	return domain.ErrSessionCompleted
}

// GetMessageByDedupKey retrieves the human turn recorded under a dedup key.
func (s *SQLiteStore) GetMessageByDedupKey(ctx context.Context, sessionID string, ch domain.Channel, key string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		messageSelect+` WHERE session_id = ? AND channel = ? AND dedup_key = ?`,
		sessionID, string(ch), key)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message by dedup key: %w", err)
	}
	return msg, nil
}

// GetReply retrieves the assistant turn answering the given human turn.
func (s *SQLiteStore) GetReply(ctx context.Context, sessionID string, replyTo int64) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		messageSelect+` WHERE session_id = ? AND reply_to = ?`,
		sessionID, replyTo)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reply: %w", err)
	}
	return msg, nil
}

// RecentHistory returns the most recent limit turns on a channel, oldest
// first. The (sent_at, seq) sort key keeps prompt windows deterministic
// when several messages share a second-resolution timestamp.
func (s *SQLiteStore) RecentHistory(ctx context.Context, sessionID string, ch domain.Channel, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE session_id = ? AND channel = ? ORDER BY sent_at DESC, seq DESC LIMIT ?`,
		sessionID, string(ch), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer closeRows(rows, "history")

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns the full ordered transcript for a session.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE session_id = ? ORDER BY sent_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	return collectMessages(rows)
}

const messageSelect = `
	SELECT seq, id, session_id, role, channel, content, dedup_key, reply_to, sent_at
	FROM messages`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var msg domain.Message
	var role, channel string
	var dedupKey sql.NullString
	var replyTo sql.NullInt64
	var sentAt int64

	err := row.Scan(
		&msg.Seq, &msg.ID, &msg.SessionID, &role, &channel,
		&msg.Content, &dedupKey, &replyTo, &sentAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Role = domain.Role(role)
	msg.Channel = domain.Channel(channel)
	msg.DedupKey = dedupKey.String
	msg.ReplyTo = replyTo.Int64
	msg.SentAt = time.Unix(sentAt, 0)
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("failed to roll back transaction", "error", err)
	}
}
