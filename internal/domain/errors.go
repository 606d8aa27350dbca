package domain

import "errors"

// Sentinel errors shared between the store, the engine and the API layer.
// The store maps SQLite constraint violations onto these so callers never
// have to inspect driver error strings.
var (
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCompleted indicates the session is already completed and
	// accepts no further message exchanges.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrActiveSessionExists indicates the user already has a non-completed
	// session and cannot start another.
	ErrActiveSessionExists = errors.New("active session already exists")

	// ErrDuplicateMessage indicates a message with the same deduplication
	// key already exists on this session and channel.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrDuplicateReply indicates an assistant turn already exists for the
	// human turn this reply answers.
	ErrDuplicateReply = errors.New("duplicate assistant reply")

	// ErrScenarioNotFound indicates the referenced scenario does not exist.
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrValidation indicates malformed request input.
	ErrValidation = errors.New("validation failed")
)
