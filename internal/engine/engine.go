// Package engine implements the message exchange and session-completion
// core: idempotent message intake, provider orchestration, completion
// detection and the session state transition it triggers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/taleweaver/taleweaver/internal/domain"
	"github.com/taleweaver/taleweaver/internal/prompt"
	"github.com/taleweaver/taleweaver/internal/provider"
	"github.com/taleweaver/taleweaver/internal/store"
)

// Engine orchestrates a message exchange: validate, check eligibility,
// check idempotency, persist the human turn, call the provider, persist
// the assistant turn, detect completion, transition the session.
type Engine struct {
	repo     store.Repository
	gen      provider.Generator
	prompts  *prompt.Library
	detector Detector
	window   int
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// Config holds engine tuning knobs.
type Config struct {
	// HistoryWindow is the number of recent turns sent to the provider,
	// the new human turn included. Zero means prompt.HistoryWindow.
	HistoryWindow int
	// HardCeiling is the main-channel exchange count that forces
	// completion. Zero means DefaultHardCeiling.
	HardCeiling int
}

// New creates an Engine. events may be nil.
func New(repo store.Repository, gen provider.Generator, prompts *prompt.Library, cfg Config, events Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = prompt.HistoryWindow
	}
	return &Engine{
		repo:     repo,
		gen:      gen,
		prompts:  prompts,
		detector: NewDetector(prompts.Marker(), cfg.HardCeiling),
		window:   window,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// ExchangeInput is one "submit message" call.
type ExchangeInput struct {
	SessionID string
	Channel   domain.Channel
	Text      string
	DedupKey  string
}

// ExchangeResult is the assembled outcome of a message exchange.
type ExchangeResult struct {
	UserMessage        *domain.Message
	AssistantMessage   *domain.Message
	CompletionDetected bool
	SessionCompleted   bool
	Replayed           bool
	Summary            *domain.CompletionSummary
}

func (in *ExchangeInput) validate() error {
	if in.SessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if !in.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, in.Channel)
	}
	if in.Text == "" {
		return fmt.Errorf("%w: message text is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(in.Text) > domain.MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters", domain.ErrValidation, domain.MaxMessageLength)
	}
	return nil
}

// Exchange processes one chat turn. The human turn is durably persisted
// before the provider is called, so a provider failure never loses the
// user's input; a retry with the same dedup key resumes from the provider
// call instead of duplicating the human turn.
func (e *Engine) Exchange(ctx context.Context, in ExchangeInput) (*ExchangeResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	sess, err := e.repo.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}

	// A fully recorded pair replays verbatim before the completed guard,
	// so retrying the exchange that completed the session returns the
	// same output as the original call. Replay writes nothing.
	var human *domain.Message
	if in.DedupKey != "" {
		prior, err := e.repo.GetMessageByDedupKey(ctx, sess.ID, in.Channel, in.DedupKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prior != nil {
			reply, err := e.repo.GetReply(ctx, sess.ID, prior.Seq)
			if err != nil {
				return nil, fmt.Errorf("idempotency reply lookup: %w", err)
			}
			if reply != nil {
				e.logger.Info("replaying completed exchange", "session_id", sess.ID, "channel", in.Channel)
				return e.assembleReplay(ctx, sess.ID, prior, reply)
			}
			human = prior
		}
	}

	if sess.Completed {
		return nil, domain.ErrSessionCompleted
	}

	if human == nil {
		var replay *ExchangeResult
		human, replay, err = e.intake(ctx, sess, in)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			return replay, nil
		}
	} else {
		// Human turn persisted, assistant turn missing: resume from the
		// provider call.
		e.logger.Info("resuming interrupted exchange", "session_id", sess.ID, "channel", in.Channel)
	}

	text, err := e.generate(ctx, sess, in.Channel, human)
	if err != nil {
		// The human turn stays persisted; the caller can retry with the
		// same dedup key and resume from here.
		return nil, err
	}

	marker := false
	if in.Channel == domain.ChannelMain {
		text, marker = e.detector.Strip(text)
	}

	assistant := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      domain.AssistantRole(in.Channel),
		Channel:   in.Channel,
		Content:   text,
		ReplyTo:   human.Seq,
		SentAt:    e.now(),
	}

	count, err := e.repo.CreateAssistantMessage(ctx, assistant)
	if errors.Is(err, domain.ErrDuplicateReply) {
		// A concurrent twin of this request answered first. Return its
		// pair so both callers observe identical output.
		return e.replayPair(ctx, sess.ID, human)
	}
	if err != nil {
		return nil, err
	}

	e.publish(Event{Type: EventMessage, SessionID: sess.ID, Message: assistant})

	done := marker
	if in.Channel == domain.ChannelMain && !done && e.detector.Reached(count) {
		e.logger.Info("hard ceiling reached", "session_id", sess.ID, "count", count)
		done = true
	}

	result := &ExchangeResult{
		UserMessage:        human,
		AssistantMessage:   assistant,
		CompletionDetected: done,
	}

	if done {
		final, err := e.CompleteSession(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		result.SessionCompleted = true
		result.Summary = final.Summary()
	}

	return result, nil
}

// intake persists the human turn. The caller has already checked the
// dedup key; the unique-key constraint still closes the window where a
// concurrent twin inserts between that lookup and this insert.
func (e *Engine) intake(ctx context.Context, sess *domain.Session, in ExchangeInput) (*domain.Message, *ExchangeResult, error) {
	human := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      domain.RoleUser,
		Channel:   in.Channel,
		Content:   in.Text,
		DedupKey:  in.DedupKey,
		SentAt:    e.now(),
	}
	err := e.repo.CreateUserMessage(ctx, human)
	if errors.Is(err, domain.ErrDuplicateMessage) {
		// A concurrent twin inserted the same key between our lookup and
		// our insert. Adopt its row; the reply-uniqueness constraint
		// guarantees at most one of us persists the assistant turn.
		prior, lookupErr := e.repo.GetMessageByDedupKey(ctx, sess.ID, in.Channel, in.DedupKey)
		if lookupErr != nil {
			return nil, nil, fmt.Errorf("duplicate message lookup: %w", lookupErr)
		}
		if prior == nil {
			return nil, nil, fmt.Errorf("duplicate message vanished: %w", err)
		}
		reply, lookupErr := e.repo.GetReply(ctx, sess.ID, prior.Seq)
		if lookupErr != nil {
			return nil, nil, fmt.Errorf("duplicate reply lookup: %w", lookupErr)
		}
		if reply != nil {
			res, assembleErr := e.assembleReplay(ctx, sess.ID, prior, reply)
			return nil, res, assembleErr
		}
		return prior, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return human, nil, nil
}

// generate builds the provider request from the per-channel system context
// and the recent conversation window, then calls the provider.
func (e *Engine) generate(ctx context.Context, sess *domain.Session, ch domain.Channel, human *domain.Message) (string, error) {
	sc, err := e.repo.GetScenario(ctx, sess.ScenarioID)
	if err != nil {
		return "", fmt.Errorf("load scenario: %w", err)
	}
	if sc == nil {
		return "", fmt.Errorf("scenario %q not found for session %q", sess.ScenarioID, sess.ID)
	}

	history, err := e.repo.RecentHistory(ctx, sess.ID, ch, e.window)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	turns := make([]provider.Turn, 0, len(history)+1)
	sawHuman := false
	for _, msg := range history {
		if msg.Seq == human.Seq {
			sawHuman = true
		}
		turns = append(turns, provider.Turn{Role: msg.Role, Content: msg.Content})
	}
	if !sawHuman {
		turns = append(turns, provider.Turn{Role: human.Role, Content: human.Content})
	}

	return e.gen.Generate(ctx, provider.Request{
		Channel: ch,
		System:  e.prompts.System(ch, sc),
		Turns:   turns,
	})
}

// replayPair returns the already-recorded pair for a human turn whose
// assistant reply was written by a concurrent request.
func (e *Engine) replayPair(ctx context.Context, sessionID string, human *domain.Message) (*ExchangeResult, error) {
	reply, err := e.repo.GetReply(ctx, sessionID, human.Seq)
	if err != nil {
		return nil, fmt.Errorf("replay lookup: %w", err)
	}
	if reply == nil {
		return nil, fmt.Errorf("assistant reply vanished for session %q", sessionID)
	}
	return e.assembleReplay(ctx, sessionID, human, reply)
}

// assembleReplay rebuilds the response for an already-processed exchange
// from the persisted pair and the session's current state, so a retried
// request returns the same output as the original.
func (e *Engine) assembleReplay(ctx context.Context, sessionID string, human, reply *domain.Message) (*ExchangeResult, error) {
	sess, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay session lookup: %w", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}

	result := &ExchangeResult{
		UserMessage:        human,
		AssistantMessage:   reply,
		CompletionDetected: sess.Completed,
		SessionCompleted:   sess.Completed,
		Replayed:           true,
	}
	if sess.Completed {
		result.Summary = sess.Summary()
	}
	return result, nil
}

func (e *Engine) publish(ev Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
