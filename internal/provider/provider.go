// Package provider wraps the generative-response service behind a small
// Generator interface with per-channel timeouts, bounded retry and
// structured failure classification.
package provider

import (
	"context"
	"time"

	"github.com/taleweaver/taleweaver/internal/domain"
)

// Turn is one prior message in the conversation window sent to the provider.
type Turn struct {
	Role    domain.Role
	Content string
}

// Request carries everything the provider needs to generate a reply:
// the channel selection, the system context, and the ordered conversation
// window ending with the newest human turn.
type Request struct {
	Channel domain.Channel
	System  string
	Turns   []Turn
}

// Generator produces assistant text for a conversation window.
// Implementations classify failures as *Failure so callers can map them
// to stable failure kinds without inspecting transport errors.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ChannelParams holds per-channel generation settings. The main channel
// gets a longer budget than the helper channel: narrative replies are
// longer, hints are short.
type ChannelParams struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// DefaultChannelParams returns the per-channel defaults.
func DefaultChannelParams() map[domain.Channel]ChannelParams {
	return map[domain.Channel]ChannelParams{
		domain.ChannelMain: {
			Timeout:     45 * time.Second,
			MaxTokens:   500,
			Temperature: 0.8,
		},
		domain.ChannelHelper: {
			Timeout:     20 * time.Second,
			MaxTokens:   300,
			Temperature: 0.3,
		},
	}
}

// BackoffFunc returns the wait duration before retry attempt (0-based).
type BackoffFunc func(attempt int) time.Duration

// DefaultBackoff doubles from one second: 1s, 2s, 4s.
func DefaultBackoff(attempt int) time.Duration {
	return time.Second << attempt
}
