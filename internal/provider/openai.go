package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/taleweaver/taleweaver/internal/domain"
)

const defaultMaxAttempts = 3

var errEmptyResponse = errors.New("provider returned no choices")

// OpenAI is a Generator backed by an OpenAI-compatible chat-completions API.
type OpenAI struct {
	client      *openai.Client
	model       string
	channels    map[domain.Channel]ChannelParams
	backoff     BackoffFunc
	maxAttempts int
	logger      *slog.Logger
}

// Config holds OpenAI generator configuration.
type Config struct {
	BaseURL     string // empty = api.openai.com
	APIKey      string
	Model       string
	MaxAttempts int
	Channels    map[domain.Channel]ChannelParams
	Backoff     BackoffFunc
}

// NewOpenAI creates a Generator talking to an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	channels := cfg.Channels
	if channels == nil {
		channels = DefaultChannelParams()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		channels:    channels,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

// Generate calls the provider with bounded retry. The whole call, retries
// included, is bounded by the channel timeout. Transient failures
// (network, 5xx, rate limit) are retried with exponential backoff; a rate
// limit that names a wait duration overrides the backoff for that attempt.
func (g *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	params, ok := g.channels[req.Channel]
	if !ok {
		return "", &Failure{Kind: FailureRejected, Attempts: 0, Err: fmt.Errorf("unknown channel %q", req.Channel)}
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := g.backoff(attempt - 1)
			if suggested, ok := suggestedWait(lastErr); ok {
				wait = suggested
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", &Failure{Kind: FailureTimeout, Attempts: attempt, Err: ctx.Err()}
			}
		}

		text, err := g.generateOnce(ctx, req, params)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", &Failure{Kind: FailureTimeout, Attempts: attempt + 1, Err: lastErr}
		}
		if !transient(err) {
			return "", &Failure{Kind: FailureRejected, Attempts: attempt + 1, Err: err}
		}
		g.logger.Warn("provider attempt failed",
			"channel", req.Channel,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return "", &Failure{Kind: FailureExhausted, Attempts: g.maxAttempts, Err: lastErr}
}

func (g *OpenAI) generateOnce(ctx context.Context, req Request, params ChannelParams) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.Turns {
		role := openai.ChatMessageRoleAssistant
		if turn.Role == domain.RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// transient reports whether the error is worth retrying: network-level
// failures, server-side 5xx, and rate limits. Malformed-request class
// errors are not.
func transient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 ||
			reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, errEmptyResponse) {
		return true
	}
	// Anything that is not an HTTP-level rejection is a transport error.
	return true
}

// waitPattern matches the wait hint OpenAI-compatible services embed in
// rate-limit messages, e.g. "Please try again in 20s" or "in 350ms".
var waitPattern = regexp.MustCompile(`try again in (\d+(?:\.\d+)?)(ms|s)`)

// suggestedWait extracts the provider-suggested wait from a rate-limit
// error, if present.
func suggestedWait(err error) (time.Duration, bool) {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	m := waitPattern.FindStringSubmatch(apiErr.Message)
	if m == nil {
		return 0, false
	}
	n, convErr := strconv.ParseFloat(m[1], 64)
	if convErr != nil {
		return 0, false
	}
	unit := time.Second
	if m[2] == "ms" {
		unit = time.Millisecond
	}
	return time.Duration(n * float64(unit)), true
}
