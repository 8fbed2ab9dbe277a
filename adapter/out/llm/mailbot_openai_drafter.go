// Package llm implements the language-model reply drafter.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"mailbot/core/port/out"
	"mailbot/pkg/httputil"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

// DrafterConfig configures the OpenAI drafter.
type DrafterConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Drafter implements out.DrafterPort with OpenAI chat completions.
type Drafter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	log         zerolog.Logger

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// NewDrafter creates a drafter. Returns out.ErrDrafterUnavailable without an API key.
func NewDrafter(cfg DrafterConfig, log zerolog.Logger) (*Drafter, error) {
	if cfg.APIKey == "" {
		return nil, out.ErrDrafterUnavailable
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 400
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = httputil.NewOptimizedClient(httputil.OpenAIClientConfig(timeout))

	return &Drafter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
		log:         log.With().Str("adapter", "openai").Logger(),
	}, nil
}

// DraftReply asks the model for a reply to messageText.
// An empty completion is returned as "" with no error; guardrails decide.
func (d *Drafter) DraftReply(ctx context.Context, systemPrompt, messageText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		MaxTokens:   d.maxTokens,
		Temperature: d.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: messageText},
		},
	})
	if err != nil {
		return "", wrapError(err)
	}

	d.promptTokens.Add(int64(resp.Usage.PromptTokens))
	d.completionTokens.Add(int64(resp.Usage.CompletionTokens))
	d.log.Debug().
		Str("model", d.model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("draft completed")

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Usage returns the cumulative token counts.
func (d *Drafter) Usage() (prompt, completion int64) {
	return d.promptTokens.Load(), d.completionTokens.Load()
}

func wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return out.NewRemoteServiceError("openai", out.RemoteErrNetwork, "request timed out", err, true)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return out.NewRemoteServiceError("openai", out.RemoteErrAuth, "authentication failed", err, false)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return out.NewRemoteServiceError("openai", out.RemoteErrRateLimit, "rate limited", err, true)
		case apiErr.HTTPStatusCode >= 500:
			return out.NewRemoteServiceError("openai", out.RemoteErrServer, "server error", err, true)
		case apiErr.HTTPStatusCode >= 400:
			return out.NewRemoteServiceError("openai", out.RemoteErrInvalidInput, "request rejected", err, false)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return out.NewRemoteServiceError("openai", out.RemoteErrServer, "request failed", err, true)
	}
	return out.NewRemoteServiceError("openai", out.RemoteErrNetwork, "request failed", err, true)
}

var _ out.DrafterPort = (*Drafter)(nil)
