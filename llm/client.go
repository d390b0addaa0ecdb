// Package llm exposes a small multi-provider client over the
// OpenAI-compatible chat completion protocol. Providers are registered by
// name from the profile; each gets its own endpoint, credentials, and
// rate limiter.
package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hivemind-ai/hive/internal/profile"
)

// Request is a single prompt against a named model.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
}

// TokenUsage mirrors the provider-reported token accounting.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the completion text plus usage when the provider reports it.
type Response struct {
	Content string
	Usage   *TokenUsage
}

// Client dispatches requests to a named provider.
type Client interface {
	Call(ctx context.Context, provider string, req Request) (*Response, error)
	Providers() []string
}

type service struct {
	providers map[string]*providerClient
	timeout   time.Duration
}

type providerClient struct {
	api     *openai.Client
	limiter *rate.Limiter
}

// NewClient builds a client from the profile's provider table.
func NewClient(p *profile.Profile) Client {
	s := &service{
		providers: make(map[string]*providerClient, len(p.Providers)),
		timeout:   p.LLMTimeout,
	}
	for name, cfg := range p.Providers {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			clientConfig.BaseURL = cfg.Endpoint
		}
		s.providers[strings.ToLower(name)] = &providerClient{
			api:     openai.NewClientWithConfig(clientConfig),
			limiter: rate.NewLimiter(rate.Limit(p.LLMRequestsPerSecond), int(p.LLMRequestsPerSecond)+1),
		}
		slog.Info("registered LLM provider", "provider", name, "endpoint", clientConfig.BaseURL)
	}
	return s
}

func (s *service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

func (s *service) Call(ctx context.Context, provider string, req Request) (*Response, error) {
	pc, ok := s.providers[strings.ToLower(provider)]
	if !ok {
		return nil, errors.Errorf("provider %q not found", provider)
	}
	if req.Model == "" {
		return nil, errors.New("model is required")
	}

	if err := pc.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()
	resp, err := pc.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "chat completion via %s", provider)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Errorf("provider %s returned an empty completion", provider)
	}
	slog.Debug("LLM call finished",
		"provider", provider,
		"model", req.Model,
		"duration", time.Since(start),
		"total_tokens", resp.Usage.TotalTokens)

	out := &Response{Content: resp.Choices[0].Message.Content}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}
