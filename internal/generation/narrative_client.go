package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"fable-server/internal/config"
)

// ErrNarrativeGeneration is returned when the chat model fails or answers with
// an empty response.
var ErrNarrativeGeneration = errors.New("narrative generation failed")

// NarrativeClient is the boundary to the chat model that writes scene text.
type NarrativeClient interface {
	GenerateNarrative(ctx context.Context, systemPrompt, userPayload string) (string, error)
}

var (
	_ NarrativeClient = (*openAINarrativeClient)(nil)
	_ NarrativeClient = (*ollamaNarrativeClient)(nil)
)

// NewNarrativeClient builds the narrative client selected by configuration.
func NewNarrativeClient(cfg *config.Config, logger *zap.Logger) (NarrativeClient, error) {
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		clientCfg := openaigo.DefaultConfig(cfg.AIAPIKey)
		clientCfg.BaseURL = cfg.AIBaseURL
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
		logger.Info("Using OpenAI narrative client",
			zap.String("baseURL", cfg.AIBaseURL),
			zap.String("model", cfg.AIModel),
			zap.Duration("timeout", cfg.AITimeout),
		)
		return &openAINarrativeClient{
			client:  openaigo.NewClientWithConfig(clientCfg),
			model:   cfg.AIModel,
			timeout: cfg.AITimeout,
			logger:  logger.Named("OpenAINarrative"),
		}, nil
	case "ollama":
		return newOllamaNarrativeClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown AI client type: %q", cfg.AIClientType)
	}
}

type openAINarrativeClient struct {
	client  *openaigo.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func (c *openAINarrativeClient) GenerateNarrative(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", fmt.Errorf("%w: system prompt is empty", ErrNarrativeGeneration)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: userPayload},
		},
		Temperature: 0.8,
		TopP:        0.95,
	})
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Chat completion failed", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"kind": kindNarrative, "model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: %v", ErrNarrativeGeneration, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"kind": kindNarrative, "model": c.model, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("%w: empty response", ErrNarrativeGeneration)
	}

	aiRequestsTotal.With(prometheus.Labels{"kind": kindNarrative, "model": c.model, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"kind": kindNarrative, "model": c.model}).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.Usage.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.Usage.CompletionTokens))
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("Chat completion received",
		zap.Duration("duration", duration),
		zap.Int("responseChars", len(content)),
		zap.Int("totalTokens", resp.Usage.TotalTokens),
	)
	return content, nil
}

type ollamaNarrativeClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func newOllamaNarrativeClient(cfg *config.Config, logger *zap.Logger) (NarrativeClient, error) {
	baseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL %q: %w", baseURL, err)
	}

	logger.Info("Using Ollama narrative client",
		zap.String("baseURL", baseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout),
	)
	return &ollamaNarrativeClient{
		client:  api.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout}),
		model:   cfg.AIModel,
		timeout: cfg.AITimeout,
		logger:  logger.Named("OllamaNarrative"),
	}, nil
}

func (c *ollamaNarrativeClient) GenerateNarrative(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", fmt.Errorf("%w: system prompt is empty", ErrNarrativeGeneration)
	}

	stream := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPayload},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": 0.8,
			"top_p":       0.95,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Ollama chat failed", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"kind": kindNarrative, "model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: %v", ErrNarrativeGeneration, err)
	}
	if resp.Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"kind": kindNarrative, "model": c.model, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("%w: empty response", ErrNarrativeGeneration)
	}

	aiRequestsTotal.With(prometheus.Labels{"kind": kindNarrative, "model": c.model, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"kind": kindNarrative, "model": c.model}).Observe(duration.Seconds())
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.PromptEvalCount))
		aiCompletionTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(resp.EvalCount))
	}

	return resp.Message.Content, nil
}
