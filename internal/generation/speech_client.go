package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"fable-server/internal/config"
)

// ErrSpeechGeneration is returned when the TTS model fails or answers with
// empty audio.
var ErrSpeechGeneration = errors.New("speech generation failed")

// SpeechClient narrates scene text into an audio clip.
type SpeechClient interface {
	// GenerateSpeech returns the narration audio bytes and their content type.
	GenerateSpeech(ctx context.Context, text string) ([]byte, string, error)
}

var _ SpeechClient = (*openAISpeechClient)(nil)

type openAISpeechClient struct {
	client  *openaigo.Client
	model   string
	voice   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewSpeechClient builds the OpenAI-backed text-to-speech client.
func NewSpeechClient(cfg *config.Config, logger *zap.Logger) SpeechClient {
	clientCfg := openaigo.DefaultConfig(cfg.AIAPIKey)
	clientCfg.BaseURL = cfg.AIBaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.SpeechTimeout}
	return &openAISpeechClient{
		client:  openaigo.NewClientWithConfig(clientCfg),
		model:   cfg.SpeechModel,
		voice:   cfg.SpeechVoice,
		timeout: cfg.SpeechTimeout,
		logger:  logger.Named("SpeechClient"),
	}
}

func (c *openAISpeechClient) GenerateSpeech(ctx context.Context, text string) ([]byte, string, error) {
	if text == "" {
		return nil, "", fmt.Errorf("%w: text is empty", ErrSpeechGeneration)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateSpeech(ctx, openaigo.CreateSpeechRequest{
		Model: openaigo.SpeechModel(c.model),
		Voice: openaigo.SpeechVoice(c.voice),
		Input: text,
	})
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Speech generation failed", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"kind": kindSpeech, "model": c.model, "status": "error"}).Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrSpeechGeneration, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"kind": kindSpeech, "model": c.model, "status": "error_read"}).Inc()
		return nil, "", fmt.Errorf("%w: failed to read audio stream: %v", ErrSpeechGeneration, err)
	}
	if len(data) == 0 {
		aiRequestsTotal.With(prometheus.Labels{"kind": kindSpeech, "model": c.model, "status": "error_empty_response"}).Inc()
		return nil, "", fmt.Errorf("%w: empty response", ErrSpeechGeneration)
	}

	aiRequestsTotal.With(prometheus.Labels{"kind": kindSpeech, "model": c.model, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"kind": kindSpeech, "model": c.model}).Observe(duration.Seconds())

	c.logger.Info("Narration generated",
		zap.Duration("duration", duration),
		zap.Int("sizeBytes", len(data)),
		zap.Int("textChars", len(text)),
	)
	return data, "audio/mpeg", nil
}
