package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"fable-server/internal/config"
)

// ErrImageGeneration is returned when the image model fails or answers with
// empty data.
var ErrImageGeneration = errors.New("image generation failed")

// ImageClient renders a scene illustration from a visual prompt.
type ImageClient interface {
	// GenerateImage returns the rendered image bytes and their content type.
	GenerateImage(ctx context.Context, prompt string) ([]byte, string, error)
}

var _ ImageClient = (*openAIImageClient)(nil)

type openAIImageClient struct {
	client  *openaigo.Client
	model   string
	size    string
	quality string
	style   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewImageClient builds the OpenAI-backed image client.
func NewImageClient(cfg *config.Config, logger *zap.Logger) ImageClient {
	clientCfg := openaigo.DefaultConfig(cfg.AIAPIKey)
	clientCfg.BaseURL = cfg.AIBaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.ImageTimeout}
	return &openAIImageClient{
		client:  openaigo.NewClientWithConfig(clientCfg),
		model:   cfg.ImageModel,
		size:    cfg.ImageSize,
		quality: cfg.ImageQuality,
		style:   cfg.ImageStyle,
		timeout: cfg.ImageTimeout,
		logger:  logger.Named("ImageClient"),
	}
}

func (c *openAIImageClient) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	if prompt == "" {
		return nil, "", fmt.Errorf("%w: prompt is empty", ErrImageGeneration)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateImage(ctx, openaigo.ImageRequest{
		Model:          c.model,
		Prompt:         prompt,
		Size:           c.size,
		Quality:        c.quality,
		Style:          c.style,
		N:              1,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Image generation failed", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"kind": kindImage, "model": c.model, "status": "error"}).Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrImageGeneration, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		aiRequestsTotal.With(prometheus.Labels{"kind": kindImage, "model": c.model, "status": "error_empty_response"}).Inc()
		return nil, "", fmt.Errorf("%w: empty response", ErrImageGeneration)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"kind": kindImage, "model": c.model, "status": "error_decode"}).Inc()
		return nil, "", fmt.Errorf("%w: failed to decode image data: %v", ErrImageGeneration, err)
	}

	aiRequestsTotal.With(prometheus.Labels{"kind": kindImage, "model": c.model, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"kind": kindImage, "model": c.model}).Observe(duration.Seconds())

	c.logger.Info("Image generated",
		zap.Duration("duration", duration),
		zap.Int("sizeBytes", len(data)),
	)
	return data, "image/png", nil
}
