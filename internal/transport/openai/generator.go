package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// Generator produces chat completions through the OpenAI-compatible API.
type Generator struct {
	client         *openai.Client
	model          string
	temperature    float32
	maxTokens      int
	requestTimeout time.Duration
	maxRetries     uint64
	provider       string
	logger         *zap.Logger
}

// GeneratorConfig holds the generation provider settings.
type GeneratorConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	RequestTimeout time.Duration
	MaxRetries     int
	Provider       string
	Logger         *zap.Logger
}

// NewGenerator creates an OpenAI-compatible chat completion provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Generator{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		requestTimeout: cfg.RequestTimeout,
		maxRetries:     uint64(maxRetries),
		provider:       cfg.Provider,
		logger:         cfg.Logger,
	}
}

// Model returns the configured default model name.
func (g *Generator) Model() string {
	return g.model
}

func (g *Generator) buildRequest(req domain.GenerationRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = g.model
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = g.temperature
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   g.maxTokens,
	}
}

// Generate implements domain.Generator with retries on transient failures.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	chatReq := g.buildRequest(req)
	start := time.Now()

	var resp openai.ChatCompletionResponse
	op := func() error {
		callCtx := ctx
		if g.requestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.requestTimeout)
			defer cancel()
		}

		var err error
		resp, err = g.client.CreateChatCompletion(callCtx, chatReq)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		if g.logger != nil {
			g.logger.Warn("Generation request failed, retrying", zap.Error(err))
		}
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, chatReq.Model, "error").Inc()
		return "", parseGenerationError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, chatReq.Model, "error").Inc()
		return "", fmt.Errorf("empty completion response: %w", domain.ErrGenerationUnavailable)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.provider, chatReq.Model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.provider, chatReq.Model).
		Observe(time.Since(start).Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(g.provider, chatReq.Model, "prompt").
			Add(float64(resp.Usage.PromptTokens))
		metrics.GenerationTokensTotal.WithLabelValues(g.provider, chatReq.Model, "completion").
			Add(float64(resp.Usage.CompletionTokens))
	}

	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements domain.StreamGenerator. Deltas are forwarded
// as they arrive; the stream is not retried once tokens have been sent.
func (g *Generator) GenerateStream(
	ctx context.Context, req domain.GenerationRequest, onDelta func(delta string) error,
) (string, error) {
	chatReq := g.buildRequest(req)
	chatReq.Stream = true

	callCtx := ctx
	if g.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
	}

	start := time.Now()

	stream, err := g.client.CreateChatCompletionStream(callCtx, chatReq)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, chatReq.Model, "error").Inc()
		return "", parseGenerationError(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.GenerationRequestsTotal.WithLabelValues(g.provider, chatReq.Model, "error").Inc()
			return full.String(), parseGenerationError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return full.String(), fmt.Errorf("deliver delta: %w", err)
		}
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.provider, chatReq.Model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.provider, chatReq.Model).
		Observe(time.Since(start).Seconds())

	return full.String(), nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseGenerationError wraps provider errors with domain.ErrGenerationUnavailable
// for correct 502 mapping.
func parseGenerationError(err error) error {
	wrap := domain.ErrGenerationUnavailable

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("generation API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("generation API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("generation API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("generation request failed: %w", wrap)
}
