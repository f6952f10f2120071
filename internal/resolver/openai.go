package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"intent-trader/internal/models"
)

// OpenAIConfig configures OpenAIResolver.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	DefaultModel      string
	MaxTokens         int
	RequestsPerSecond float64
	Burst             int
	Tiers             []models.ModelTier
}

// OpenAIResolver resolves intents with the chat completions API in JSON mode.
type OpenAIResolver struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
	limiter      *rate.Limiter
	rates        map[string]CostRate
	logger       zerolog.Logger
}

// NewOpenAIResolver creates a resolver. Requests are paced by a token
// bucket; a non-positive rate disables pacing.
func NewOpenAIResolver(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIResolver {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	rates := make(map[string]CostRate, len(cfg.Tiers))
	defaultModel := cfg.DefaultModel
	for _, t := range cfg.Tiers {
		rates[t.Name] = CostRate{In: t.CostPerKTokenIn, Out: t.CostPerKTokenOut}
		if defaultModel == "" && t.Recommended {
			defaultModel = t.Name
		}
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}

	return &OpenAIResolver{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: defaultModel,
		maxTokens:    cfg.MaxTokens,
		limiter:      rate.NewLimiter(limit, burst),
		rates:        rates,
		logger:       logger.With().Str("component", "resolver").Str("provider", "openai").Logger(),
	}
}

func (r *OpenAIResolver) Name() string { return "openai" }

// CostPerKTokens returns the price of the default model.
func (r *OpenAIResolver) CostPerKTokens() CostRate {
	return r.rates[r.defaultModel]
}

// Resolve sends one JSON-mode completion and parses the object it returns.
func (r *OpenAIResolver) Resolve(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	model := req.Model
	if model == "" {
		model = r.defaultModel
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	data, confidence, err := ParseModelOutput(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	if resp.Model != "" {
		model = resp.Model
	}
	r.logger.Debug().
		Str("request_id", req.ID).
		Str("model", model).
		Int("tokens_in", resp.Usage.PromptTokens).
		Int("tokens_out", resp.Usage.CompletionTokens).
		Float64("confidence", confidence).
		Msg("model resolution")

	return &Response{
		Data:       data,
		Confidence: confidence,
		Model:      model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
	}, nil
}

// Health lists models as a cheap authenticated round trip.
func (r *OpenAIResolver) Health(ctx context.Context) (bool, error) {
	if _, err := r.client.ListModels(ctx); err != nil {
		return false, fmt.Errorf("openai health: %w", err)
	}
	return true, nil
}
