package providers

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenRouterProvider implements Provider against OpenRouter's OpenAI-compatible
// API, adapted from internal/agent/providers/openrouter.go. OpenRouter fronts
// 200+ models from many vendors through a single unified endpoint.
type OpenRouterProvider struct {
	client       *openai.Client
	defaultModel string
	base         BaseProvider
}

// OpenRouterConfig configures an OpenRouterProvider.
type OpenRouterConfig struct {
	APIKey       string
	DefaultModel string
	AppName      string
	SiteURL      string
}

// NewOpenRouterProvider constructs an OpenRouterProvider.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o"
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = "https://openrouter.ai/api/v1"
	return &OpenRouterProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		base:         NewBaseProvider("openrouter", 3, time.Second),
	}, nil
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }
func (p *OpenRouterProvider) Local() bool  { return false }

func (p *OpenRouterProvider) Models() []models.Model {
	return []models.Model{
		{Name: "openai/gpt-4o", Provider: "openrouter", CostPerToken: 0.000005, ContextWindow: 128000},
		{Name: "anthropic/claude-3-haiku", Provider: "openrouter", CostPerToken: 0.00000025, ContextWindow: 200000},
		{Name: "anthropic/claude-3-sonnet", Provider: "openrouter", CostPerToken: 0.000003, ContextWindow: 200000},
		{Name: "meta-llama/llama-3-70b-instruct", Provider: "openrouter", CostPerToken: 0.0000009, ContextWindow: 8192},
		{Name: "mistralai/mixtral-8x7b-instruct", Provider: "openrouter", CostPerToken: 0.0000006, ContextWindow: 32768},
	}
}

func (p *OpenRouterProvider) Probe(ctx context.Context) models.ProviderHealth {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := p.client.ListModels(probeCtx); err != nil {
		if IsRetryable(NewProviderError("openrouter", "", err)) {
			return models.HealthDegraded
		}
		return models.HealthDown
	}
	return models.HealthConnected
}

func (p *OpenRouterProvider) Chat(ctx context.Context, req ChatRequest) (<-chan models.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var stream *openai.ChatCompletionStream
	lastErr := p.base.Retry(ctx, func(err error) bool { return IsRetryable(NewProviderError("openrouter", model, err)) }, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if lastErr != nil {
		return nil, NewProviderError("openrouter", model, lastErr)
	}

	chunks := make(chan models.CompletionChunk)
	go processOpenAIStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenRouterProvider) Embeddings(ctx context.Context, model, text string) ([]float64, error) {
	if model == "" {
		model = "openai/text-embedding-3-small"
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, NewProviderError("openrouter", model, err)
	}
	if len(resp.Data) == 0 {
		return nil, NewProviderError("openrouter", model, errors.New("empty embeddings response"))
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float64(f)
	}
	return vec, nil
}
