package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against OpenAI's chat completion and
// embeddings APIs, adapted from internal/agent/providers/openai.go.
type OpenAIProvider struct {
	client *openai.Client
	base   BaseProvider
}

// NewOpenAIProvider creates an OpenAI provider. An empty apiKey yields a
// provider whose calls always fail, useful for a config where the key is
// simply unset (Probe reports down, Chat returns an error).
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{base: NewBaseProvider("openai", 3, time.Second)}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }
func (p *OpenAIProvider) Local() bool  { return false }

func (p *OpenAIProvider) Models() []models.Model {
	return []models.Model{
		{Name: "gpt-4o", Provider: "openai", CostPerToken: 0.000005, ContextWindow: 128000},
		{Name: "gpt-4-turbo", Provider: "openai", CostPerToken: 0.00001, ContextWindow: 128000},
		{Name: "gpt-3.5-turbo", Provider: "openai", CostPerToken: 0.0000005, ContextWindow: 16385},
	}
}

func (p *OpenAIProvider) Probe(ctx context.Context) models.ProviderHealth {
	if p.client == nil {
		return models.HealthDown
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := p.client.ListModels(probeCtx); err != nil {
		if IsRetryable(NewProviderError("openai", "", err)) {
			return models.HealthDegraded
		}
		return models.HealthDown
	}
	return models.HealthConnected
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (<-chan models.CompletionChunk, error) {
	if p.client == nil {
		return nil, NewProviderError("openai", req.Model, errors.New("openai api key not configured"))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var stream *openai.ChatCompletionStream
	lastErr := p.base.Retry(ctx, func(err error) bool { return IsRetryable(NewProviderError("openai", req.Model, err)) }, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if lastErr != nil {
		return nil, NewProviderError("openai", req.Model, lastErr)
	}

	chunks := make(chan models.CompletionChunk)
	go processOpenAIStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) Embeddings(ctx context.Context, model, text string) ([]float64, error) {
	if p.client == nil {
		return nil, NewProviderError("openai", model, errors.New("openai api key not configured"))
	}
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, NewProviderError("openai", model, err)
	}
	if len(resp.Data) == 0 {
		return nil, NewProviderError("openai", model, errors.New("empty embeddings response"))
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float64(f)
	}
	return vec, nil
}

// convertMessages adapts our domain Message shape to OpenAI's wire format.
// Shared by the OpenAI and OpenRouter providers since OpenRouter is
// OpenAI-API-compatible.
func convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		if msg.Role == models.RoleTool {
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Role = openai.ChatMessageRoleTool
		}
		result = append(result, oaiMsg)
	}
	return result
}

// processOpenAIStream drains an OpenAI stream into normalized chunks. Shared
// shape with OpenRouter's stream processor since both speak the same wire
// protocol.
func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- models.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	for {
		select {
		case <-ctx.Done():
			chunks <- models.CompletionChunk{Error: ctx.Err().Error()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushToolCalls(toolCalls, chunks)
				chunks <- models.CompletionChunk{FinishReason: "stop"}
				return
			}
			chunks <- models.CompletionChunk{Error: err.Error()}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- models.CompletionChunk{Delta: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}
		if resp.Choices[0].FinishReason == "tool_calls" {
			flushToolCalls(toolCalls, chunks)
			chunks <- models.CompletionChunk{FinishReason: "tool_calls"}
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

func flushToolCalls(toolCalls map[int]*models.ToolCall, chunks chan<- models.CompletionChunk) {
	for _, tc := range toolCalls {
		if tc.ID != "" && tc.Name != "" {
			chunks <- models.CompletionChunk{ToolCall: tc}
		}
	}
}
