package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// LocalProvider talks to a self-hosted "OpenClaw" inference runtime over a
// plain HTTP+SSE protocol local to this deployment. There is no published Go
// client for it, so this speaks the protocol directly with net/http rather
// than introducing a bespoke dependency for a wire format only this service
// understands.
type LocalProvider struct {
	baseURL string
	client  *http.Client
}

// NewLocalProvider constructs a LocalProvider pointed at baseURL (e.g.
// "http://openclaw.internal:8088").
func NewLocalProvider(baseURL string) *LocalProvider {
	return &LocalProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *LocalProvider) Name() string { return "local" }
func (p *LocalProvider) Local() bool  { return true }

func (p *LocalProvider) Models() []models.Model {
	return []models.Model{
		{Name: "openclaw-7b", Provider: "local", CostPerToken: 0, ContextWindow: 32000},
		{Name: "openclaw-13b", Provider: "local", CostPerToken: 0, ContextWindow: 32000},
	}
}

func (p *LocalProvider) Probe(ctx context.Context) models.ProviderHealth {
	if p.baseURL == "" {
		return models.HealthDown
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return models.HealthDown
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return models.HealthDown
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.HealthDegraded
	}
	return models.HealthConnected
}

type localChatRequest struct {
	Model     string         `json:"model"`
	System    string         `json:"system,omitempty"`
	Messages  []localMessage `json:"messages"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Stream    bool           `json:"stream"`
}

type localMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// localChunk mirrors OpenClaw's line-delimited SSE chunk shape:
// `data: {"delta": "...", "finish_reason": "stop"}\n\n`.
type localChunk struct {
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason"`
	Error        string `json:"error"`
}

func (p *LocalProvider) Chat(ctx context.Context, req ChatRequest) (<-chan models.CompletionChunk, error) {
	if p.baseURL == "" {
		return nil, NewProviderError("local", req.Model, errors.New("openclaw base url not configured"))
	}

	messages := make([]localMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, localMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(localChatRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal local chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build local chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("local", req.Model, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, NewProviderError("local", req.Model, fmt.Errorf("openclaw returned status %d", resp.StatusCode)).WithStatus(resp.StatusCode)
	}

	chunks := make(chan models.CompletionChunk)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var c localChunk
			if err := json.Unmarshal([]byte(payload), &c); err != nil {
				chunks <- models.CompletionChunk{Error: fmt.Sprintf("decode openclaw chunk: %v", err)}
				return
			}
			if c.Error != "" {
				chunks <- models.CompletionChunk{Error: c.Error}
				return
			}
			chunks <- models.CompletionChunk{Delta: c.Delta, FinishReason: c.FinishReason}
			if c.FinishReason != "" {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- models.CompletionChunk{Error: err.Error()}
		}
	}()
	return chunks, nil
}

func (p *LocalProvider) Embeddings(ctx context.Context, model, text string) ([]float64, error) {
	if p.baseURL == "" {
		return nil, NewProviderError("local", model, errors.New("openclaw base url not configured"))
	}
	body, err := json.Marshal(map[string]string{"model": model, "text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal local embeddings request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build local embeddings request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("local", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError("local", model, fmt.Errorf("openclaw returned status %d", resp.StatusCode)).WithStatus(resp.StatusCode)
	}

	var out struct {
		Vector []float64 `json:"vector"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode local embeddings response: %w", err)
	}
	return out.Vector, nil
}
