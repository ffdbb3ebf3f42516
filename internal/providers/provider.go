// Package providers implements the provider-facing half of the Provider
// Gateway (C5): a normalized Provider interface plus OpenAI, OpenRouter, and
// local/self-hosted implementations, grounded on
// internal/agent/providers/{base.go,openai.go,openrouter.go}.
package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ChatRequest is the normalized request every Provider implementation
// accepts, independent of the wire format a given backend expects.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	MaxTokens int
	Stream    bool
}

// Provider is the normalized backend interface. Implementations handle the
// specifics of talking to a given LLM API while presenting the same shape
// to internal/routing.
type Provider interface {
	// Name returns the provider identifier used in routing decisions and
	// usage accounting (e.g. "openai", "openrouter", "local").
	Name() string

	// Local reports whether this provider runs in a trust boundary suitable
	// for SensitivityRestricted traffic.
	Local() bool

	// Chat sends a completion request and returns a channel of normalized
	// chunks. The channel is always closed by the provider, with a terminal
	// chunk carrying FinishReason or Error.
	Chat(ctx context.Context, req ChatRequest) (<-chan models.CompletionChunk, error)

	// Embeddings returns an embedding vector for text.
	Embeddings(ctx context.Context, model, text string) ([]float64, error)

	// Models returns the models this provider exposes, with cost/context
	// metadata for routing and availableModels().
	Models() []models.Model

	// Probe pings the provider's cheapest endpoint with a short timeout and
	// reports its health for testConnections().
	Probe(ctx context.Context) models.ProviderHealth
}

// BaseProvider holds shared retry configuration, mirroring
// internal/agent/providers/base.go's linear-backoff retry helper.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Retry executes op with linear backoff while isRetryable(err) holds.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}
