// Package routing implements the policy half of the Provider Gateway (C5):
// deterministic provider selection by sensitivity/role, budget enforcement,
// health caching, and usage accounting, grounded on
// internal/agent/routing/router.go's candidate-list-with-fallback shape.
package routing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// tokensPerChar mirrors internal/context/window.go's conservative estimate,
// reused here to turn character counts into token counts for cost/usage
// accounting when a provider doesn't return exact counts.
const tokensPerChar = 0.25

// defaultHealthTTL is how long a Probe result is trusted before re-checking.
const defaultHealthTTL = 30 * time.Second

// Config configures a Gateway.
type Config struct {
	Providers map[string]providers.Provider // keyed by provider name
	Local     []string                      // provider names eligible for SensitivityRestricted
	Usage     storage.UsageStore
	HealthTTL time.Duration
	Logger    *slog.Logger
}

// Gateway is the Provider Gateway (C5): it turns a ChatParams/EmbeddingsParams
// request into a concrete provider call, enforcing the sensitivity/role
// routing policy, budget limits, and health cooldowns, and recording usage.
type Gateway struct {
	providers map[string]providers.Provider
	localSet  map[string]struct{}
	usage     storage.UsageStore
	healthTTL time.Duration
	logger    *slog.Logger

	healthMu    sync.Mutex
	healthCache map[string]healthEntry
}

type healthEntry struct {
	health    models.ProviderHealth
	checkedAt time.Time
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	localSet := make(map[string]struct{}, len(cfg.Local))
	for _, name := range cfg.Local {
		localSet[name] = struct{}{}
	}
	ttl := cfg.HealthTTL
	if ttl <= 0 {
		ttl = defaultHealthTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		providers:   cfg.Providers,
		localSet:    localSet,
		usage:       cfg.Usage,
		healthTTL:   ttl,
		logger:      logger.With("component", "routing"),
		healthCache: make(map[string]healthEntry),
	}
}

// ChatParams is one chat() request, per spec.md §4.5.
type ChatParams struct {
	OrgID       string
	UserID      string
	RequestID   string
	Messages    []models.Message
	System      string
	Model       string
	MaxTokens   int
	Role        models.TaskRole
	Sensitivity models.Sensitivity
}

// Chat routes params to the first eligible, healthy, non-budget-exhausted
// provider and returns a normalized chunk stream. The stream is wrapped so
// that, once it's fully drained (or errors), one ProviderUsage row is
// recorded and then, when the cost is positive, the provider's daily budget
// is incremented. These are two separate store calls: a failure of either
// is logged and does not undo the other.
func (g *Gateway) Chat(ctx context.Context, params ChatParams) (<-chan models.CompletionChunk, string, string, error) {
	if len(params.Messages) == 0 {
		return nil, "", "", orcherr.New(orcherr.InvalidRequest, "routing", "messages is required")
	}

	candidates := g.candidates(params.Sensitivity)
	if len(candidates) == 0 {
		return nil, "", "", orcherr.New(orcherr.Unavailable, "routing", "no provider eligible for sensitivity "+string(params.Sensitivity))
	}

	var lastErr error
	for _, name := range candidates {
		provider := g.providers[name]
		if provider == nil {
			continue
		}
		if !g.isHealthy(ctx, name) {
			lastErr = orcherr.New(orcherr.Unavailable, "routing", name+" is unhealthy")
			continue
		}
		exhausted, err := g.budgetExhausted(ctx, params.OrgID, name)
		if err != nil {
			g.logger.Warn("budget check failed", "provider", name, "error", err)
		}
		if exhausted {
			lastErr = orcherr.New(orcherr.BudgetExceeded, "routing", "budget exhausted for provider "+name)
			continue
		}

		model := params.Model
		if model == "" {
			model = g.cheapestModel(provider, params.Role)
		}

		start := time.Now()
		stream, err := provider.Chat(ctx, providers.ChatRequest{
			Model:     model,
			System:    params.System,
			Messages:  params.Messages,
			MaxTokens: params.MaxTokens,
			Stream:    true,
		})
		if err != nil {
			lastErr = err
			continue
		}

		promptChars := 0
		for _, m := range params.Messages {
			promptChars += len(m.Content)
		}
		promptChars += len(params.System)

		out := g.accountedStream(ctx, name, model, params, promptChars, start, stream)
		return out, name, model, nil
	}

	if lastErr != nil {
		return nil, "", "", lastErr
	}
	return nil, "", "", orcherr.New(orcherr.Unavailable, "routing", "no provider available")
}

// accountedStream relays chunks from in to the caller, then records usage
// once the upstream stream terminates (successfully or with an error chunk).
func (g *Gateway) accountedStream(ctx context.Context, providerName, model string, params ChatParams, promptChars int, start time.Time, in <-chan models.CompletionChunk) <-chan models.CompletionChunk {
	out := make(chan models.CompletionChunk)
	go func() {
		defer close(out)
		completionChars := 0
		success := true
		for chunk := range in {
			out <- chunk
			completionChars += len(chunk.Delta)
			if chunk.Error != "" {
				success = false
			}
		}

		promptTokens := int(float64(promptChars) * tokensPerChar)
		completionTokens := int(float64(completionChars) * tokensPerChar)
		cost := g.costOf(providerName, model, promptTokens+completionTokens)

		usage := &models.ProviderUsage{
			UserID:           params.UserID,
			OrgID:            params.OrgID,
			Provider:         providerName,
			Model:            model,
			TaskType:         params.Role,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostUSD:          cost,
			LatencyMs:        time.Since(start).Milliseconds(),
			Success:          success,
			RequestID:        params.RequestID,
		}
		if g.usage != nil {
			if err := g.usage.RecordUsage(ctx, usage); err != nil {
				g.logger.Error("record usage failed", "provider", providerName, "error", err)
			}
			if cost > 0 {
				if _, err := g.usage.IncrementBudget(ctx, params.OrgID, providerName, models.BudgetDaily, cost); err != nil {
					g.logger.Error("increment budget failed", "provider", providerName, "error", err)
				}
			}
		}
	}()
	return out
}

// EmbeddingsParams is one embeddings() request.
type EmbeddingsParams struct {
	OrgID       string
	Text        string
	Model       string
	Sensitivity models.Sensitivity
}

// Embeddings routes an embedding request through the same eligibility policy
// as Chat, using RoleEmbedding.
func (g *Gateway) Embeddings(ctx context.Context, params EmbeddingsParams) ([]float64, error) {
	candidates := g.candidates(params.Sensitivity)
	var lastErr error
	for _, name := range candidates {
		provider := g.providers[name]
		if provider == nil || !g.isHealthy(ctx, name) {
			continue
		}
		vec, err := provider.Embeddings(ctx, params.Model, params.Text)
		if err != nil {
			lastErr = err
			continue
		}
		return vec, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, orcherr.New(orcherr.Unavailable, "routing", "no provider available for embeddings")
}

// TestConnections probes every configured provider, subject to the health
// cache TTL, and returns their current connectivity status.
func (g *Gateway) TestConnections(ctx context.Context) map[string]models.ProviderHealth {
	out := make(map[string]models.ProviderHealth, len(g.providers))
	for name := range g.providers {
		out[name] = g.probe(ctx, name)
	}
	return out
}

// AvailableModels returns the union of models across enabled providers that
// can serve the given role. Every configured model is currently assumed
// capable of every role; routing.candidates already restricts by
// sensitivity/provider eligibility upstream of model choice.
func (g *Gateway) AvailableModels(task models.TaskRole) []models.Model {
	var out []models.Model
	seen := make(map[string]struct{})
	for _, name := range g.sortedProviderNames() {
		for _, m := range g.providers[name].Models() {
			if _, ok := seen[m.Name]; ok {
				continue
			}
			seen[m.Name] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// UsageStats summarizes provider usage for orgID over the trailing window.
func (g *Gateway) UsageStats(ctx context.Context, orgID string, window time.Duration) (models.UsageStats, error) {
	if g.usage == nil {
		return models.UsageStats{}, nil
	}
	rows, err := g.usage.QueryUsage(ctx, orgID, time.Now().Add(-window))
	if err != nil {
		return models.UsageStats{}, err
	}
	if len(rows) == 0 {
		return models.UsageStats{}, nil
	}
	var totalCost, totalLatency float64
	successes := 0
	for _, r := range rows {
		totalCost += r.CostUSD
		totalLatency += float64(r.LatencyMs)
		if r.Success {
			successes++
		}
	}
	return models.UsageStats{
		TotalRequests:  len(rows),
		TotalCost:      totalCost,
		SuccessRate:    float64(successes) / float64(len(rows)),
		AverageLatency: totalLatency / float64(len(rows)),
	}, nil
}

// candidates orders eligible provider names per spec.md §4.5's policy:
// restricted forces local-only; internal prefers lowest cost; public allows
// any provider (name order, a stable deterministic tiebreak in the absence
// of live latency samples).
func (g *Gateway) candidates(sensitivity models.Sensitivity) []string {
	switch sensitivity {
	case models.SensitivityRestricted:
		var names []string
		for name := range g.localSet {
			if _, ok := g.providers[name]; ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return names
	case models.SensitivityInternal:
		names := g.sortedProviderNames()
		sort.Slice(names, func(i, j int) bool {
			return g.cheapestCost(g.providers[names[i]]) < g.cheapestCost(g.providers[names[j]])
		})
		return names
	default: // SensitivityPublic and unset
		return g.sortedProviderNames()
	}
}

func (g *Gateway) sortedProviderNames() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Gateway) cheapestCost(p providers.Provider) float64 {
	best := -1.0
	for _, m := range p.Models() {
		if best < 0 || m.CostPerToken < best {
			best = m.CostPerToken
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func (g *Gateway) cheapestModel(p providers.Provider, role models.TaskRole) string {
	available := p.Models()
	if len(available) == 0 {
		return ""
	}
	best := available[0]
	for _, m := range available[1:] {
		if m.CostPerToken < best.CostPerToken {
			best = m
		}
	}
	return best.Name
}

func (g *Gateway) costOf(providerName, model string, totalTokens int) float64 {
	p := g.providers[providerName]
	if p == nil {
		return 0
	}
	for _, m := range p.Models() {
		if m.Name == model {
			return m.CostPerToken * float64(totalTokens)
		}
	}
	return 0
}

func (g *Gateway) budgetExhausted(ctx context.Context, orgID, providerName string) (bool, error) {
	if g.usage == nil || orgID == "" {
		return false, nil
	}
	for _, bt := range []models.BudgetType{models.BudgetDaily, models.BudgetMonthly} {
		budget, err := g.usage.GetBudget(ctx, orgID, providerName, bt)
		if err != nil {
			if orcherr.Is(err, orcherr.NotFound) {
				continue
			}
			return false, err
		}
		if budget.Exhausted() {
			return true, nil
		}
	}
	return false, nil
}

func (g *Gateway) isHealthy(ctx context.Context, name string) bool {
	return g.probe(ctx, name) != models.HealthDown
}

func (g *Gateway) probe(ctx context.Context, name string) models.ProviderHealth {
	g.healthMu.Lock()
	entry, ok := g.healthCache[name]
	g.healthMu.Unlock()
	if ok && time.Since(entry.checkedAt) < g.healthTTL {
		return entry.health
	}

	p := g.providers[name]
	if p == nil {
		return models.HealthDown
	}
	health := p.Probe(ctx)

	g.healthMu.Lock()
	g.healthCache[name] = healthEntry{health: health, checkedAt: time.Now()}
	g.healthMu.Unlock()
	return health
}
