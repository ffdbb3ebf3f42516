package routing

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a minimal providers.Provider double for exercising routing
// policy without any network access.
type fakeProvider struct {
	name    string
	local   bool
	health  models.ProviderHealth
	models  []models.Model
	chatErr error
	deltas  []string
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Local() bool  { return f.local }
func (f *fakeProvider) Models() []models.Model { return f.models }
func (f *fakeProvider) Probe(ctx context.Context) models.ProviderHealth { return f.health }

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (<-chan models.CompletionChunk, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	out := make(chan models.CompletionChunk, len(f.deltas)+1)
	for _, d := range f.deltas {
		out <- models.CompletionChunk{Delta: d}
	}
	out <- models.CompletionChunk{FinishReason: "stop"}
	close(out)
	return out, nil
}

func (f *fakeProvider) Embeddings(ctx context.Context, model, text string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func drain(t *testing.T, ch <-chan models.CompletionChunk) []models.CompletionChunk {
	t.Helper()
	var out []models.CompletionChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestChat_RestrictedSensitivityForcesLocalProvider(t *testing.T) {
	local := &fakeProvider{name: "local", local: true, health: models.HealthConnected, deltas: []string{"hi"}}
	cloud := &fakeProvider{name: "openai", health: models.HealthConnected, deltas: []string{"hi"}}
	store := storage.NewMemoryStore()
	gw := New(Config{
		Providers: map[string]providers.Provider{"local": local, "openai": cloud},
		Local:     []string{"local"},
		Usage:     store,
	})

	stream, providerName, _, err := gw.Chat(context.Background(), ChatParams{
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityRestricted,
		OrgID:       "org-1",
	})
	require.NoError(t, err)
	require.Equal(t, "local", providerName)
	drain(t, stream)
}

func TestChat_InternalSensitivityPrefersLowestCost(t *testing.T) {
	cheap := &fakeProvider{name: "openrouter", health: models.HealthConnected,
		models: []models.Model{{Name: "m1", CostPerToken: 0.0000001}}, deltas: []string{"x"}}
	pricey := &fakeProvider{name: "openai", health: models.HealthConnected,
		models: []models.Model{{Name: "m2", CostPerToken: 0.00001}}, deltas: []string{"x"}}
	store := storage.NewMemoryStore()
	gw := New(Config{
		Providers: map[string]providers.Provider{"openrouter": cheap, "openai": pricey},
		Usage:     store,
	})

	_, providerName, _, err := gw.Chat(context.Background(), ChatParams{
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityInternal,
	})
	require.NoError(t, err)
	require.Equal(t, "openrouter", providerName)
}

func TestChat_SkipsDownProviderFallsBackToNext(t *testing.T) {
	down := &fakeProvider{name: "a_down", health: models.HealthDown}
	up := &fakeProvider{name: "b_up", health: models.HealthConnected, deltas: []string{"ok"}}
	gw := New(Config{
		Providers: map[string]providers.Provider{"a_down": down, "b_up": up},
		Usage:     storage.NewMemoryStore(),
	})

	stream, providerName, _, err := gw.Chat(context.Background(), ChatParams{
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityPublic,
	})
	require.NoError(t, err)
	require.Equal(t, "b_up", providerName)
	drain(t, stream)
}

func TestChat_SkipsBudgetExhaustedProvider(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_, err := store.IncrementBudget(ctx, "org-1", "a_exhausted", models.BudgetDaily, 0)
	require.NoError(t, err)
	// Memory store budgets default BudgetAmount=0 and IsActive=true, so any
	// positive spend exhausts immediately. The exhausted provider's name
	// sorts first, so picking the other one shows it was skipped.
	_, err = store.IncrementBudget(ctx, "org-1", "a_exhausted", models.BudgetDaily, 1)
	require.NoError(t, err)

	exhausted := &fakeProvider{name: "a_exhausted", health: models.HealthConnected, deltas: []string{"x"}}
	available := &fakeProvider{name: "b_available", health: models.HealthConnected, deltas: []string{"x"}}
	gw := New(Config{
		Providers: map[string]providers.Provider{"a_exhausted": exhausted, "b_available": available},
		Usage:     store,
	})

	_, providerName, _, err := gw.Chat(ctx, ChatParams{
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityPublic,
		OrgID:       "org-1",
	})
	require.NoError(t, err)
	require.Equal(t, "b_available", providerName)
}

func TestChat_RecordsUsageAfterStreamDrains(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &fakeProvider{name: "openai", health: models.HealthConnected,
		models: []models.Model{{Name: "gpt-4o", CostPerToken: 0.00001}}, deltas: []string{"hello", " world"}}
	gw := New(Config{Providers: map[string]providers.Provider{"openai": p}, Usage: store})

	stream, _, _, err := gw.Chat(context.Background(), ChatParams{
		OrgID:       "org-1",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityPublic,
		RequestID:   "req-1",
	})
	require.NoError(t, err)
	drain(t, stream)

	// Usage recording happens in a goroutine after the stream closes; give it
	// a moment to land.
	require.Eventually(t, func() bool {
		rows, err := store.QueryUsage(context.Background(), "org-1", time.Now().Add(-time.Minute))
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAvailableModels_UnionsAcrossProviders(t *testing.T) {
	p1 := &fakeProvider{name: "a", models: []models.Model{{Name: "m1"}}}
	p2 := &fakeProvider{name: "b", models: []models.Model{{Name: "m1"}, {Name: "m2"}}}
	gw := New(Config{Providers: map[string]providers.Provider{"a": p1, "b": p2}})
	got := gw.AvailableModels(models.RoleChat)
	require.Len(t, got, 2)
}

func TestUsageStats_EmptyWindowReturnsZeroValue(t *testing.T) {
	gw := New(Config{Providers: map[string]providers.Provider{}, Usage: storage.NewMemoryStore()})
	stats, err := gw.UsageStats(context.Background(), "org-1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalRequests)
}
