package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/internal/contextbundle"
	"github.com/haasonsaas/nexus/internal/knowledge"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/registry"
	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeProvider is a minimal providers.Provider double, mirroring
// internal/routing/gateway_test.go's double of the same name.
type fakeProvider struct {
	name    string
	deltas  []string
	blockOn chan struct{} // if set, Chat blocks on ctx.Done before returning anything
}

func (f *fakeProvider) Name() string                                  { return f.name }
func (f *fakeProvider) Local() bool                                   { return true }
func (f *fakeProvider) Models() []models.Model                        { return []models.Model{{Name: "m1"}} }
func (f *fakeProvider) Probe(ctx context.Context) models.ProviderHealth { return models.HealthConnected }

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (<-chan models.CompletionChunk, error) {
	out := make(chan models.CompletionChunk, len(f.deltas)+1)
	go func() {
		defer close(out)
		if f.blockOn != nil {
			select {
			case <-ctx.Done():
				return
			case <-f.blockOn:
			}
		}
		for _, d := range f.deltas {
			select {
			case <-ctx.Done():
				return
			default:
			}
			out <- models.CompletionChunk{Delta: d}
		}
		out <- models.CompletionChunk{FinishReason: "stop"}
	}()
	return out, nil
}

func (f *fakeProvider) Embeddings(ctx context.Context, model, text string) ([]float64, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T, deltas []string) (*Orchestrator, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	gw := routing.New(routing.Config{
		Providers: map[string]providers.Provider{"local": &fakeProvider{name: "local", deltas: deltas}},
		Local:     []string{"local"},
		Usage:     store,
	})
	o := New(Config{
		Store:    store,
		Context:  contextbundle.New(knowledge.New(storage.NewMemoryStore(), nil)),
		Gateway:  gw,
		Registry: registry.New(),
		Personas: StaticCatalog{Default: "general"},
	})
	return o, store
}

func TestChat_CreatesConversationAndPersistsUserThenAssistant(t *testing.T) {
	o, store := newTestOrchestrator(t, []string{"hello ", "there"})

	result, err := o.Chat(context.Background(), ChatRequest{
		UserID:      "user-1",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi there"}},
		Sensitivity: models.SensitivityRestricted,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ConversationID)
	require.NotEmpty(t, result.RequestID)
	require.Equal(t, "hello there", result.Content)

	page, err := store.ListMessages(context.Background(), storage.Caller{Privileged: true}, result.ConversationID, storage.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, models.RoleUser, page.Items[0].Role)
	require.Equal(t, models.RoleAssistant, page.Items[1].Role)
	require.Equal(t, "hello there", page.Items[1].Content)
}

func TestChat_RejectsEmptyMessages(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	_, err := o.Chat(context.Background(), ChatRequest{UserID: "user-1"})
	require.Error(t, err)
}

func TestChat_RejectsWithoutUserMessage(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	_, err := o.Chat(context.Background(), ChatRequest{
		UserID:   "user-1",
		Messages: []models.Message{{Role: models.RoleSystem, Content: "hi"}},
	})
	require.Error(t, err)
}

func TestChat_ReusesExistingConversation(t *testing.T) {
	o, store := newTestOrchestrator(t, []string{"ok"})
	conv, err := store.CreateConversation(context.Background(), storage.CreateConversationParams{
		UserID: "user-1",
		Source: models.SourceNative,
	})
	require.NoError(t, err)

	result, err := o.Chat(context.Background(), ChatRequest{
		UserID:         "user-1",
		ConversationID: conv.ID,
		Messages:       []models.Message{{Role: models.RoleUser, Content: "follow up"}},
		Sensitivity:    models.SensitivityRestricted,
	})
	require.NoError(t, err)
	require.Equal(t, conv.ID, result.ConversationID)
}

func TestChat_AbortBeforeAnyChunkWritesNoAssistantMessage(t *testing.T) {
	block := make(chan struct{}) // never closed: provider blocks until ctx cancellation
	store := storage.NewMemoryStore()
	gw := routing.New(routing.Config{
		Providers: map[string]providers.Provider{"local": &fakeProvider{name: "local", deltas: []string{"never"}, blockOn: block}},
		Local:     []string{"local"},
		Usage:     store,
	})
	reg := registry.New()
	o := New(Config{
		Store:    store,
		Context:  contextbundle.New(nil),
		Gateway:  gw,
		Registry: reg,
		Personas: StaticCatalog{Default: "general"},
	})

	result, err := o.Chat(context.Background(), ChatRequest{
		UserID:      "user-1",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityRestricted,
		RequestID:   "req-abort",
		Stream:      true,
	})
	require.NoError(t, err)

	require.True(t, o.Abort("req-abort"))

	var chunks []models.CompletionChunk
	for c := range result.Stream {
		chunks = append(chunks, c)
	}
	require.NotEmpty(t, chunks)
	require.Equal(t, "aborted", chunks[len(chunks)-1].FinishReason)

	page, err := store.ListMessages(context.Background(), storage.Caller{Privileged: true}, result.ConversationID, storage.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1) // only the user message; no assistant message
	require.Empty(t, o.registry.ListActive())
}

func TestChat_RegistryDrainsAfterNonStreamingTurn(t *testing.T) {
	o, _ := newTestOrchestrator(t, []string{"done"})
	_, err := o.Chat(context.Background(), ChatRequest{
		UserID:      "user-1",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityRestricted,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(o.registry.ListActive()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestChat_DuplicateRequestIDRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, []string{"x"})
	reg := o.registry
	require.True(t, reg.Register("dup", registry.ControllerFunc(func() {})))
	defer reg.Unregister("dup")

	_, err := o.Chat(context.Background(), ChatRequest{
		UserID:      "user-1",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Sensitivity: models.SensitivityRestricted,
		RequestID:   "dup",
	})
	require.Error(t, err)
}
