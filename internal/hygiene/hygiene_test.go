package hygiene

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeProvider mirrors internal/routing/gateway_test.go's double: a
// minimal providers.Provider that never touches the network.
type fakeProvider struct {
	name   string
	deltas []string
}

func (f *fakeProvider) Name() string           { return f.name }
func (f *fakeProvider) Local() bool            { return true }
func (f *fakeProvider) Models() []models.Model { return nil }
func (f *fakeProvider) Probe(ctx context.Context) models.ProviderHealth {
	return models.HealthConnected
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (<-chan models.CompletionChunk, error) {
	out := make(chan models.CompletionChunk, len(f.deltas)+1)
	for _, d := range f.deltas {
		out <- models.CompletionChunk{Delta: d}
	}
	out <- models.CompletionChunk{FinishReason: "stop"}
	close(out)
	return out, nil
}

func (f *fakeProvider) Embeddings(ctx context.Context, model, text string) ([]float64, error) {
	return nil, nil
}

func newTestRunner(t *testing.T, now time.Time, dryRun bool) (*Runner, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	provider := &fakeProvider{name: "local", deltas: []string{"\"Trip", " Planning", " Notes\""}}
	gw := routing.New(routing.Config{
		Providers: map[string]providers.Provider{"local": provider},
		Local:     []string{"local"},
		Usage:     store,
	})
	runner := NewRunner(Config{
		Store:   store,
		Gateway: gw,
		Now:     func() time.Time { return now },
		DryRun:  dryRun,
	})
	return runner, store
}

func TestRunner_PrunesEmptyOldConversation(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, false)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Source: models.SourceNative})
	require.NoError(t, err)
	conv.CreatedAt = now.Add(-2 * time.Hour)
	conv.UpdatedAt = conv.CreatedAt

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Pruned)

	_, err = store.GetConversation(ctx, storage.Caller{Privileged: true}, conv.ID)
	require.Error(t, err)
}

func TestRunner_PrunesShortInactiveConversation(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, false)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Source: models.SourceNative})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, models.RoleUser, "hello", "", nil)
	require.NoError(t, err)
	conv.UpdatedAt = now.Add(-48 * time.Hour)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Pruned)
}

func TestRunner_DoesNotPruneActiveConversation(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, false)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Source: models.SourceNative})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, models.RoleUser, "hello", "", nil)
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Pruned)

	_, err = store.GetConversation(ctx, storage.Caller{Privileged: true}, conv.ID)
	require.NoError(t, err)
}

func TestRunner_DedupesNearIdenticalMessages(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, false)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Source: models.SourceNative})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, models.RoleUser, "hello there, this message is long enough to stay", "", nil)
	require.NoError(t, err)
	// Force a second, distinct append past the 2s AppendMessage dedupe
	// window but still an exact duplicate by (role, content) — exactly
	// what rule 2's dedupe is supposed to catch.
	caller := storage.Caller{Privileged: true}
	page, err := store.ListMessages(ctx, caller, conv.ID, storage.ListMessagesOptions{})
	require.NoError(t, err)
	page.Items[0].CreatedAt = now.Add(-10 * time.Second)

	dup, err := store.AppendMessage(ctx, conv.ID, models.RoleUser, "hello there, this message is long enough to stay", "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, dup.ID)

	// Three messages now required so this conversation survives pruning
	// and reaches the dedupe pass.
	_, err = store.AppendMessage(ctx, conv.ID, models.RoleAssistant, "reply", "", nil)
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deduped)

	page, err = store.ListMessages(ctx, caller, conv.ID, storage.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
}

func TestRunner_ArchivesAbandonedGenericTitledConversation(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, false)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Title: "New Conversation", Source: models.SourceNative})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, models.RoleUser, "hey", "", nil)
	require.NoError(t, err)
	conv.UpdatedAt = now.Add(-48 * time.Hour)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Archived)

	got, err := store.GetConversation(ctx, storage.Caller{Privileged: true}, conv.ID)
	require.NoError(t, err)
	require.True(t, got.IsArchived)
}

func TestRunner_RetitlesGenericActiveConversation(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, false)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Title: "", Source: models.SourceNative})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, models.RoleUser, "can you help me plan a trip to Japan", "", nil)
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retitled)

	got, err := store.GetConversation(ctx, storage.Caller{Privileged: true}, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Trip Planning Notes", got.Title)
}

func TestRunner_DryRunMutatesNothing(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, true)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Source: models.SourceNative})
	require.NoError(t, err)
	conv.CreatedAt = now.Add(-2 * time.Hour)
	conv.UpdatedAt = conv.CreatedAt

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.True(t, report.DryRun)
	require.Equal(t, 1, report.Pruned)

	_, err = store.GetConversation(ctx, storage.Caller{Privileged: true}, conv.ID)
	require.NoError(t, err) // still there: dry run never deletes
}

func TestRunner_RunIsIdempotent(t *testing.T) {
	now := time.Now()
	runner, store := newTestRunner(t, now, false)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, storage.CreateConversationParams{UserID: "u1", Title: "New Conversation", Source: models.SourceNative})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, models.RoleUser, "hey", "", nil)
	require.NoError(t, err)
	conv.UpdatedAt = now.Add(-48 * time.Hour)

	first, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Archived)

	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, second.Archived, "archiving an already-archived conversation again must be a no-op")
}

func TestIsGenericTitle(t *testing.T) {
	require.True(t, isGenericTitle(""))
	require.True(t, isGenericTitle("New Conversation"))
	require.True(t, isGenericTitle("  hi  "))
	require.False(t, isGenericTitle("Trip planning"))
}
