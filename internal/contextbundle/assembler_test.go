package contextbundle

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/knowledge"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/stretchr/testify/require"
)

func newAssembler(t *testing.T) (*Assembler, *knowledge.Store) {
	t.Helper()
	backing := storage.NewMemoryStore()
	k := knowledge.New(backing, nil)
	return New(k), k
}

func TestAssemble_EmptyWhenNoKnowledgeStore(t *testing.T) {
	a := New(nil)
	bundle, err := a.Assemble(context.Background(), Request{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Empty(t, bundle.ContextBlocks)
	require.NotEmpty(t, bundle.ContextDigest)
}

func TestAssemble_EmptyWhenNoHorizonsRequested(t *testing.T) {
	a, _ := newAssembler(t)
	bundle, err := a.Assemble(context.Background(), Request{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Empty(t, bundle.ContextBlocks)
}

func TestAssemble_DeduplicatesAcrossHorizonsPreferringHigherPriority(t *testing.T) {
	a, k := newAssembler(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, &models.KnowledgeFact{
		SubjectType: models.SubjectUser, SubjectID: "user-1", Horizon: models.HorizonLong,
		Domain: "profile", FactKey: "timezone", FactValue: map[string]any{"tz": "UTC"}, Confidence: 1,
	})
	require.NoError(t, err)
	_, err = k.Upsert(ctx, &models.KnowledgeFact{
		SubjectType: models.SubjectUser, SubjectID: "user-1", Horizon: models.HorizonShort,
		Domain: "profile", FactKey: "timezone", FactValue: map[string]any{"tz": "America/New_York"}, Confidence: 1,
	})
	require.NoError(t, err)

	bundle, err := a.Assemble(ctx, Request{
		UserID: "user-1", AgentID: "agent-1",
		IncludeShort: true, IncludeMedium: true, IncludeLong: true,
		MaxBlocks: 10,
	})
	require.NoError(t, err)
	require.Len(t, bundle.ContextBlocks, 1)
	require.Equal(t, models.HorizonShort, bundle.ContextBlocks[0].Horizon)
}

func TestAssemble_CapsBlocksPreservingHorizonDistribution(t *testing.T) {
	a, k := newAssembler(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := k.Upsert(ctx, &models.KnowledgeFact{
			SubjectType: models.SubjectUser, SubjectID: "user-1", Horizon: models.HorizonShort,
			Domain: "d", FactKey: factKeyFor("short", i), Confidence: 1,
		})
		require.NoError(t, err)
	}
	_, err := k.Upsert(ctx, &models.KnowledgeFact{
		SubjectType: models.SubjectUser, SubjectID: "user-1", Horizon: models.HorizonLong,
		Domain: "d", FactKey: "long-fact", Confidence: 1,
	})
	require.NoError(t, err)

	bundle, err := a.Assemble(ctx, Request{
		UserID: "user-1", IncludeShort: true, IncludeLong: true, MaxBlocks: 3,
	})
	require.NoError(t, err)
	require.Len(t, bundle.ContextBlocks, 3)
	require.Equal(t, 1, bundle.HorizonUsage.Long, "long horizon should keep at least one block")
}

func TestAssemble_DigestStableForSameInputs(t *testing.T) {
	a, k := newAssembler(t)
	ctx := context.Background()
	_, err := k.Upsert(ctx, &models.KnowledgeFact{
		SubjectType: models.SubjectUser, SubjectID: "user-1", Horizon: models.HorizonShort,
		Domain: "d", FactKey: "k", Confidence: 1,
	})
	require.NoError(t, err)

	req := Request{UserID: "user-1", IncludeShort: true, MaxBlocks: 10}
	first, err := a.Assemble(ctx, req)
	require.NoError(t, err)
	second, err := a.Assemble(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ContextDigest, second.ContextDigest)
}

func TestEstimateTokens_FourCharsPerToken(t *testing.T) {
	require.Equal(t, 1, estimateTokens(4))
	require.Equal(t, 2, estimateTokens(8))
	require.Equal(t, 0, estimateTokens(3))
}

func factKeyFor(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}
