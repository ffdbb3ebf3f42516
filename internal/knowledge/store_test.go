package knowledge

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestStore_Upsert_AppliesShortHorizonDefaultTTL(t *testing.T) {
	backing := storage.NewMemoryStore()
	s := New(backing, nil)

	fact := &models.KnowledgeFact{
		SubjectType: models.SubjectUser,
		SubjectID:   "user-1",
		Horizon:     models.HorizonShort,
		Domain:      "profile",
		FactKey:     "goal",
		FactValue:   map[string]any{"text": "ship v1"},
	}
	stored, err := s.Upsert(context.Background(), fact)
	require.NoError(t, err)
	require.NotNil(t, stored.TTLSeconds)
	require.EqualValues(t, models.DefaultShortHorizonTTL.Seconds(), *stored.TTLSeconds)
}

func TestStore_Upsert_RejectsMissingKey(t *testing.T) {
	s := New(storage.NewMemoryStore(), nil)
	_, err := s.Upsert(context.Background(), &models.KnowledgeFact{SubjectType: models.SubjectUser})
	require.Error(t, err)
	require.True(t, orcherr.Is(err, orcherr.InvalidRequest))
}

func TestStore_Query_OrdersByHorizon(t *testing.T) {
	backing := storage.NewMemoryStore()
	s := New(backing, nil)
	ctx := context.Background()

	_, err := s.Upsert(ctx, &models.KnowledgeFact{
		SubjectType: models.SubjectUser, SubjectID: "u1", Horizon: models.HorizonLong,
		Domain: "d", FactKey: "long-fact", Confidence: 1,
	})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, &models.KnowledgeFact{
		SubjectType: models.SubjectUser, SubjectID: "u1", Horizon: models.HorizonMedium,
		Domain: "d", FactKey: "medium-fact", Confidence: 1,
	})
	require.NoError(t, err)

	facts, err := s.Query(ctx, QueryOptions{Subjects: []storage.FactSubject{{Type: models.SubjectUser, ID: "u1"}}})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	require.Equal(t, models.HorizonMedium, facts[0].Horizon)
}

func TestStore_ExpireStale(t *testing.T) {
	backing := storage.NewMemoryStore()
	s := New(backing, nil)
	n, err := s.ExpireStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
