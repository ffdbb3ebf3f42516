// Package knowledge implements the Knowledge Fact Store (C2): a thin layer
// above the Persistence Port (internal/storage) that owns upsert/query/expiry
// semantics for KnowledgeFact rows, grounded on internal/memory/manager.go's
// Manager pattern (a small facade coordinating a store plus lifecycle rules)
// adapted from vector-similarity recall to structured fact horizons.
package knowledge

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Store is the Knowledge Fact Store facade over a storage.FactStore.
type Store struct {
	facts  storage.FactStore
	logger *slog.Logger
}

// New constructs a Store.
func New(facts storage.FactStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{facts: facts, logger: logger.With("component", "knowledge")}
}

// Upsert writes fact on the (subject_type, subject_id, horizon, domain,
// fact_key) key: sets updated_at=now, preserves created_at, clamps
// confidence, and normalizes tags to set semantics.
func (s *Store) Upsert(ctx context.Context, fact *models.KnowledgeFact) (*models.KnowledgeFact, error) {
	if fact == nil {
		return nil, orcherr.New(orcherr.InvalidRequest, "knowledge", "fact is required")
	}
	if fact.SubjectType == "" || fact.SubjectID == "" || fact.Horizon == "" || fact.FactKey == "" {
		return nil, orcherr.New(orcherr.InvalidRequest, "knowledge", "subject_type, subject_id, horizon, and fact_key are required")
	}
	if fact.TTLSeconds == nil && fact.Horizon == models.HorizonShort {
		ttl := int64(models.DefaultShortHorizonTTL.Seconds())
		fact.TTLSeconds = &ttl
	}
	stored, err := s.facts.UpsertFact(ctx, fact)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("fact upserted", "subject_type", fact.SubjectType, "subject_id", fact.SubjectID,
		"horizon", fact.Horizon, "domain", fact.Domain, "fact_key", fact.FactKey)
	return stored, nil
}

// QueryOptions parameterizes Query.
type QueryOptions struct {
	Subjects       []storage.FactSubject
	Horizons       []models.Horizon
	Domains        []string
	Tags           []string
	MinConfidence  float64
	IncludeExpired bool
	Limit          int
}

// Query returns facts ordered by (horizon priority, confidence desc,
// updated_at desc): short-horizon is most specific to the current turn,
// long-horizon is baseline.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*models.KnowledgeFact, error) {
	return s.facts.QueryFacts(ctx, storage.FactFilter{
		Subjects:       opts.Subjects,
		Horizons:       opts.Horizons,
		Domains:        opts.Domains,
		Tags:           opts.Tags,
		MinConfidence:  opts.MinConfidence,
		IncludeExpired: opts.IncludeExpired,
		Limit:          opts.Limit,
	})
}

// ExpireStale is the cron entry point: marks rows past TTL as stale.
func (s *Store) ExpireStale(ctx context.Context) (int, error) {
	n, err := s.facts.ExpireStale(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale facts", "count", n)
	}
	return n, nil
}
