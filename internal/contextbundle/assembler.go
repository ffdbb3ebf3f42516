// Package contextbundle implements the Context Assembler (C3): it builds a
// deterministic "context bundle" for one chat turn from the Knowledge Fact
// Store, grounded on internal/agent/context/packer.go's budget-bounded
// selection shape and internal/context/window.go's TokensPerChar estimate.
package contextbundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/nexus/internal/knowledge"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// TokensPerChar mirrors internal/context/window.go's conservative estimate:
// 4 chars ≈ 1 token.
const TokensPerChar = 0.25

// Request describes one assembly request.
type Request struct {
	UserID         string
	AgentID        string
	ConversationID string
	IncludeShort   bool
	IncludeMedium  bool
	IncludeLong    bool
	MaxBlocks      int
}

// Assembler builds models.ContextBundle values for a chat turn.
type Assembler struct {
	knowledge *knowledge.Store
}

// New constructs an Assembler. knowledge may be nil, in which case Assemble
// always returns the empty bundle (per spec: "never throw on empty").
func New(k *knowledge.Store) *Assembler {
	return &Assembler{knowledge: k}
}

// Assemble builds the context bundle for one chat turn.
func (a *Assembler) Assemble(ctx context.Context, req Request) (models.ContextBundle, error) {
	if a.knowledge == nil {
		return emptyBundle(req.AgentID), nil
	}

	var horizons []models.Horizon
	if req.IncludeShort {
		horizons = append(horizons, models.HorizonShort)
	}
	if req.IncludeMedium {
		horizons = append(horizons, models.HorizonMedium)
	}
	if req.IncludeLong {
		horizons = append(horizons, models.HorizonLong)
	}
	if len(horizons) == 0 {
		return emptyBundle(req.AgentID), nil
	}

	subjects := []storage.FactSubject{{Type: models.SubjectShared, ID: "global"}}
	if req.UserID != "" {
		subjects = append(subjects, storage.FactSubject{Type: models.SubjectUser, ID: req.UserID})
	}
	if req.AgentID != "" {
		subjects = append(subjects, storage.FactSubject{Type: models.SubjectAgent, ID: req.AgentID})
	}

	facts, err := a.knowledge.Query(ctx, knowledge.QueryOptions{
		Subjects: subjects,
		Horizons: horizons,
	})
	if err != nil {
		return models.ContextBundle{}, err
	}

	deduped := dedupeByDomainAndKey(facts)
	capped := capPreservingHorizonDistribution(deduped, req.MaxBlocks, horizons)

	blocks := make([]models.ContextBlock, 0, len(capped))
	sources := make([]models.ContextSource, 0, len(capped))
	usage := models.HorizonUsage{}
	totalChars := 0

	for _, f := range capped {
		body := renderFact(f)
		blocks = append(blocks, models.ContextBlock{
			Horizon:     f.Horizon,
			Title:       fmt.Sprintf("%s: %s", f.Domain, f.FactKey),
			Source:      "knowledge",
			SubjectType: f.SubjectType,
			SubjectID:   f.SubjectID,
			Body:        body,
		})
		sources = append(sources, models.ContextSource{ID: f.ID, UpdatedAt: f.UpdatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z")})
		totalChars += len(body)
		switch f.Horizon {
		case models.HorizonShort:
			usage.Short++
		case models.HorizonMedium:
			usage.Medium++
		case models.HorizonLong:
			usage.Long++
		}
	}

	return models.ContextBundle{
		AgentID:       req.AgentID,
		ContextBlocks: blocks,
		HorizonUsage:  usage,
		Sources:       sources,
		ContextDigest: digest(sources),
		TokenEstimate: estimateTokens(totalChars),
	}, nil
}

func emptyBundle(agentID string) models.ContextBundle {
	return models.ContextBundle{
		AgentID:       agentID,
		ContextBlocks: []models.ContextBlock{},
		Sources:       []models.ContextSource{},
		ContextDigest: digest(nil),
		TokenEstimate: 0,
	}
}

// estimateTokens applies the 4-chars-per-token conservative rule.
func estimateTokens(chars int) int {
	return int(float64(chars) * TokensPerChar)
}

// digest computes a stable hash over (block_id, updated_at) tuples so callers
// can cache generations keyed on context. It hashes a copy of sources sorted
// by ID, so the digest does not depend on the order sources are passed in.
func digest(sources []models.ContextSource) string {
	sorted := make([]models.ContextSource, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s.ID))
		h.Write([]byte{0})
		h.Write([]byte(s.UpdatedAt))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// dedupeByDomainAndKey deduplicates across horizons by (domain, fact_key),
// preferring the higher-priority (more specific) horizon. Input is assumed
// already ordered by horizon priority from the knowledge store query.
func dedupeByDomainAndKey(facts []*models.KnowledgeFact) []*models.KnowledgeFact {
	seen := make(map[string]struct{}, len(facts))
	out := make([]*models.KnowledgeFact, 0, len(facts))
	for _, f := range facts {
		key := f.Domain + "|" + f.FactKey
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// capPreservingHorizonDistribution caps the total block count at maxBlocks
// while keeping at least one block from each requested horizon when
// available, per spec.md §4.3 step 3.
func capPreservingHorizonDistribution(facts []*models.KnowledgeFact, maxBlocks int, requested []models.Horizon) []*models.KnowledgeFact {
	if maxBlocks <= 0 || len(facts) <= maxBlocks {
		return facts
	}

	byHorizon := make(map[models.Horizon][]*models.KnowledgeFact)
	for _, f := range facts {
		byHorizon[f.Horizon] = append(byHorizon[f.Horizon], f)
	}

	var result []*models.KnowledgeFact
	taken := make(map[string]struct{})

	// Guarantee at least one per requested horizon first.
	for _, h := range requested {
		if bucket := byHorizon[h]; len(bucket) > 0 && len(result) < maxBlocks {
			result = append(result, bucket[0])
			taken[bucket[0].ID] = struct{}{}
		}
	}

	// Fill remaining slots in original (horizon-priority) order.
	for _, f := range facts {
		if len(result) >= maxBlocks {
			break
		}
		if _, ok := taken[f.ID]; ok {
			continue
		}
		result = append(result, f)
		taken[f.ID] = struct{}{}
	}
	return result
}

func renderFact(f *models.KnowledgeFact) string {
	keys := make([]string, 0, len(f.FactValue))
	for k := range f.FactValue {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s=%v", k, f.FactValue[k])
	}
	return b.String()
}
