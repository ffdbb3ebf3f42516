package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

// MemoryStore is an in-memory Store, used by tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // conversationID -> ordered messages
	facts         map[string]*models.KnowledgeFact
	budgets       map[string]*models.UsageBudget
	usage         []*models.ProviderUsage
	settings      map[string]Setting
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		facts:         make(map[string]*models.KnowledgeFact),
		budgets:       make(map[string]*models.UsageBudget),
		settings:      make(map[string]Setting),
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context, params CreateConversationParams) (*models.Conversation, error) {
	if params.UserID == "" {
		return nil, errInvalidRequest("storage", "user_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.ExternalID != "" {
		for _, c := range s.conversations {
			if c.Source == params.Source && c.UserID == params.UserID && c.ExternalID == params.ExternalID {
				return nil, errConflict("storage", "external_id already exists for this user and source")
			}
		}
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:         uuid.NewString(),
		UserID:     params.UserID,
		OrgID:      params.OrgID,
		Title:      params.Title,
		Source:     params.Source,
		ExternalID: params.ExternalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, caller Caller, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, errNotFound("storage", "conversation not found")
	}
	if !caller.Privileged && conv.UserID != caller.UserID {
		return nil, errUnauthorized("storage", "conversation not owned by caller")
	}
	return conv, nil
}

func (s *MemoryStore) FindConversationByExternalID(ctx context.Context, source models.ConversationSource, userID, externalID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.Source == source && c.UserID == userID && c.ExternalID == externalID {
			return c, nil
		}
	}
	return nil, errNotFound("storage", "conversation not found")
}

func (s *MemoryStore) ListConversations(ctx context.Context, caller Caller, userID string, opts ListConversationsOptions) (ConversationPage, error) {
	if !caller.Privileged && caller.UserID != userID {
		return ConversationPage{}, errUnauthorized("storage", "cannot list another user's conversations")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*models.Conversation
	for _, c := range s.conversations {
		if c.UserID != userID {
			continue
		}
		if opts.Archived != nil && c.IsArchived != *opts.Archived {
			continue
		}
		matches = append(matches, c)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return ConversationPage{Items: matches}, nil
}

// ListAllConversations ignores the usual per-user scoping entirely; only
// a privileged caller (hygiene sweep, admin surface) may call it.
func (s *MemoryStore) ListAllConversations(ctx context.Context, caller Caller, opts ListConversationsOptions) (ConversationPage, error) {
	if !caller.Privileged {
		return ConversationPage{}, errUnauthorized("storage", "listing all conversations requires a privileged caller")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*models.Conversation
	for _, c := range s.conversations {
		if opts.Archived != nil && c.IsArchived != *opts.Archived {
			continue
		}
		matches = append(matches, c)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return ConversationPage{Items: matches}, nil
}

func (s *MemoryStore) ArchiveConversation(ctx context.Context, caller Caller, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return errNotFound("storage", "conversation not found")
	}
	if !caller.Privileged && conv.UserID != caller.UserID {
		return errUnauthorized("storage", "conversation not owned by caller")
	}
	conv.IsArchived = archived
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RenameConversation(ctx context.Context, caller Caller, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return errNotFound("storage", "conversation not found")
	}
	if !caller.Privileged && conv.UserID != caller.UserID {
		return errUnauthorized("storage", "conversation not owned by caller")
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, caller Caller, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return errNotFound("storage", "conversation not found")
	}
	if !caller.Privileged && conv.UserID != caller.UserID {
		return errUnauthorized("storage", "conversation not owned by caller")
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// AppendMessage is unscoped by design: conversation ownership is resolved by
// the orchestrator/bridge before dispatch, and messages are owned by their
// conversation (cascade delete handled by DeleteConversation above).
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, role models.Role, content, toolCallID string, metadata map[string]any) (*models.Message, error) {
	if conversationID == "" {
		return nil, errInvalidRequest("storage", "conversation_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, errNotFound("storage", "conversation not found")
	}
	if conv.IsArchived {
		return nil, errConflict("storage", "conversation is archived")
	}

	now := time.Now()
	hash := models.ContentHash(content)
	existing := s.messages[conversationID]
	for i := len(existing) - 1; i >= 0; i-- {
		m := existing[i]
		if now.Sub(m.CreatedAt) > 2*time.Second {
			break
		}
		if m.Role == role && models.ContentHash(m.Content) == hash {
			return m, nil
		}
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ToolCallID:     toolCallID,
		Metadata:       metadata,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.UpdatedAt = now
	return msg, nil
}

// DeleteMessage removes one message by ID. A privileged caller (hygiene)
// may delete from any conversation; a scoped caller must own it.
func (s *MemoryStore) DeleteMessage(ctx context.Context, caller Caller, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return errNotFound("storage", "conversation not found")
	}
	if !caller.Privileged && conv.UserID != caller.UserID {
		return errUnauthorized("storage", "conversation not owned by caller")
	}

	existing := s.messages[conversationID]
	for i, m := range existing {
		if m.ID == messageID {
			s.messages[conversationID] = append(existing[:i], existing[i+1:]...)
			return nil
		}
	}
	return errNotFound("storage", "message not found")
}

func (s *MemoryStore) ListMessages(ctx context.Context, caller Caller, conversationID string, opts ListMessagesOptions) (MessagePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return MessagePage{}, errNotFound("storage", "conversation not found")
	}
	if !caller.Privileged && conv.UserID != caller.UserID {
		return MessagePage{}, errUnauthorized("storage", "conversation not owned by caller")
	}

	all := s.messages[conversationID]
	start := 0
	if opts.AfterID != "" {
		for i, m := range all {
			if m.ID == opts.AfterID {
				start = i + 1
				break
			}
		}
	}
	subset := all[start:]
	if opts.Limit > 0 && len(subset) > opts.Limit {
		subset = subset[:opts.Limit]
	}
	out := make([]*models.Message, len(subset))
	copy(out, subset)
	return MessagePage{Items: out}, nil
}

func (s *MemoryStore) RecordUsage(ctx context.Context, usage *models.ProviderUsage) error {
	if usage == nil {
		return errInvalidRequest("storage", "usage row is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	s.usage = append(s.usage, usage)
	return nil
}

func (s *MemoryStore) QueryUsage(ctx context.Context, orgID string, since time.Time) ([]*models.ProviderUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProviderUsage
	for _, u := range s.usage {
		if orgID != "" && u.OrgID != orgID {
			continue
		}
		if u.CreatedAt.Before(since) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *MemoryStore) IncrementBudget(ctx context.Context, orgID, provider string, budgetType models.BudgetType, delta float64) (*models.UsageBudget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := budgetKey(orgID, provider, budgetType)
	budget, ok := s.budgets[key]
	if !ok {
		budget = &models.UsageBudget{
			OrgID:      orgID,
			Provider:   provider,
			BudgetType: budgetType,
			IsActive:   true,
		}
		s.budgets[key] = budget
	}
	budget.CurrentSpend += delta
	return budget, nil
}

func (s *MemoryStore) GetBudget(ctx context.Context, orgID, provider string, budgetType models.BudgetType) (*models.UsageBudget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	budget, ok := s.budgets[budgetKey(orgID, provider, budgetType)]
	if !ok {
		return nil, errNotFound("storage", "budget not found")
	}
	return budget, nil
}

func (s *MemoryStore) ReadHealth(ctx context.Context) (HealthReport, error) {
	return HealthReport{Reachable: true, Detail: "in-memory store"}, nil
}

func (s *MemoryStore) UpsertFact(ctx context.Context, fact *models.KnowledgeFact) (*models.KnowledgeFact, error) {
	if fact == nil || fact.SubjectID == "" || fact.FactKey == "" {
		return nil, errInvalidRequest("knowledge", "subject_id and fact_key are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := factKey(fact.SubjectType, fact.SubjectID, fact.Horizon, fact.Domain, fact.FactKey)
	now := time.Now()
	fact.Confidence = models.ClampConfidence(fact.Confidence)
	fact.Tags = models.NormalizeTags(fact.Tags)

	if existing, ok := s.facts[key]; ok {
		existing.FactValue = fact.FactValue
		existing.Confidence = fact.Confidence
		existing.TTLSeconds = fact.TTLSeconds
		existing.Status = fact.Status
		existing.Tags = fact.Tags
		existing.UpdatedAt = now
		return existing, nil
	}

	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	fact.CreatedAt = now
	fact.UpdatedAt = now
	if fact.Status == "" {
		fact.Status = models.FactActive
	}
	s.facts[key] = fact
	return fact, nil
}

func (s *MemoryStore) QueryFacts(ctx context.Context, filter FactFilter) ([]*models.KnowledgeFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjectSet := make(map[string]struct{}, len(filter.Subjects))
	for _, subj := range filter.Subjects {
		subjectSet[string(subj.Type)+"|"+subj.ID] = struct{}{}
	}
	horizonSet := make(map[models.Horizon]struct{}, len(filter.Horizons))
	for _, h := range filter.Horizons {
		horizonSet[h] = struct{}{}
	}
	domainSet := make(map[string]struct{}, len(filter.Domains))
	for _, d := range filter.Domains {
		domainSet[d] = struct{}{}
	}
	tagSet := make(map[string]struct{}, len(filter.Tags))
	for _, tg := range filter.Tags {
		tagSet[tg] = struct{}{}
	}

	now := time.Now()
	var out []*models.KnowledgeFact
	for _, f := range s.facts {
		if len(subjectSet) > 0 {
			if _, ok := subjectSet[string(f.SubjectType)+"|"+f.SubjectID]; !ok {
				continue
			}
		}
		if len(horizonSet) > 0 {
			if _, ok := horizonSet[f.Horizon]; !ok {
				continue
			}
		}
		if len(domainSet) > 0 {
			if _, ok := domainSet[f.Domain]; !ok {
				continue
			}
		}
		if len(tagSet) > 0 && !hasAnyTag(f.Tags, tagSet) {
			continue
		}
		if f.Confidence < filter.MinConfidence {
			continue
		}
		if !filter.IncludeExpired && (f.Status != models.FactActive || f.IsExpired(now)) {
			continue
		}
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		pi, pj := models.HorizonPriority(out[i].Horizon), models.HorizonPriority(out[j].Horizon)
		if pi != pj {
			return pi < pj
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, f := range s.facts {
		if f.Status == models.FactActive && f.IsExpired(now) {
			f.Status = models.FactStale
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (Setting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	setting, ok := s.settings[key]
	return setting, ok, nil
}

func (s *MemoryStore) PutSetting(ctx context.Context, key, value string) (Setting, error) {
	if key == "" {
		return Setting{}, errInvalidRequest("storage", "setting key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	s.settings[key] = setting
	return setting, nil
}

func (s *MemoryStore) Close() error { return nil }

func budgetKey(orgID, provider string, budgetType models.BudgetType) string {
	return orgID + "|" + provider + "|" + string(budgetType)
}

func factKey(subjectType models.SubjectType, subjectID string, horizon models.Horizon, domain, factKeyName string) string {
	return string(subjectType) + "|" + subjectID + "|" + string(horizon) + "|" + domain + "|" + factKeyName
}

func hasAnyTag(tags []string, want map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}
