// Package storage is the Persistence Port (C1): the narrow capability set
// every other component uses to reach the relational store. It never exposes
// raw SQL to callers and enforces row ownership centrally so higher-level
// components (orchestrator, hygiene, bridge) cannot accidentally bypass it.
package storage

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/pkg/models"
)

// CreateConversationParams are the inputs to CreateConversation.
type CreateConversationParams struct {
	UserID     string
	OrgID      string
	Title      string
	Source     models.ConversationSource
	ExternalID string
}

// ListConversationsOptions filters and paginates ListConversations.
type ListConversationsOptions struct {
	Archived *bool
	Limit    int
	Cursor   string
}

// ConversationPage is one page of conversations plus a cursor for the next.
type ConversationPage struct {
	Items      []*models.Conversation
	NextCursor string
}

// ListMessagesOptions filters and paginates ListMessages.
type ListMessagesOptions struct {
	AfterID string
	Limit   int
}

// MessagePage is one page of messages.
type MessagePage struct {
	Items      []*models.Message
	NextCursor string
}

// FactFilter scopes a knowledge-fact query; see internal/knowledge.
type FactFilter struct {
	Subjects       []FactSubject
	Horizons       []models.Horizon
	Domains        []string
	Tags           []string
	MinConfidence  float64
	IncludeExpired bool
	Limit          int
}

// FactSubject is one (subject_type, subject_id) pair to query against.
type FactSubject struct {
	Type models.SubjectType
	ID   string
}

// HealthReport is the persistence port's self-reported reachability.
type HealthReport struct {
	Reachable bool
	Latency   time.Duration
	Detail    string
}

// Caller identifies who is performing a row-scoped operation. Privileged
// callers (orchestrator internals, hygiene, tool bridge on behalf of its
// own bookkeeping) bypass the user_id ownership check explicitly; every
// other caller is scoped to UserID.
type Caller struct {
	UserID     string
	Privileged bool
}

// ConversationStore covers conversation lifecycle operations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, params CreateConversationParams) (*models.Conversation, error)
	GetConversation(ctx context.Context, caller Caller, id string) (*models.Conversation, error)
	FindConversationByExternalID(ctx context.Context, source models.ConversationSource, userID, externalID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, caller Caller, userID string, opts ListConversationsOptions) (ConversationPage, error)
	// ListAllConversations lists conversations across every user, for
	// privileged maintenance sweeps (hygiene, admin/ops). Non-privileged
	// callers are rejected outright; this is never reachable from a
	// user-scoped request path.
	ListAllConversations(ctx context.Context, caller Caller, opts ListConversationsOptions) (ConversationPage, error)
	ArchiveConversation(ctx context.Context, caller Caller, id string, archived bool) error
	// RenameConversation overwrites a conversation's title, used by the
	// transcript hygiene sweep's AI-retitle pass.
	RenameConversation(ctx context.Context, caller Caller, id, title string) error
	DeleteConversation(ctx context.Context, caller Caller, id string) error
}

// MessageStore covers message append/read operations.
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content, toolCallID string, metadata map[string]any) (*models.Message, error)
	ListMessages(ctx context.Context, caller Caller, conversationID string, opts ListMessagesOptions) (MessagePage, error)
	// DeleteMessage removes a single message from a conversation. Used by
	// the transcript hygiene sweep to prune and dedupe; non-privileged
	// callers must own the parent conversation.
	DeleteMessage(ctx context.Context, caller Caller, conversationID, messageID string) error
}

// UsageStore covers provider usage accounting and budgets.
type UsageStore interface {
	RecordUsage(ctx context.Context, usage *models.ProviderUsage) error
	QueryUsage(ctx context.Context, orgID string, since time.Time) ([]*models.ProviderUsage, error)
	IncrementBudget(ctx context.Context, orgID, provider string, budgetType models.BudgetType, delta float64) (*models.UsageBudget, error)
	GetBudget(ctx context.Context, orgID, provider string, budgetType models.BudgetType) (*models.UsageBudget, error)
	ReadHealth(ctx context.Context) (HealthReport, error)
}

// FactStore covers knowledge fact persistence.
type FactStore interface {
	UpsertFact(ctx context.Context, fact *models.KnowledgeFact) (*models.KnowledgeFact, error)
	QueryFacts(ctx context.Context, filter FactFilter) ([]*models.KnowledgeFact, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// Setting is a single admin-editable key/value row, currently used only
// for the "agent soul" markdown blob (C10) but kept general so a future
// admin-surface field doesn't need its own table.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// SettingsStore covers the small set of admin-editable singleton values
// the Admin/Ops Surface reads and writes. There is no per-user scoping:
// every setting is instance-wide, so callers are gated by role, not by
// storage.Caller.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (Setting, bool, error)
	PutSetting(ctx context.Context, key, value string) (Setting, error)
}

// Store is the full Persistence Port surface.
type Store interface {
	ConversationStore
	MessageStore
	UsageStore
	FactStore
	SettingsStore
	Close() error
}

// errNotFound, errConflict, errUnauthorized are convenience constructors
// kept local to this package so implementations don't repeat the component
// name at every call site.
func errNotFound(component, msg string) error { return orcherr.New(orcherr.NotFound, component, msg) }
func errConflict(component, msg string) error { return orcherr.New(orcherr.Conflict, component, msg) }
func errUnauthorized(component, msg string) error {
	return orcherr.New(orcherr.Unauthorized, component, msg)
}
func errInvalidRequest(component, msg string) error {
	return orcherr.New(orcherr.InvalidRequest, component, msg)
}
