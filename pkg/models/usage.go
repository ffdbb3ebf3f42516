package models

import "time"

// TaskRole is the kind of work a provider request performs; used by the
// routing policy to select a capable provider.
type TaskRole string

const (
	RoleChat      TaskRole = "chat"
	RoleDraft     TaskRole = "draft"
	RoleAnalysis  TaskRole = "analysis"
	RoleEmbedding TaskRole = "embedding"
)

// Sensitivity controls which providers are eligible for a request.
type Sensitivity string

const (
	SensitivityRestricted Sensitivity = "restricted"
	SensitivityInternal   Sensitivity = "internal"
	SensitivityPublic     Sensitivity = "public"
)

// ProviderUsage is an append-only per-request accounting row. Rows are never
// mutated after insert.
type ProviderUsage struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	OrgID           string         `json:"org_id"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	TaskType        TaskRole       `json:"task_type"`
	PromptTokens    int            `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	CostUSD         float64        `json:"cost_usd"`
	LatencyMs       int64          `json:"latency_ms"`
	Success         bool           `json:"success"`
	RequestID       string         `json:"request_id"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ProviderCredit is the per-provider balance, one row per provider.
type ProviderCredit struct {
	Provider       string    `json:"provider"`
	BalanceUSD     float64   `json:"balance_usd"`
	QuotaResetsAt  time.Time `json:"quota_resets_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BudgetType distinguishes the kind of spend ceiling a UsageBudget enforces.
type BudgetType string

const (
	BudgetDaily   BudgetType = "daily"
	BudgetMonthly BudgetType = "monthly"
)

// UsageBudget is a spend ceiling unique on (OrgID, Provider, BudgetType).
// Reads/writes of CurrentSpend must be atomic (upsert with arithmetic or a
// transaction with a conditional check) since providers race to increment it.
type UsageBudget struct {
	OrgID         string     `json:"org_id"`
	Provider      string     `json:"provider"`
	BudgetType    BudgetType `json:"budget_type"`
	IsActive      bool       `json:"is_active"`
	BudgetAmount  float64    `json:"budget_amount"`
	CurrentSpend  float64    `json:"current_spend"`
	ResetDate     time.Time  `json:"reset_date"`
}

// Exhausted reports whether spend has reached or exceeded the budget amount
// while the budget is active.
func (b *UsageBudget) Exhausted() bool {
	if b == nil || !b.IsActive {
		return false
	}
	return b.CurrentSpend >= b.BudgetAmount
}

// ProviderHealth is the result of a provider connectivity probe.
type ProviderHealth string

const (
	HealthConnected ProviderHealth = "connected"
	HealthDegraded  ProviderHealth = "degraded"
	HealthDown      ProviderHealth = "down"
)

// Model describes one selectable model exposed by a provider.
type Model struct {
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	CostPerToken  float64 `json:"cost_per_token"`
	ContextWindow int     `json:"context_window"`
}

// UsageStats summarizes provider usage over a reporting window.
type UsageStats struct {
	TotalRequests  int     `json:"total_requests"`
	TotalCost      float64 `json:"total_cost"`
	SuccessRate    float64 `json:"success_rate"`
	AverageLatency float64 `json:"average_latency_ms"`
}

// CompletionChunk is the gateway's normalized streaming unit. Providers that
// stream tokens are adapted to this shape before reaching the orchestrator.
type CompletionChunk struct {
	Delta        string    `json:"delta,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	ToolCall     *ToolCall `json:"tool_call,omitempty"`
	Error        string    `json:"error,omitempty"`
}
