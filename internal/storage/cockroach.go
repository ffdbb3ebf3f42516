package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/haasonsaas/nexus/pkg/models"
)

// CockroachStore is a Store backed by Postgres/CockroachDB via lib/pq.
type CockroachStore struct {
	db *sql.DB
}

// NewCockroachStoreFromDSN opens a pooled connection and pings it before
// returning, following the teacher's fail-fast connect pattern.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &CockroachStore{db: db}, nil
}

func (s *CockroachStore) Close() error {
	return s.db.Close()
}

func (s *CockroachStore) CreateConversation(ctx context.Context, params CreateConversationParams) (*models.Conversation, error) {
	if params.UserID == "" {
		return nil, errInvalidRequest("storage", "user_id is required")
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, org_id, title, is_archived, source, external_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		conv.ID, conv.UserID, conv.OrgID, conv.Title, conv.IsArchived,
		string(conv.Source), nullableString(conv.ExternalID), conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "23505") {
			return nil, errConflict("storage", "external_id already exists for this user and source")
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *CockroachStore) GetConversation(ctx context.Context, caller Caller, id string) (*models.Conversation, error) {
	conv, err := s.scanConversation(ctx,
		`SELECT id, user_id, org_id, title, is_archived, source, external_id, created_at, updated_at
		 FROM conversations WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if !caller.Privileged && conv.UserID != caller.UserID {
		return nil, errUnauthorized("storage", "conversation not owned by caller")
	}
	return conv, nil
}

func (s *CockroachStore) FindConversationByExternalID(ctx context.Context, source models.ConversationSource, userID, externalID string) (*models.Conversation, error) {
	return s.scanConversation(ctx,
		`SELECT id, user_id, org_id, title, is_archived, source, external_id, created_at, updated_at
		 FROM conversations WHERE source = $1 AND user_id = $2 AND external_id = $3`,
		string(source), userID, externalID)
}

func (s *CockroachStore) scanConversation(ctx context.Context, query string, args ...any) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var conv models.Conversation
	var source string
	var orgID, externalID sql.NullString
	if err := row.Scan(&conv.ID, &conv.UserID, &orgID, &conv.Title, &conv.IsArchived,
		&source, &externalID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errNotFound("storage", "conversation not found")
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.OrgID = orgID.String
	conv.ExternalID = externalID.String
	conv.Source = models.ConversationSource(source)
	return &conv, nil
}

func (s *CockroachStore) ListConversations(ctx context.Context, caller Caller, userID string, opts ListConversationsOptions) (ConversationPage, error) {
	if !caller.Privileged && caller.UserID != userID {
		return ConversationPage{}, errUnauthorized("storage", "cannot list another user's conversations")
	}

	query := `SELECT id, user_id, org_id, title, is_archived, source, external_id, created_at, updated_at
		FROM conversations WHERE user_id = $1`
	args := []any{userID}
	if opts.Archived != nil {
		args = append(args, *opts.Archived)
		query += fmt.Sprintf(" AND is_archived = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var page ConversationPage
	for rows.Next() {
		var conv models.Conversation
		var source string
		var orgID, externalID sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &orgID, &conv.Title, &conv.IsArchived,
			&source, &externalID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return ConversationPage{}, fmt.Errorf("scan conversation: %w", err)
		}
		conv.OrgID = orgID.String
		conv.ExternalID = externalID.String
		conv.Source = models.ConversationSource(source)
		page.Items = append(page.Items, &conv)
	}
	return page, rows.Err()
}

func (s *CockroachStore) ListAllConversations(ctx context.Context, caller Caller, opts ListConversationsOptions) (ConversationPage, error) {
	if !caller.Privileged {
		return ConversationPage{}, errUnauthorized("storage", "listing all conversations requires a privileged caller")
	}

	query := `SELECT id, user_id, org_id, title, is_archived, source, external_id, created_at, updated_at
		FROM conversations WHERE 1=1`
	var args []any
	if opts.Archived != nil {
		args = append(args, *opts.Archived)
		query += fmt.Sprintf(" AND is_archived = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("list all conversations: %w", err)
	}
	defer rows.Close()

	var page ConversationPage
	for rows.Next() {
		var conv models.Conversation
		var source string
		var orgID, externalID sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &orgID, &conv.Title, &conv.IsArchived,
			&source, &externalID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return ConversationPage{}, fmt.Errorf("scan conversation: %w", err)
		}
		conv.OrgID = orgID.String
		conv.ExternalID = externalID.String
		conv.Source = models.ConversationSource(source)
		page.Items = append(page.Items, &conv)
	}
	return page, rows.Err()
}

func (s *CockroachStore) ArchiveConversation(ctx context.Context, caller Caller, id string, archived bool) error {
	query := `UPDATE conversations SET is_archived = $1, updated_at = $2 WHERE id = $3`
	args := []any{archived, time.Now(), id}
	if !caller.Privileged {
		query += " AND user_id = $4"
		args = append(args, caller.UserID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	return requireRowsAffected(res, "storage", "conversation not found or not owned by caller")
}

func (s *CockroachStore) RenameConversation(ctx context.Context, caller Caller, id, title string) error {
	query := `UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3`
	args := []any{title, time.Now(), id}
	if !caller.Privileged {
		query += " AND user_id = $4"
		args = append(args, caller.UserID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return requireRowsAffected(res, "storage", "conversation not found or not owned by caller")
}

func (s *CockroachStore) DeleteConversation(ctx context.Context, caller Caller, id string) error {
	query := `DELETE FROM conversations WHERE id = $1`
	args := []any{id}
	if !caller.Privileged {
		query += " AND user_id = $2"
		args = append(args, caller.UserID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := requireRowsAffected(res, "storage", "conversation not found or not owned by caller"); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id)
	if err != nil {
		return fmt.Errorf("cascade delete messages: %w", err)
	}
	return nil
}

func (s *CockroachStore) AppendMessage(ctx context.Context, conversationID string, role models.Role, content, toolCallID string, metadata map[string]any) (*models.Message, error) {
	if conversationID == "" {
		return nil, errInvalidRequest("storage", "conversation_id is required")
	}

	var existing models.Message
	var existingToolCallID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, tool_call_id, created_at
		 FROM messages
		 WHERE conversation_id = $1 AND role = $2 AND content = $3
		   AND created_at > $4
		 ORDER BY created_at DESC LIMIT 1`,
		conversationID, string(role), content, time.Now().Add(-2*time.Second),
	).Scan(&existing.ID, &existing.ConversationID, &existing.Role, &existing.Content, &existingToolCallID, &existing.CreatedAt)
	if err == nil {
		existing.ToolCallID = existingToolCallID.String
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal message metadata: %w", err)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ToolCallID:     toolCallID,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_call_id, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, nullableString(msg.ToolCallID), metaJSON, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}

func (s *CockroachStore) DeleteMessage(ctx context.Context, caller Caller, conversationID, messageID string) error {
	if !caller.Privileged {
		if _, err := s.GetConversation(ctx, caller, conversationID); err != nil {
			return err
		}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND conversation_id = $2`, messageID, conversationID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRowsAffected(res, "storage", "message not found")
}

func (s *CockroachStore) ListMessages(ctx context.Context, caller Caller, conversationID string, opts ListMessagesOptions) (MessagePage, error) {
	if _, err := s.GetConversation(ctx, caller, conversationID); err != nil {
		return MessagePage{}, err
	}

	query := `SELECT id, conversation_id, role, content, tool_call_id, metadata, created_at FROM messages WHERE conversation_id = $1`
	args := []any{conversationID}
	if opts.AfterID != "" {
		args = append(args, opts.AfterID)
		query += fmt.Sprintf(` AND created_at > (SELECT created_at FROM messages WHERE id = $%d)`, len(args))
	}
	query += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var page MessagePage
	for rows.Next() {
		var msg models.Message
		var toolCallID sql.NullString
		var meta []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &toolCallID, &meta, &msg.CreatedAt); err != nil {
			return MessagePage{}, fmt.Errorf("scan message: %w", err)
		}
		msg.ToolCallID = toolCallID.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &msg.Metadata); err != nil {
				return MessagePage{}, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		page.Items = append(page.Items, &msg)
	}
	return page, rows.Err()
}

func (s *CockroachStore) RecordUsage(ctx context.Context, usage *models.ProviderUsage) error {
	if usage == nil {
		return errInvalidRequest("storage", "usage row is required")
	}
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	meta, err := json.Marshal(usage.Metadata)
	if err != nil {
		return fmt.Errorf("marshal usage metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provider_usage
		 (id, user_id, org_id, provider, model, task_type, prompt_tokens, completion_tokens, cost_usd, latency_ms, success, request_id, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		usage.ID, usage.UserID, nullableString(usage.OrgID), usage.Provider, usage.Model, string(usage.TaskType),
		usage.PromptTokens, usage.CompletionTokens, usage.CostUSD, usage.LatencyMs,
		usage.Success, usage.RequestID, meta, usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *CockroachStore) QueryUsage(ctx context.Context, orgID string, since time.Time) ([]*models.ProviderUsage, error) {
	query := `SELECT id, user_id, org_id, provider, model, task_type, prompt_tokens, completion_tokens, cost_usd, latency_ms, success, request_id, metadata, created_at
		FROM provider_usage WHERE created_at >= $1`
	args := []any{since}
	if orgID != "" {
		args = append(args, orgID)
		query += fmt.Sprintf(" AND org_id = $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []*models.ProviderUsage
	for rows.Next() {
		var u models.ProviderUsage
		var orgIDCol sql.NullString
		var taskType string
		var meta []byte
		if err := rows.Scan(&u.ID, &u.UserID, &orgIDCol, &u.Provider, &u.Model, &taskType,
			&u.PromptTokens, &u.CompletionTokens, &u.CostUSD, &u.LatencyMs, &u.Success, &u.RequestID, &meta, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		u.OrgID = orgIDCol.String
		u.TaskType = models.TaskRole(taskType)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &u.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal usage metadata: %w", err)
			}
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *CockroachStore) IncrementBudget(ctx context.Context, orgID, provider string, budgetType models.BudgetType, delta float64) (*models.UsageBudget, error) {
	var budget models.UsageBudget
	var budgetTypeStr string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO usage_budgets (org_id, provider, budget_type, is_active, budget_amount, current_spend, reset_date)
		 VALUES ($1,$2,$3,true,0,$4,now())
		 ON CONFLICT (org_id, provider, budget_type) DO UPDATE
		 SET current_spend = usage_budgets.current_spend + EXCLUDED.current_spend
		 RETURNING org_id, provider, budget_type, is_active, budget_amount, current_spend, reset_date`,
		orgID, provider, string(budgetType), delta,
	).Scan(&budget.OrgID, &budget.Provider, &budgetTypeStr, &budget.IsActive,
		&budget.BudgetAmount, &budget.CurrentSpend, &budget.ResetDate)
	if err != nil {
		return nil, fmt.Errorf("increment budget: %w", err)
	}
	budget.BudgetType = models.BudgetType(budgetTypeStr)
	return &budget, nil
}

func (s *CockroachStore) GetBudget(ctx context.Context, orgID, provider string, budgetType models.BudgetType) (*models.UsageBudget, error) {
	var budget models.UsageBudget
	var budgetTypeStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT org_id, provider, budget_type, is_active, budget_amount, current_spend, reset_date
		 FROM usage_budgets WHERE org_id = $1 AND provider = $2 AND budget_type = $3`,
		orgID, provider, string(budgetType),
	).Scan(&budget.OrgID, &budget.Provider, &budgetTypeStr, &budget.IsActive,
		&budget.BudgetAmount, &budget.CurrentSpend, &budget.ResetDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errNotFound("storage", "budget not found")
		}
		return nil, fmt.Errorf("get budget: %w", err)
	}
	budget.BudgetType = models.BudgetType(budgetTypeStr)
	return &budget, nil
}

func (s *CockroachStore) ReadHealth(ctx context.Context) (HealthReport, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return HealthReport{Reachable: false, Detail: err.Error()}, nil
	}
	return HealthReport{Reachable: true, Latency: time.Since(start)}, nil
}

func (s *CockroachStore) UpsertFact(ctx context.Context, fact *models.KnowledgeFact) (*models.KnowledgeFact, error) {
	if fact == nil || fact.SubjectID == "" || fact.FactKey == "" {
		return nil, errInvalidRequest("knowledge", "subject_id and fact_key are required")
	}
	fact.Confidence = models.ClampConfidence(fact.Confidence)
	fact.Tags = models.NormalizeTags(fact.Tags)
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.Status == "" {
		fact.Status = models.FactActive
	}

	value, err := json.Marshal(fact.FactValue)
	if err != nil {
		return nil, fmt.Errorf("marshal fact value: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO knowledge_facts
		 (id, subject_type, subject_id, horizon, domain, fact_key, fact_value, ttl_seconds, status, confidence, tags, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
		 ON CONFLICT (subject_type, subject_id, horizon, domain, fact_key) DO UPDATE
		 SET fact_value = EXCLUDED.fact_value,
		     ttl_seconds = EXCLUDED.ttl_seconds,
		     status = EXCLUDED.status,
		     confidence = EXCLUDED.confidence,
		     tags = EXCLUDED.tags,
		     updated_at = now()
		 RETURNING id, created_at, updated_at`,
		fact.ID, string(fact.SubjectType), fact.SubjectID, string(fact.Horizon), fact.Domain, fact.FactKey,
		value, fact.TTLSeconds, string(fact.Status), fact.Confidence, pq.Array(fact.Tags),
	)
	if err := row.Scan(&fact.ID, &fact.CreatedAt, &fact.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert fact: %w", err)
	}
	return fact, nil
}

func (s *CockroachStore) QueryFacts(ctx context.Context, filter FactFilter) ([]*models.KnowledgeFact, error) {
	query := `SELECT id, subject_type, subject_id, horizon, domain, fact_key, fact_value, ttl_seconds, status, confidence, tags, created_at, updated_at
		FROM knowledge_facts WHERE 1=1`
	var args []any

	if len(filter.Subjects) > 0 {
		var clauses []string
		for _, subj := range filter.Subjects {
			args = append(args, string(subj.Type), subj.ID)
			clauses = append(clauses, fmt.Sprintf("(subject_type = $%d AND subject_id = $%d)", len(args)-1, len(args)))
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	if len(filter.Horizons) > 0 {
		horizons := make([]string, len(filter.Horizons))
		for i, h := range filter.Horizons {
			horizons[i] = string(h)
		}
		args = append(args, pq.Array(horizons))
		query += fmt.Sprintf(" AND horizon = ANY($%d)", len(args))
	}
	if len(filter.Domains) > 0 {
		args = append(args, pq.Array(filter.Domains))
		query += fmt.Sprintf(" AND domain = ANY($%d)", len(args))
	}
	if filter.MinConfidence > 0 {
		args = append(args, filter.MinConfidence)
		query += fmt.Sprintf(" AND confidence >= $%d", len(args))
	}
	if !filter.IncludeExpired {
		query += " AND status = 'active' AND (ttl_seconds IS NULL OR updated_at + (ttl_seconds || ' seconds')::interval > now())"
	}
	query += " ORDER BY (CASE horizon WHEN 'short' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END), confidence DESC, updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []*models.KnowledgeFact
	for rows.Next() {
		var f models.KnowledgeFact
		var subjectType, horizon, status string
		var value []byte
		var tags []string
		var ttl sql.NullInt64
		if err := rows.Scan(&f.ID, &subjectType, &f.SubjectID, &horizon, &f.Domain, &f.FactKey,
			&value, &ttl, &status, &f.Confidence, pq.Array(&tags), &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.SubjectType = models.SubjectType(subjectType)
		f.Horizon = models.Horizon(horizon)
		f.Status = models.FactStatus(status)
		f.Tags = tags
		if ttl.Valid {
			v := ttl.Int64
			f.TTLSeconds = &v
		}
		if len(value) > 0 {
			if err := json.Unmarshal(value, &f.FactValue); err != nil {
				return nil, fmt.Errorf("unmarshal fact value: %w", err)
			}
		}
		if len(filter.Tags) > 0 && !hasAnyTag(f.Tags, tagSetOf(filter.Tags)) {
			continue
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *CockroachStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_facts SET status = 'stale'
		 WHERE status = 'active' AND ttl_seconds IS NOT NULL
		   AND updated_at + (ttl_seconds || ' seconds')::interval <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale facts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire stale facts rows affected: %w", err)
	}
	return int(n), nil
}

func (s *CockroachStore) GetSetting(ctx context.Context, key string) (Setting, bool, error) {
	var setting Setting
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = $1`, key,
	).Scan(&setting.Key, &setting.Value, &setting.UpdatedAt)
	if err == sql.ErrNoRows {
		return Setting{}, false, nil
	}
	if err != nil {
		return Setting{}, false, fmt.Errorf("get setting: %w", err)
	}
	return setting, true, nil
}

func (s *CockroachStore) PutSetting(ctx context.Context, key, value string) (Setting, error) {
	if key == "" {
		return Setting{}, errInvalidRequest("storage", "setting key is required")
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, now)
	if err != nil {
		return Setting{}, fmt.Errorf("put setting: %w", err)
	}
	return Setting{Key: key, Value: value, UpdatedAt: now}, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowsAffected(res sql.Result, component, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errNotFound(component, msg)
	}
	return nil
}

func tagSetOf(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}
