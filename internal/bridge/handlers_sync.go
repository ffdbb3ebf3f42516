package bridge

import (
	"context"
	"net/http"

	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// syncMessage is one message in a POST /conversations/sync payload.
type syncMessage struct {
	ID      string      `json:"id,omitempty"`
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// syncRequest is the body of POST /conversations/sync.
type syncRequest struct {
	ConversationID string         `json:"conversationId"`
	Title          string         `json:"title"`
	Messages       []syncMessage  `json:"messages"`
	Model          string         `json:"model"`
	SystemPrompt   string         `json:"systemPrompt,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type syncResponse struct {
	ConversationID string `json:"conversationId"`
	AppendedCount  int    `json:"appendedCount"`
}

// handleConversationsSync implements POST /conversations/sync: an idempotent
// upsert of an externally-owned conversation transcript, keyed by
// (source=tool-bridge, userID, conversationId). Replaying the same payload
// any number of times produces the same final state, per spec.md's bridge
// invariant.
func (b *Bridge) handleConversationsSync(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		jsonError(w, b.config.Logger, err.Error(), statusForError(err))
		return
	}

	var req syncRequest
	if status, err := decodeJSONRequest(w, r, &req); err != nil {
		jsonError(w, b.config.Logger, err.Error(), status)
		return
	}
	if req.ConversationID == "" {
		jsonError(w, b.config.Logger, "conversationId is required", http.StatusBadRequest)
		return
	}

	resp, err := b.syncConversation(r.Context(), userID, req)
	if err != nil {
		jsonError(w, b.config.Logger, err.Error(), statusForError(err))
		return
	}

	jsonResponse(w, b.config.Logger, http.StatusOK, resp)
}

func (b *Bridge) syncConversation(ctx context.Context, userID string, req syncRequest) (*syncResponse, error) {
	caller := privilegedCaller()

	conv, err := b.config.Store.FindConversationByExternalID(ctx, models.SourceToolBridge, userID, req.ConversationID)
	if err != nil {
		if !orcherr.Is(err, orcherr.NotFound) {
			return nil, err
		}
		conv, err = b.config.Store.CreateConversation(ctx, storage.CreateConversationParams{
			UserID:     userID,
			Title:      req.Title,
			Source:     models.SourceToolBridge,
			ExternalID: req.ConversationID,
		})
		if err != nil {
			return nil, err
		}
	}

	existingPage, err := b.config.Store.ListMessages(ctx, caller, conv.ID, storage.ListMessagesOptions{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(existingPage.Items))
	for _, m := range existingPage.Items {
		seen[messageDedupeKey(m.Role, m.Content, externalMessageID(m))] = struct{}{}
	}

	appended := 0
	for _, sm := range req.Messages {
		key := messageDedupeKey(sm.Role, sm.Content, sm.ID)
		if _, ok := seen[key]; ok {
			continue
		}
		var metadata map[string]any
		if sm.ID != "" {
			metadata = map[string]any{"external_message_id": sm.ID}
		}
		if _, err := b.config.Store.AppendMessage(ctx, conv.ID, sm.Role, sm.Content, "", metadata); err != nil {
			return nil, err
		}
		seen[key] = struct{}{}
		appended++
	}

	return &syncResponse{ConversationID: conv.ID, AppendedCount: appended}, nil
}

// externalMessageID extracts the external-runtime message id stashed in
// Metadata by a prior sync call, if any.
func externalMessageID(m *models.Message) string {
	if m.Metadata == nil {
		return ""
	}
	id, _ := m.Metadata["external_message_id"].(string)
	return id
}

// messageDedupeKey is the sync handler's own idempotency key: it prefers the
// external-runtime message id when supplied (id collisions always mean the
// same logical message) and falls back to a role+content hash otherwise.
// This is deliberately broader than storage.MemoryStore.AppendMessage's
// built-in 2-second dedupe window, which exists to guard against a single
// accidental double-submit, not a sync call replayed minutes or days apart.
func messageDedupeKey(role models.Role, content, externalID string) string {
	if externalID != "" {
		return "id:" + externalID
	}
	return "hash:" + string(role) + ":" + models.ContentHash(content)
}
