package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// conversationView is the wire shape for a mirrored conversation, with or
// without its messages loaded.
type conversationView struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	ExternalID string            `json:"externalId,omitempty"`
	IsArchived bool              `json:"isArchived"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Messages   []*models.Message `json:"messages,omitempty"`
}

func toConversationView(c *models.Conversation) conversationView {
	return conversationView{
		ID:         c.ID,
		Title:      c.Title,
		ExternalID: c.ExternalID,
		IsArchived: c.IsArchived,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

// handleConversationsList implements GET /conversations?userId=.
func (b *Bridge) handleConversationsList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		jsonError(w, b.config.Logger, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	page, err := b.config.Store.ListConversations(r.Context(), privilegedCaller(), userID, storage.ListConversationsOptions{})
	if err != nil {
		jsonError(w, b.config.Logger, err.Error(), statusForError(err))
		return
	}

	out := make([]conversationView, 0, len(page.Items))
	for _, c := range page.Items {
		if c.Source != models.SourceToolBridge {
			continue
		}
		out = append(out, toConversationView(c))
	}

	jsonResponse(w, b.config.Logger, http.StatusOK, map[string]any{
		"success":       true,
		"conversations": out,
		"nextCursor":    page.NextCursor,
	})
}

// handleConversationGet implements GET /conversations/:id?userId=.
func (b *Bridge) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		jsonError(w, b.config.Logger, "userId query parameter is required", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")

	conv, err := b.config.Store.GetConversation(r.Context(), storage.Caller{UserID: userID}, id)
	if err != nil {
		jsonError(w, b.config.Logger, err.Error(), statusForError(err))
		return
	}
	if conv.UserID != userID || conv.Source != models.SourceToolBridge {
		jsonError(w, b.config.Logger, "conversation not found", http.StatusNotFound)
		return
	}

	msgs, err := b.config.Store.ListMessages(r.Context(), privilegedCaller(), conv.ID, storage.ListMessagesOptions{})
	if err != nil {
		jsonError(w, b.config.Logger, err.Error(), statusForError(err))
		return
	}

	view := toConversationView(conv)
	view.Messages = msgs.Items

	jsonResponse(w, b.config.Logger, http.StatusOK, map[string]any{
		"success":      true,
		"conversation": view,
	})
}

// handleConversationsStream implements GET /conversations/stream?userId=: a
// server-sent stream of newly inserted tool-bridge messages for that user.
// This module has no pub/sub broker (spec's Non-goals exclude
// multi-instance fan-out), so new messages are discovered by polling
// ListMessages per tracked conversation, grounded on the same
// line-delimited `data: {json}\n\n` framing the chat streaming path
// (internal/gateway/streaming.go, internal/gateway/stream_manager.go in the
// reference implementation) uses for completion chunks.
func (b *Bridge) handleConversationsStream(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		jsonError(w, b.config.Logger, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, b.config.Logger, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(b.config.StreamPollInterval)
	defer ticker.Stop()

	lastSeen := make(map[string]string) // conversationID -> last delivered message ID

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.emitNewMessages(ctx, w, flusher, userID, lastSeen)
		}
	}
}

// emitNewMessages lists every tool-bridge conversation for userID, fetches
// messages appended since the last poll for each, and writes them as SSE
// data frames. Errors are swallowed per-conversation (logged) rather than
// tearing down the stream, since a transient store error shouldn't drop a
// long-lived client connection.
func (b *Bridge) emitNewMessages(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, userID string, lastSeen map[string]string) {
	page, err := b.config.Store.ListConversations(ctx, privilegedCaller(), userID, storage.ListConversationsOptions{})
	if err != nil {
		b.config.Logger.Warn("bridge: stream poll failed to list conversations", "error", err, "user_id", userID)
		return
	}

	for _, conv := range page.Items {
		if conv.Source != models.SourceToolBridge {
			continue
		}
		msgs, err := b.config.Store.ListMessages(ctx, privilegedCaller(), conv.ID, storage.ListMessagesOptions{AfterID: lastSeen[conv.ID]})
		if err != nil {
			b.config.Logger.Warn("bridge: stream poll failed to list messages", "error", err, "conversation_id", conv.ID)
			continue
		}
		if len(msgs.Items) == 0 {
			continue
		}
		for _, m := range msgs.Items {
			payload, err := json.Marshal(m)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
		}
		lastSeen[conv.ID] = msgs.Items[len(msgs.Items)-1].ID
	}
	flusher.Flush()
}
