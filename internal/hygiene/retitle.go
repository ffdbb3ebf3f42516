package hygiene

import (
	"context"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// retitleCandidate reports whether a conversation is eligible for rule 4:
// at least one message, a generic or empty title, and not archived (an
// archived conversation is frozen except for is_archived itself).
func retitleCandidate(conv *models.Conversation, messageCount int) bool {
	if conv.IsArchived || messageCount == 0 {
		return false
	}
	return isGenericTitle(conv.Title)
}

// retitleBatch processes eligible conversations with up to
// RetitleBatchSize concurrent Provider Gateway requests, the same
// buffered-channel semaphore shape internal/tasks/scheduler.go uses to
// bound concurrent job execution. A per-conversation failure is logged
// and skipped; it never aborts the rest of the batch.
func (r *Runner) retitleBatch(ctx context.Context, conversations []*models.Conversation) (int, []string) {
	if r.cfg.Gateway == nil {
		return 0, nil
	}

	sem := make(chan struct{}, r.cfg.RetitleBatchSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	retitled := 0
	var errs []string

	for _, conv := range conversations {
		messages, err := r.cfg.Store.ListMessages(ctx, privilegedCaller, conv.ID, storage.ListMessagesOptions{})
		if err != nil {
			mu.Lock()
			errs = append(errs, "list messages for retitle "+conv.ID+": "+err.Error())
			mu.Unlock()
			continue
		}
		if !retitleCandidate(conv, len(messages.Items)) {
			continue
		}

		conv := conv
		msgs := messages.Items
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			title, err := r.generateTitle(ctx, msgs)
			if err != nil {
				r.cfg.Logger.Warn("retitle failed", "conversation_id", conv.ID, "error", err)
				mu.Lock()
				errs = append(errs, "retitle "+conv.ID+": "+err.Error())
				mu.Unlock()
				return
			}
			if r.cfg.DryRun {
				mu.Lock()
				retitled++
				mu.Unlock()
				return
			}
			if err := r.cfg.Store.RenameConversation(ctx, privilegedCaller, conv.ID, title); err != nil {
				r.cfg.Logger.Warn("retitle rename failed", "conversation_id", conv.ID, "error", err)
				mu.Lock()
				errs = append(errs, "rename "+conv.ID+": "+err.Error())
				mu.Unlock()
				return
			}
			mu.Lock()
			retitled++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return retitled, errs
}

// generateTitle asks the Provider Gateway for a 3-5 word title derived
// from the first retitleSourceMessages messages, truncated to
// retitleSourceMaxChars combined characters per spec.md §4.9 rule 4.
func (r *Runner) generateTitle(ctx context.Context, messages []*models.Message) (string, error) {
	source := messages
	if len(source) > retitleSourceMessages {
		source = source[:retitleSourceMessages]
	}

	var transcript strings.Builder
	for _, m := range source {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}
	content := transcript.String()
	if len(content) > retitleSourceMaxChars {
		content = content[:retitleSourceMaxChars]
	}

	prompt := models.Message{
		Role: models.RoleUser,
		Content: "Generate a concise 3-5 word title summarizing this conversation. " +
			"Reply with the title only, no quotes or punctuation.\n\n" + content,
	}

	stream, _, _, err := r.cfg.Gateway.Chat(ctx, routing.ChatParams{
		Messages:    []models.Message{prompt},
		Role:        models.RoleChat,
		Sensitivity: models.SensitivityInternal,
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range stream {
		if chunk.Error != "" {
			return "", &titleGenerationError{message: chunk.Error}
		}
		out.WriteString(chunk.Delta)
	}

	return cleanTitle(out.String()), nil
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'“”‘’")
	title = strings.TrimSpace(title)
	return title
}

type titleGenerationError struct{ message string }

func (e *titleGenerationError) Error() string { return e.message }
