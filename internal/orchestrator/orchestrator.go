// Package orchestrator implements the Chat Orchestrator (C7): the
// end-to-end request pipeline that resolves a conversation, assembles
// context (C3), selects a persona and prompt (C4), dispatches to the
// Provider Gateway (C5) under a registry-tracked cancellation controller
// (C6), and persists the resulting transcript.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/contextbundle"
	"github.com/haasonsaas/nexus/internal/experts"
	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/registry"
	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// defaultMessageWindow is the bounded number of prior persisted messages
// included in a chat turn's composed message list (spec.md §4.7 step 5).
const defaultMessageWindow = 40

// defaultRequestTimeout bounds a single chat turn's wall clock.
const defaultRequestTimeout = 60 * time.Second

// titlePreviewChars is how much of the first user message becomes a new
// conversation's title.
const titlePreviewChars = 50

// PersonaCatalog supplies the persona/template inputs the Expert Selector
// (C4) needs. A static, config-driven implementation is expected; see
// StaticCatalog.
type PersonaCatalog interface {
	Personas() map[string]models.ExpertPersona
	TemplatesFor(personaID string) []models.PromptTemplate
	SwitchPhrases() []experts.SwitchPhraseTrigger
	TopicTriggers() []experts.TopicTrigger
	IdentityPersona() string
	DefaultPersona() string
}

// StaticCatalog is a PersonaCatalog backed by in-memory config, the shape
// spec.md §4.4 assumes (personas and templates are seeded at startup, not
// mutated by request traffic).
type StaticCatalog struct {
	PersonasByID      map[string]models.ExpertPersona
	TemplatesByExpert map[string][]models.PromptTemplate
	Switches          []experts.SwitchPhraseTrigger
	Topics            []experts.TopicTrigger
	Identity          string
	Default           string
}

func (c StaticCatalog) Personas() map[string]models.ExpertPersona { return c.PersonasByID }
func (c StaticCatalog) TemplatesFor(personaID string) []models.PromptTemplate {
	return c.TemplatesByExpert[personaID]
}
func (c StaticCatalog) SwitchPhrases() []experts.SwitchPhraseTrigger { return c.Switches }
func (c StaticCatalog) TopicTriggers() []experts.TopicTrigger        { return c.Topics }
func (c StaticCatalog) IdentityPersona() string                     { return c.Identity }
func (c StaticCatalog) DefaultPersona() string                      { return c.Default }

// Config wires an Orchestrator's collaborators.
type Config struct {
	Store          storage.Store
	Context        *contextbundle.Assembler
	Gateway        *routing.Gateway
	Registry       *registry.Registry
	Personas       PersonaCatalog
	MessageWindow  int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Orchestrator drives the chat request pipeline.
type Orchestrator struct {
	store          storage.Store
	context        *contextbundle.Assembler
	gateway        *routing.Gateway
	registry       *registry.Registry
	personas       PersonaCatalog
	messageWindow  int
	requestTimeout time.Duration
	locks          *conversationLocks
	logger         *slog.Logger
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	window := cfg.MessageWindow
	if window <= 0 {
		window = defaultMessageWindow
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:          cfg.Store,
		context:        cfg.Context,
		gateway:        cfg.Gateway,
		registry:       cfg.Registry,
		personas:       cfg.Personas,
		messageWindow:  window,
		requestTimeout: timeout,
		locks:          newConversationLocks(),
		logger:         logger.With("component", "orchestrator"),
	}
}

// ChatRequest is one turn's input.
type ChatRequest struct {
	UserID         string
	OrgID          string
	ConversationID string
	AgentID        string
	Messages       []models.Message // newly arrived messages, at least one must be role=user
	Stream         bool
	Sensitivity    models.Sensitivity
	Role           models.TaskRole
	RequestID      string
	Profile        experts.ProfileSnapshot
}

// ModelWayMetadata is the response metadata block spec.md §4.7 step 10 and
// §6 require.
type ModelWayMetadata struct {
	Intent         string `json:"intent"`
	Phase          string `json:"phase"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	ConversationID string `json:"conversationId"`
	RequestID      string `json:"requestId"`
}

// ChatResult is what one chat turn returns to its caller.
type ChatResult struct {
	ConversationID string
	RequestID      string
	Stream         <-chan models.CompletionChunk // set when req.Stream is true
	Content        string                        // set when req.Stream is false
	Aborted        bool
	Metadata       ModelWayMetadata
}

// Chat runs the full request pipeline described in spec.md §4.7.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if err := validate(req); err != nil {
		return ChatResult{}, err
	}

	conv, err := o.resolveConversation(ctx, req)
	if err != nil {
		return ChatResult{}, err
	}

	release, err := o.locks.acquire(ctx, conv.ID)
	if err != nil {
		return ChatResult{}, orcherr.Wrap(orcherr.Timeout, "orchestrator", err)
	}
	defer release()

	history, err := o.recentHistory(ctx, conv.ID)
	if err != nil {
		return ChatResult{}, err
	}

	bundle, err := o.context.Assemble(ctx, contextbundle.Request{
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		ConversationID: conv.ID,
		IncludeShort:   true,
		IncludeMedium:  true,
		IncludeLong:    true,
		MaxBlocks:      12,
	})
	if err != nil {
		return ChatResult{}, orcherr.Wrap(orcherr.Internal, "orchestrator", err)
	}

	incoming := req.Messages[len(req.Messages)-1]
	decision, systemPrompt := o.selectPersonaAndPrompt(conv.ID, history, incoming, req.Profile, bundle)

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	// Persist the newly arrived user message(s) before any assistant text is
	// produced, so the transcript can never become assistant-first even if
	// the upstream dispatch is aborted immediately after.
	for _, m := range req.Messages {
		if _, err := o.store.AppendMessage(ctx, conv.ID, m.Role, m.Content, m.ToolCallID, m.Metadata); err != nil {
			return ChatResult{}, orcherr.Wrap(orcherr.Internal, "orchestrator", err)
		}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	if !o.registry.Register(requestID, registry.ControllerFunc(cancel)) {
		cancel()
		return ChatResult{}, orcherr.New(orcherr.InvalidRequest, "orchestrator", "requestId already in use")
	}

	composed := composeMessageList(systemPrompt, history, req.Messages, o.messageWindow)

	chunks, providerName, model, err := o.dispatch(dispatchCtx, req, composed, requestID)
	if err != nil {
		cancel()
		o.registry.Unregister(requestID)
		return ChatResult{}, err
	}

	meta := ModelWayMetadata{
		Intent:         decision.NewPersona,
		Phase:          decision.Reason,
		Provider:       providerName,
		Model:          model,
		ConversationID: conv.ID,
		RequestID:      requestID,
	}

	if req.Stream {
		// Whether this turn was aborted is only known once the stream
		// drains (the relay goroutine persists the partial reply then);
		// callers that need the final aborted status check for a terminal
		// chunk with FinishReason "aborted" rather than this initial result.
		relay := o.relayAndPersist(dispatchCtx, cancel, requestID, conv.ID, chunks)
		return ChatResult{
			ConversationID: conv.ID,
			RequestID:      requestID,
			Stream:         relay,
			Metadata:       meta,
		}, nil
	}

	content, aborted := o.drainAndPersist(dispatchCtx, requestID, conv.ID, chunks)
	cancel()
	o.registry.Unregister(requestID)
	return ChatResult{
		ConversationID: conv.ID,
		RequestID:      requestID,
		Content:        content,
		Aborted:        aborted,
		Metadata:       meta,
	}, nil
}

// Abort cancels an in-flight request by requestId. Idempotent; returns false
// for an unknown or already-completed requestId.
func (o *Orchestrator) Abort(requestID string) bool {
	return o.registry.Abort(requestID)
}

func validate(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return orcherr.New(orcherr.InvalidRequest, "orchestrator", "messages must not be empty")
	}
	hasUser := false
	for _, m := range req.Messages {
		if m.Role == models.RoleUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return orcherr.New(orcherr.InvalidRequest, "orchestrator", "at least one user message is required")
	}
	if req.UserID == "" {
		return orcherr.New(orcherr.InvalidRequest, "orchestrator", "userId is required")
	}
	return nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, req ChatRequest) (*models.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(ctx, storage.Caller{UserID: req.UserID}, req.ConversationID)
		if err != nil {
			return nil, err
		}
		return conv, nil
	}

	title := firstUserMessageTitle(req.Messages)
	conv, err := o.store.CreateConversation(ctx, storage.CreateConversationParams{
		UserID: req.UserID,
		OrgID:  req.OrgID,
		Title:  title,
		Source: models.SourceNative,
	})
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, "orchestrator", err)
	}
	return conv, nil
}

func firstUserMessageTitle(messages []models.Message) string {
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if len(content) > titlePreviewChars {
			return content[:titlePreviewChars]
		}
		return content
	}
	return ""
}

func (o *Orchestrator) recentHistory(ctx context.Context, conversationID string) ([]*models.Message, error) {
	page, err := o.store.ListMessages(ctx, storage.Caller{Privileged: true}, conversationID, storage.ListMessagesOptions{})
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, "orchestrator", err)
	}
	return page.Items, nil
}

func (o *Orchestrator) selectPersonaAndPrompt(conversationID string, history []*models.Message, incoming models.Message, profile experts.ProfileSnapshot, bundle models.ContextBundle) (models.SwitchDecision, string) {
	if o.personas == nil {
		return models.SwitchDecision{ConversationID: conversationID, NewPersona: "default"}, ""
	}

	currentPersona := o.personas.DefaultPersona()
	if len(history) > 0 {
		currentPersona = lastAssistantPersona(history, currentPersona)
	}

	decision := experts.SelectPersona(experts.SelectionInput{
		ConversationID:  conversationID,
		Message:         incoming.Content,
		History:         history,
		CurrentPersona:  currentPersona,
		Profile:         profile,
		SwitchPhrases:   o.personas.SwitchPhrases(),
		TopicTriggers:   o.personas.TopicTriggers(),
		IdentityPersona: o.personas.IdentityPersona(),
		DefaultPersona:  o.personas.DefaultPersona(),
	})

	persona := o.personas.Personas()[decision.NewPersona]
	templates := o.personas.TemplatesFor(decision.NewPersona)
	contextDict := map[string]any{"topics": decision.Topics}
	template, hasTemplate := experts.SelectTemplate(templates, contextDict, profile.CompletenessPercent)

	contextText := renderContextText(bundle)
	prompt := experts.ComposeSystemPrompt(persona, template, hasTemplate, contextText, "")
	return decision, prompt
}

// lastAssistantPersona is a placeholder for persona continuity when no
// explicit switch trigger fires on this turn: without a persisted
// "current persona" column, the default persona is used as a stable prior.
// Metadata.Intent on each turn's response records the persona actually
// chosen, so callers can track continuity client-side.
func lastAssistantPersona(history []*models.Message, fallback string) string {
	return fallback
}

func renderContextText(bundle models.ContextBundle) string {
	if len(bundle.ContextBlocks) == 0 {
		return ""
	}
	var b strings.Builder
	for _, block := range bundle.ContextBlocks {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", block.Horizon, block.Title, block.Body)
	}
	return b.String()
}

// composeMessageList builds [system, ...bounded prior history, ...incoming]
// per spec.md §4.7 step 5.
func composeMessageList(systemPrompt string, history []*models.Message, incoming []models.Message, window int) []models.Message {
	bounded := history
	if len(bounded) > window {
		bounded = bounded[len(bounded)-window:]
	}

	out := make([]models.Message, 0, len(bounded)+len(incoming)+1)
	if systemPrompt != "" {
		out = append(out, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	}
	for _, m := range bounded {
		out = append(out, *m)
	}
	out = append(out, incoming...)
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, req ChatRequest, composed []models.Message, requestID string) (<-chan models.CompletionChunk, string, string, error) {
	var system string
	messages := composed
	if len(composed) > 0 && composed[0].Role == models.RoleSystem {
		system = composed[0].Content
		messages = composed[1:]
	}

	stream, providerName, model, err := o.gateway.Chat(ctx, routing.ChatParams{
		OrgID:       req.OrgID,
		UserID:      req.UserID,
		RequestID:   requestID,
		Messages:    messages,
		System:      system,
		Role:        req.Role,
		Sensitivity: req.Sensitivity,
	})
	if err != nil {
		return nil, "", "", err
	}
	return stream, providerName, model, nil
}

// relayAndPersist relays every chunk from the gateway verbatim to the
// caller, accumulating the full text, and persists one assistant message
// once the stream ends (normally or via cancellation). If the upstream
// dispatch was cancelled, an extra terminal chunk carrying
// FinishReason="aborted" is appended after the last upstream chunk so
// streaming callers learn the final status without polling ChatResult.
func (o *Orchestrator) relayAndPersist(ctx context.Context, cancel context.CancelFunc, requestID, conversationID string, in <-chan models.CompletionChunk) <-chan models.CompletionChunk {
	out := make(chan models.CompletionChunk)

	go func() {
		defer close(out)
		defer cancel()
		defer o.registry.Unregister(requestID)

		var buf strings.Builder
		for chunk := range in {
			out <- chunk
			buf.WriteString(chunk.Delta)
		}
		aborted := ctx.Err() != nil

		if buf.Len() == 0 && aborted {
			// Abort arrived before any chunk: no assistant message written.
			out <- models.CompletionChunk{FinishReason: "aborted"}
			return
		}
		o.persistAssistantReply(conversationID, buf.String(), aborted)
		if aborted {
			out <- models.CompletionChunk{FinishReason: "aborted"}
		}
	}()

	return out
}

func (o *Orchestrator) drainAndPersist(ctx context.Context, requestID, conversationID string, in <-chan models.CompletionChunk) (string, bool) {
	var buf strings.Builder
	for chunk := range in {
		buf.WriteString(chunk.Delta)
		if chunk.Error != "" {
			o.logger.Error("chat dispatch error", "request_id", requestID, "error", chunk.Error)
		}
	}
	aborted := ctx.Err() != nil
	if buf.Len() == 0 && aborted {
		return "", true
	}
	o.persistAssistantReply(conversationID, buf.String(), aborted)
	return buf.String(), aborted
}

func (o *Orchestrator) persistAssistantReply(conversationID, content string, aborted bool) {
	if content == "" && !aborted {
		return
	}
	var metadata map[string]any
	if aborted {
		metadata = map[string]any{"aborted": true}
	}
	// Use a fresh background context: persistence must
	// complete even if the caller's request context was cancelled (that is
	// precisely the abort path this call exists to handle).
	ctx := context.Background()
	if _, err := o.store.AppendMessage(ctx, conversationID, models.RoleAssistant, content, "", metadata); err != nil {
		o.logger.Error("failed to persist assistant reply", "conversation_id", conversationID, "error", err)
	}
}
