package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/nexus/internal/orcherr"
)

// RequiredAdapters returns the minimum tool set spec.md mandates the bridge
// expose, wired against the given IntegrationHost. Every adapter name is
// prefixed nexus_, matching the host's own naming convention so a calling
// agent can tell at a glance which tools reach back into this service.
func RequiredAdapters(host IntegrationHost) []Adapter {
	return []Adapter{
		&getIntegrationStatusAdapter{host: host},
		&searchEmailsAdapter{host: host},
		&resolveEmailProviderAdapter{host: host},
		&startEmailConnectionAdapter{host: host},
		&connectIMAPAdapter{host: host},
		&testIntegrationConnectionAdapter{host: host},
		&disconnectIntegrationAdapter{host: host},
		&sendEmailAdapter{host: host},
		&getCalendarEventsAdapter{host: host},
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return orcherr.Wrap(orcherr.InvalidRequest, "bridge", err)
	}
	return nil
}

// getIntegrationStatusAdapter reports whether a named provider is connected
// for the calling user.
type getIntegrationStatusAdapter struct{ host IntegrationHost }

func (a *getIntegrationStatusAdapter) Name() string { return "nexus_get_integration_status" }
func (a *getIntegrationStatusAdapter) Description() string {
	return "Reports whether an integration (email provider, calendar, etc) is connected for the user."
}
func (a *getIntegrationStatusAdapter) ScopeOfEffect() string { return "read:integration" }
func (a *getIntegrationStatusAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"provider": {"type": "string"}},
		"required": ["provider"],
		"additionalProperties": false
	}`)
}
func (a *getIntegrationStatusAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var in struct {
		Provider string `json:"provider"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	return a.host.Status(ctx, userID, in.Provider)
}

// searchEmailsAdapter searches the user's connected mailbox.
type searchEmailsAdapter struct{ host IntegrationHost }

func (a *searchEmailsAdapter) Name() string { return "nexus_search_emails" }
func (a *searchEmailsAdapter) Description() string {
	return "Searches the user's connected email for messages matching a query."
}
func (a *searchEmailsAdapter) ScopeOfEffect() string { return "read:email" }
func (a *searchEmailsAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}
func (a *searchEmailsAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Limit <= 0 {
		in.Limit = 20
	}
	return a.host.SearchEmails(ctx, userID, in.Query, in.Limit)
}

// resolveEmailProviderAdapter maps an address to a provider key.
type resolveEmailProviderAdapter struct{ host IntegrationHost }

func (a *resolveEmailProviderAdapter) Name() string { return "nexus_resolve_email_provider" }
func (a *resolveEmailProviderAdapter) Description() string {
	return "Resolves which email provider owns a given address."
}
func (a *resolveEmailProviderAdapter) ScopeOfEffect() string { return "read:integration" }
func (a *resolveEmailProviderAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"emailAddress": {"type": "string"}},
		"required": ["emailAddress"],
		"additionalProperties": false
	}`)
}
func (a *resolveEmailProviderAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var in struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	provider, err := a.host.ResolveEmailProvider(ctx, userID, in.EmailAddress)
	if err != nil {
		return nil, err
	}
	return map[string]string{"provider": provider}, nil
}

// startEmailConnectionAdapter begins an OAuth-style connection flow.
type startEmailConnectionAdapter struct{ host IntegrationHost }

func (a *startEmailConnectionAdapter) Name() string { return "nexus_start_email_connection" }
func (a *startEmailConnectionAdapter) Description() string {
	return "Starts a new email provider connection flow for the user."
}
func (a *startEmailConnectionAdapter) ScopeOfEffect() string { return "write:integration" }
func (a *startEmailConnectionAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"provider": {"type": "string"}},
		"required": ["provider"],
		"additionalProperties": false
	}`)
}
func (a *startEmailConnectionAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var in struct {
		Provider string `json:"provider"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	authURL, err := a.host.StartEmailConnection(ctx, userID, in.Provider)
	if err != nil {
		return nil, err
	}
	return map[string]string{"authUrl": authURL}, nil
}

// connectIMAPAdapter registers a generic IMAP mailbox.
type connectIMAPAdapter struct{ host IntegrationHost }

func (a *connectIMAPAdapter) Name() string { return "nexus_connect_imap" }
func (a *connectIMAPAdapter) Description() string {
	return "Connects a generic IMAP mailbox for the user."
}
func (a *connectIMAPAdapter) ScopeOfEffect() string { return "write:integration" }
func (a *connectIMAPAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"host": {"type": "string"},
			"port": {"type": "integer", "minimum": 1, "maximum": 65535},
			"username": {"type": "string"},
			"password": {"type": "string"},
			"useTls": {"type": "boolean"}
		},
		"required": ["host", "port", "username", "password"],
		"additionalProperties": false
	}`)
}
func (a *connectIMAPAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var cfg IMAPConfig
	if err := decodeArgs(args, &cfg); err != nil {
		return nil, err
	}
	if err := a.host.ConnectIMAP(ctx, userID, cfg); err != nil {
		return nil, err
	}
	return map[string]bool{"connected": true}, nil
}

// testIntegrationConnectionAdapter checks a connected integration is still reachable.
type testIntegrationConnectionAdapter struct{ host IntegrationHost }

func (a *testIntegrationConnectionAdapter) Name() string { return "nexus_test_integration_connection" }
func (a *testIntegrationConnectionAdapter) Description() string {
	return "Tests that a connected integration is still reachable."
}
func (a *testIntegrationConnectionAdapter) ScopeOfEffect() string { return "read:integration" }
func (a *testIntegrationConnectionAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"provider": {"type": "string"}},
		"required": ["provider"],
		"additionalProperties": false
	}`)
}
func (a *testIntegrationConnectionAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var in struct {
		Provider string `json:"provider"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	return a.host.TestConnection(ctx, userID, in.Provider)
}

// disconnectIntegrationAdapter tears down a connected integration.
type disconnectIntegrationAdapter struct{ host IntegrationHost }

func (a *disconnectIntegrationAdapter) Name() string { return "nexus_disconnect_integration" }
func (a *disconnectIntegrationAdapter) Description() string {
	return "Disconnects a previously connected integration for the user."
}
func (a *disconnectIntegrationAdapter) ScopeOfEffect() string { return "write:integration" }
func (a *disconnectIntegrationAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"provider": {"type": "string"}},
		"required": ["provider"],
		"additionalProperties": false
	}`)
}
func (a *disconnectIntegrationAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var in struct {
		Provider string `json:"provider"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if err := a.host.DisconnectIntegration(ctx, userID, in.Provider); err != nil {
		return nil, err
	}
	return map[string]bool{"disconnected": true}, nil
}

// sendEmailAdapter sends an email through the user's connected provider.
type sendEmailAdapter struct{ host IntegrationHost }

func (a *sendEmailAdapter) Name() string { return "nexus_send_email" }
func (a *sendEmailAdapter) Description() string {
	return "Sends an email on behalf of the user through their connected provider."
}
func (a *sendEmailAdapter) ScopeOfEffect() string { return "write:email" }
func (a *sendEmailAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"to": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"subject": {"type": "string"},
			"body": {"type": "string"}
		},
		"required": ["to", "subject", "body"],
		"additionalProperties": false
	}`)
}
func (a *sendEmailAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var msg OutgoingEmail
	if err := decodeArgs(args, &msg); err != nil {
		return nil, err
	}
	id, err := a.host.SendEmail(ctx, userID, msg)
	if err != nil {
		return nil, err
	}
	return map[string]string{"messageId": id}, nil
}

// getCalendarEventsAdapter reads the user's calendar within a window.
type getCalendarEventsAdapter struct{ host IntegrationHost }

func (a *getCalendarEventsAdapter) Name() string { return "nexus_get_calendar_events" }
func (a *getCalendarEventsAdapter) Description() string {
	return "Reads the user's calendar events within a time window."
}
func (a *getCalendarEventsAdapter) ScopeOfEffect() string { return "read:calendar" }
func (a *getCalendarEventsAdapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"from": {"type": "string", "format": "date-time"},
			"to": {"type": "string", "format": "date-time"}
		},
		"required": ["from", "to"],
		"additionalProperties": false
	}`)
}
func (a *getCalendarEventsAdapter) Execute(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var in struct {
		From time.Time `json:"from"`
		To   time.Time `json:"to"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	return a.host.CalendarEvents(ctx, userID, in.From, in.To)
}
