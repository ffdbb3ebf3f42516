package bridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequiredAdapters_CoversMinimumToolSet(t *testing.T) {
	host := NewMemoryIntegrationHost()
	adapters := RequiredAdapters(host)

	want := []string{
		"nexus_get_integration_status",
		"nexus_search_emails",
		"nexus_resolve_email_provider",
		"nexus_start_email_connection",
		"nexus_connect_imap",
		"nexus_test_integration_connection",
		"nexus_disconnect_integration",
		"nexus_send_email",
		"nexus_get_calendar_events",
	}

	got := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		got[a.Name()] = true
		require.NotEmpty(t, a.Description())
		require.NotEmpty(t, a.ScopeOfEffect())
		require.NotEmpty(t, a.Schema())
	}
	for _, name := range want {
		require.True(t, got[name], "missing required adapter %s", name)
	}
}

func TestRequiredAdapters_RegisterCleanlyWithCatalog(t *testing.T) {
	host := NewMemoryIntegrationHost()
	cat := NewCatalog(RequiredAdapters(host)...)
	require.Len(t, cat.Entries(), 9)
}

func TestSendEmailAdapter_ExecuteDelegatesToHost(t *testing.T) {
	host := NewMemoryIntegrationHost()
	cat := NewCatalog(RequiredAdapters(host)...)

	args, err := json.Marshal(map[string]any{
		"to":      []string{"dest@example.com"},
		"subject": "hello",
		"body":    "world",
	})
	require.NoError(t, err)

	result, err := cat.Execute(context.Background(), "user-1", "nexus_send_email", args)
	require.NoError(t, err)
	out, ok := result.(map[string]string)
	require.True(t, ok)
	require.NotEmpty(t, out["messageId"])
}

func TestSearchEmailsAdapter_DefaultsLimit(t *testing.T) {
	host := NewMemoryIntegrationHost()
	host.SeedEmails("user-1", EmailMessage{ID: "1", Subject: "hi"})
	cat := NewCatalog(RequiredAdapters(host)...)

	args, err := json.Marshal(map[string]any{"query": ""})
	require.NoError(t, err)

	result, err := cat.Execute(context.Background(), "user-1", "nexus_search_emails", args)
	require.NoError(t, err)
	emails, ok := result.([]EmailMessage)
	require.True(t, ok)
	require.Len(t, emails, 1)
}

func TestResolveEmailProviderAdapter_UnresolvableAddressErrors(t *testing.T) {
	host := NewMemoryIntegrationHost()
	cat := NewCatalog(RequiredAdapters(host)...)

	args, err := json.Marshal(map[string]any{"emailAddress": "not-an-email"})
	require.NoError(t, err)

	_, err = cat.Execute(context.Background(), "user-1", "nexus_resolve_email_provider", args)
	require.Error(t, err)
}

func TestConnectIMAPAdapter_ExecuteValidatesRequiredFields(t *testing.T) {
	host := NewMemoryIntegrationHost()
	cat := NewCatalog(RequiredAdapters(host)...)

	_, err := cat.Execute(context.Background(), "user-1", "nexus_connect_imap", json.RawMessage(`{}`))
	require.Error(t, err) // schema requires host/port/username/password

	args, err := json.Marshal(map[string]any{
		"host": "imap.example.com", "port": 993, "username": "me", "password": "secret",
	})
	require.NoError(t, err)
	result, err := cat.Execute(context.Background(), "user-1", "nexus_connect_imap", args)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"connected": true}, result)
}
