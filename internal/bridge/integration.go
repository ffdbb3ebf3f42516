package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/orcherr"
)

// IntegrationStatus describes one user's connection to one external
// integration (an email provider, a calendar, etc).
type IntegrationStatus struct {
	Provider    string    `json:"provider"`
	Connected   bool      `json:"connected"`
	Detail      string    `json:"detail,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}

// EmailMessage is the shape returned by email search and read operations.
type EmailMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet"`
	SentAt  time.Time `json:"sentAt"`
}

// CalendarEvent is the shape returned by calendar reads.
type CalendarEvent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

// IntegrationHost is the port every bridge adapter calls through to reach a
// user's external integrations. The tool bridge is explicitly not the
// authoritative integration store (spec Non-goal): it only reads and
// exercises integration state on the user's behalf, so this interface
// exists to keep that boundary a compile-time one rather than a
// documentation note. A real implementation lives outside this module's
// scope; MemoryIntegrationHost below is the in-memory stand-in used for
// wiring and tests, mirroring the storage.Store / storage.MemoryStore split.
type IntegrationHost interface {
	Status(ctx context.Context, userID, provider string) (IntegrationStatus, error)
	SearchEmails(ctx context.Context, userID, query string, limit int) ([]EmailMessage, error)
	ResolveEmailProvider(ctx context.Context, userID, emailAddress string) (string, error)
	StartEmailConnection(ctx context.Context, userID, provider string) (authURL string, err error)
	ConnectIMAP(ctx context.Context, userID string, cfg IMAPConfig) error
	TestConnection(ctx context.Context, userID, provider string) (IntegrationStatus, error)
	DisconnectIntegration(ctx context.Context, userID, provider string) error
	SendEmail(ctx context.Context, userID string, msg OutgoingEmail) (string, error)
	CalendarEvents(ctx context.Context, userID string, from, to time.Time) ([]CalendarEvent, error)
}

// IMAPConfig is the minimum set of fields needed to register a generic IMAP
// mailbox with the host, used by nexus_connect_imap.
type IMAPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"useTls"`
}

// OutgoingEmail is the payload for nexus_send_email.
type OutgoingEmail struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// MemoryIntegrationHost is an in-process IntegrationHost backed by maps,
// guarded by a mutex the way storage.MemoryStore guards its conversation
// and message maps. It never talks to a real mail or calendar server; it
// exists so the bridge's adapters have a concrete, testable implementation
// to run against in this module's scope.
type MemoryIntegrationHost struct {
	mu           sync.Mutex
	integrations map[string]map[string]IntegrationStatus // userID -> provider -> status
	emails       map[string][]EmailMessage               // userID -> emails
	events       map[string][]CalendarEvent              // userID -> events
	sentEmails   []OutgoingEmail
}

// NewMemoryIntegrationHost returns an empty host. Every user starts with no
// connected integrations, no mail, and no calendar events.
func NewMemoryIntegrationHost() *MemoryIntegrationHost {
	return &MemoryIntegrationHost{
		integrations: make(map[string]map[string]IntegrationStatus),
		emails:       make(map[string][]EmailMessage),
		events:       make(map[string][]CalendarEvent),
	}
}

// SeedEmails lets tests and fixture setup populate a user's inbox.
func (h *MemoryIntegrationHost) SeedEmails(userID string, msgs ...EmailMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emails[userID] = append(h.emails[userID], msgs...)
}

// SeedEvents lets tests and fixture setup populate a user's calendar.
func (h *MemoryIntegrationHost) SeedEvents(userID string, events ...CalendarEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[userID] = append(h.events[userID], events...)
}

func (h *MemoryIntegrationHost) Status(ctx context.Context, userID, provider string) (IntegrationStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if byProvider, ok := h.integrations[userID]; ok {
		if st, ok := byProvider[provider]; ok {
			return st, nil
		}
	}
	return IntegrationStatus{Provider: provider, Connected: false, LastChecked: time.Now()}, nil
}

func (h *MemoryIntegrationHost) SearchEmails(ctx context.Context, userID, query string, limit int) ([]EmailMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.emails[userID]
	matched := make([]EmailMessage, 0, len(all))
	for _, m := range all {
		if query == "" || containsFold(m.Subject, query) || containsFold(m.Snippet, query) || containsFold(m.From, query) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SentAt.After(matched[j].SentAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (h *MemoryIntegrationHost) ResolveEmailProvider(ctx context.Context, userID, emailAddress string) (string, error) {
	provider := emailProviderForAddress(emailAddress)
	if provider == "" {
		return "", orcherr.New(orcherr.InvalidRequest, "bridge", "could not resolve a provider for "+emailAddress)
	}
	return provider, nil
}

func (h *MemoryIntegrationHost) StartEmailConnection(ctx context.Context, userID, provider string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.integrations[userID] == nil {
		h.integrations[userID] = make(map[string]IntegrationStatus)
	}
	h.integrations[userID][provider] = IntegrationStatus{Provider: provider, Connected: false, Detail: "awaiting oauth callback", LastChecked: time.Now()}
	return fmt.Sprintf("https://auth.example.invalid/%s/authorize?user=%s", provider, userID), nil
}

func (h *MemoryIntegrationHost) ConnectIMAP(ctx context.Context, userID string, cfg IMAPConfig) error {
	if cfg.Host == "" || cfg.Username == "" {
		return orcherr.New(orcherr.InvalidRequest, "bridge", "imap host and username are required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.integrations[userID] == nil {
		h.integrations[userID] = make(map[string]IntegrationStatus)
	}
	h.integrations[userID]["imap"] = IntegrationStatus{Provider: "imap", Connected: true, Detail: cfg.Host, LastChecked: time.Now()}
	return nil
}

func (h *MemoryIntegrationHost) TestConnection(ctx context.Context, userID, provider string) (IntegrationStatus, error) {
	return h.Status(ctx, userID, provider)
}

func (h *MemoryIntegrationHost) DisconnectIntegration(ctx context.Context, userID, provider string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.integrations[userID], provider)
	return nil
}

func (h *MemoryIntegrationHost) SendEmail(ctx context.Context, userID string, msg OutgoingEmail) (string, error) {
	if len(msg.To) == 0 {
		return "", orcherr.New(orcherr.InvalidRequest, "bridge", "at least one recipient is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sentEmails = append(h.sentEmails, msg)
	return fmt.Sprintf("sent-%d", len(h.sentEmails)), nil
}

func (h *MemoryIntegrationHost) CalendarEvents(ctx context.Context, userID string, from, to time.Time) ([]CalendarEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.events[userID]
	matched := make([]CalendarEvent, 0, len(all))
	for _, e := range all {
		if !e.Start.Before(from) && !e.Start.After(to) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Start.Before(matched[j].Start) })
	return matched, nil
}

func containsFold(haystack, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// emailProviderForAddress derives a provider key from an email address's
// domain. It recognizes the common hosted providers and falls back to
// "imap" for everything else, since any domain can be reached generically
// over IMAP.
func emailProviderForAddress(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	domain := strings.ToLower(address[at+1:])
	switch {
	case strings.Contains(domain, "gmail.com") || strings.Contains(domain, "googlemail.com"):
		return "gmail"
	case strings.Contains(domain, "outlook.com") || strings.Contains(domain, "hotmail.com") || strings.Contains(domain, "office365.com"):
		return "outlook"
	case strings.Contains(domain, "yahoo.com"):
		return "yahoo"
	default:
		return "imap"
	}
}
