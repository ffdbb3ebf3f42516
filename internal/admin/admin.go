// Package admin implements the Admin/Ops Surface (C10): health probes,
// usage stats, and the editable "agent soul" markdown blob, gated to
// callers holding owner or admin rank. Grounded on internal/bridge's HTTP
// handler shape, narrowed to the admin domain and fronted by
// auth.RequirePrivileged instead of the bridge's single shared API key,
// since this surface is used by a population of logged-in operators
// rather than one external agent runtime.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

const (
	healthTimeout = 10 * time.Second
	// agentSoulKey is the storage.Setting key the agent soul blob lives
	// under; there is exactly one instance-wide soul, not one per user.
	agentSoulKey       = "agent_soul"
	maxAgentSoulBytes  = 1 << 20 // 1 MiB of markdown is generous for a soul
	defaultUsageWindow = 24 * time.Hour
)

// Config configures an Admin surface.
type Config struct {
	// BasePath is the URL prefix this handler is mounted under (default
	// "/admin").
	BasePath string
	Store    storage.Store
	Gateway  *routing.Gateway
	Auth     *auth.Service
	// RoleLookup resolves a role from a user profile when a caller's
	// token carries none; see auth.RequirePrivileged.
	RoleLookup auth.RoleLookup
	Logger     *slog.Logger
}

// Admin is the Admin/Ops Surface (C10) HTTP handler.
type Admin struct {
	config *Config
	mux    *http.ServeMux
}

// NewAdmin builds an Admin handler and wires its routes.
func NewAdmin(cfg *Config) *Admin {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/admin"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &Admin{config: cfg, mux: http.NewServeMux()}
	a.setupRoutes()
	return a
}

func (a *Admin) setupRoutes() {
	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.HandleFunc("GET /usage", a.handleUsage)
	a.mux.HandleFunc("GET /agent-soul", a.handleGetAgentSoul)
	a.mux.HandleFunc("PUT /agent-soul", a.handlePutAgentSoul)
}

// ServeHTTP implements http.Handler, stripping BasePath like bridge.Bridge
// does.
func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if a.config.BasePath != "" && a.config.BasePath != "/" {
		path = strings.TrimPrefix(path, a.config.BasePath)
		if path == "" {
			path = "/"
		}
	}
	r.URL.Path = path
	a.mux.ServeHTTP(w, r)
}

// Mount wraps the Admin handler with its role-gated auth middleware: every
// route on this surface requires owner or admin rank, so there is no
// per-route exemption the way the bridge exempts /health.
func (a *Admin) Mount() http.Handler {
	return auth.RequirePrivileged(a.config.Auth, a.config.RoleLookup, a.config.Logger)(a)
}

// handleHealth reports provider connectivity (via the Provider Gateway's
// existing TestConnections, C5) plus persistence-port reachability.
func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	providers := map[string]string{}
	if a.config.Gateway != nil {
		for name, health := range a.config.Gateway.TestConnections(ctx) {
			providers[name] = healthString(health)
		}
	}

	db := "unknown"
	if a.config.Store != nil {
		report, err := a.config.Store.ReadHealth(ctx)
		if err != nil {
			db = "down"
		} else if report.Reachable {
			db = "ok"
		} else {
			db = "down"
		}
	}

	jsonResponse(w, a.config.Logger, http.StatusOK, map[string]any{
		"providers": providers,
		"database":  db,
	})
}

func healthString(h models.ProviderHealth) string {
	switch h {
	case models.HealthConnected:
		return "ok"
	case models.HealthDegraded:
		return "degraded"
	case models.HealthDown:
		return "down"
	default:
		return "unknown"
	}
}

// handleUsage implements GET /usage?org_id=...&window=24h, sourced from
// the Provider Gateway's existing UsageStats (C5).
func (a *Admin) handleUsage(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	window := defaultUsageWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			jsonError(w, a.config.Logger, "invalid window: "+err.Error(), http.StatusBadRequest)
			return
		}
		window = parsed
	}
	if a.config.Gateway == nil {
		jsonError(w, a.config.Logger, "provider gateway not configured", http.StatusServiceUnavailable)
		return
	}

	stats, err := a.config.Gateway.UsageStats(r.Context(), orgID, window)
	if err != nil {
		jsonError(w, a.config.Logger, err.Error(), statusForError(err))
		return
	}
	jsonResponse(w, a.config.Logger, http.StatusOK, stats)
}

type agentSoulResponse struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// handleGetAgentSoul implements GET /agent-soul: the current markdown blob,
// or an empty string if it has never been set.
func (a *Admin) handleGetAgentSoul(w http.ResponseWriter, r *http.Request) {
	setting, ok, err := a.config.Store.GetSetting(r.Context(), agentSoulKey)
	if err != nil {
		jsonError(w, a.config.Logger, err.Error(), statusForError(err))
		return
	}
	if !ok {
		jsonResponse(w, a.config.Logger, http.StatusOK, agentSoulResponse{})
		return
	}
	jsonResponse(w, a.config.Logger, http.StatusOK, agentSoulResponse{Text: setting.Value, UpdatedAt: setting.UpdatedAt})
}

type putAgentSoulRequest struct {
	Text string `json:"text"`
}

// handlePutAgentSoul implements PUT /agent-soul: overwrites the markdown
// blob. Callers reaching this handler have already cleared
// auth.RequirePrivileged, so no further role check happens here.
func (a *Admin) handlePutAgentSoul(w http.ResponseWriter, r *http.Request) {
	var req putAgentSoulRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAgentSoulBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		jsonError(w, a.config.Logger, err.Error(), status)
		return
	}

	setting, err := a.config.Store.PutSetting(r.Context(), agentSoulKey, req.Text)
	if err != nil {
		jsonError(w, a.config.Logger, err.Error(), statusForError(err))
		return
	}
	jsonResponse(w, a.config.Logger, http.StatusOK, agentSoulResponse{Text: setting.Value, UpdatedAt: setting.UpdatedAt})
}

func jsonResponse(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Error("admin: json encode error", "error", err)
	}
}

func jsonError(w http.ResponseWriter, logger *slog.Logger, message string, status int) {
	jsonResponse(w, logger, status, map[string]string{"error": message})
}

// statusForError maps the orcherr taxonomy to an HTTP status, mirroring
// bridge.statusForError.
func statusForError(err error) int {
	switch orcherr.KindOf(err) {
	case orcherr.InvalidRequest:
		return http.StatusBadRequest
	case orcherr.Unauthorized:
		return http.StatusUnauthorized
	case orcherr.Forbidden:
		return http.StatusForbidden
	case orcherr.NotFound:
		return http.StatusNotFound
	case orcherr.Conflict:
		return http.StatusConflict
	case orcherr.BudgetExceeded:
		return http.StatusTooManyRequests
	case orcherr.Unavailable:
		return http.StatusServiceUnavailable
	case orcherr.Timeout:
		return http.StatusGatewayTimeout
	case orcherr.Aborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
