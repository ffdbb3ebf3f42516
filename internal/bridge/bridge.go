package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
)

const (
	apiKeyHeader    = "X-OpenClaw-Api-Key"
	userIDHeader    = "X-Nexus-User-Id"
	executeTimeout  = 20 * time.Second
	maxRequestBytes = 1 << 20 // 1 MiB; tool-bridge payloads are small JSON
)

// Config configures a Bridge. Grounded on internal/web.Config's shape, pared
// down to the dependencies the tool-bridge surface actually needs: a
// persistence port, a provider gateway for health, a tool catalog, and a
// single shared API key rather than the dashboard's full auth.Service.
type Config struct {
	// BasePath is the URL prefix this handler is mounted under (default
	// "/openclaw", matching spec.md's concrete path layout).
	BasePath string
	// APIKey is the single shared secret every request must present via
	// X-OpenClaw-Api-Key. A Bridge with an empty APIKey refuses to serve
	// anything other than /health, the same fail-closed posture
	// auth.Service takes when misconfigured.
	APIKey  string
	Store   storage.Store
	Gateway *routing.Gateway
	Catalog *Catalog
	Logger  *slog.Logger
	// StreamPollInterval is how often GET /conversations/stream polls the
	// store for new messages. Defaults to 2s.
	StreamPollInterval time.Duration
}

// Bridge is the Tool Bridge (C8) HTTP handler.
type Bridge struct {
	config *Config
	mux    *http.ServeMux
}

// NewBridge builds a Bridge and wires its routes.
func NewBridge(cfg *Config) *Bridge {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/openclaw"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StreamPollInterval <= 0 {
		cfg.StreamPollInterval = 2 * time.Second
	}
	b := &Bridge{config: cfg, mux: http.NewServeMux()}
	b.setupRoutes()
	return b
}

func (b *Bridge) setupRoutes() {
	b.mux.HandleFunc("GET /health", b.handleHealth)
	b.mux.HandleFunc("GET /tools/catalog", b.handleToolCatalog)
	b.mux.HandleFunc("POST /tools/execute", b.handleToolExecute)
	b.mux.HandleFunc("POST /conversations/sync", b.handleConversationsSync)
	b.mux.HandleFunc("GET /conversations", b.handleConversationsList)
	b.mux.HandleFunc("GET /conversations/stream", b.handleConversationsStream)
	b.mux.HandleFunc("GET /conversations/{id}", b.handleConversationGet)
}

// ServeHTTP implements http.Handler, stripping BasePath the same way
// internal/web.Handler.ServeHTTP does.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if b.config.BasePath != "" && b.config.BasePath != "/" {
		path = strings.TrimPrefix(path, b.config.BasePath)
		if path == "" {
			path = "/"
		}
	}
	r.URL.Path = path
	b.mux.ServeHTTP(w, r)
}

// Mount wraps the Bridge with its API-key middleware, the one piece of
// auth this surface needs since every caller is the single external agent
// runtime, not a population of logged-in dashboard users.
func (b *Bridge) Mount() http.Handler {
	return apiKeyMiddleware(b.config.APIKey, b.config.Logger)(b)
}

// apiKeyMiddleware rejects any request lacking a valid X-OpenClaw-Api-Key
// before it reaches business logic, per spec.md's bridge invariant. Grounded
// on auth.Service.ValidateAPIKey's constant-time comparison
// (crypto/subtle.ConstantTimeCompare), narrowed from a map of many keys down
// to the bridge's single shared secret. /health is exempt so orchestration
// layers can probe liveness without the secret.
func apiKeyMiddleware(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if strings.HasSuffix(path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			if expected == "" {
				jsonError(w, logger, "bridge is not configured with an api key", http.StatusServiceUnavailable)
				return
			}
			got := r.Header.Get(apiKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				jsonError(w, logger, "invalid or missing "+apiKeyHeader, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userIDFromRequest extracts and validates the X-Nexus-User-Id header,
// which POST /tools/execute and POST /conversations/sync require since each
// acts on behalf of one host user.
func userIDFromRequest(r *http.Request) (string, error) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		return "", orcherr.New(orcherr.InvalidRequest, "bridge", "missing "+userIDHeader+" header")
	}
	return userID, nil
}

func jsonResponse(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Error("bridge: json encode error", "error", err)
	}
}

func jsonError(w http.ResponseWriter, logger *slog.Logger, message string, status int) {
	jsonResponse(w, logger, status, map[string]string{"error": message})
}

// statusForError maps the orcherr taxonomy to an HTTP status, the same role
// other components' handlers give their own local switch statement.
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

func decodeJSONRequest(w http.ResponseWriter, r *http.Request, dst any) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, err
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// privilegedCaller is the storage.Caller the bridge uses for its own
// bookkeeping reads/writes: the bridge has already authenticated the
// request via the shared API key and scoped it to userID from the
// X-Nexus-User-Id header, so it bypasses storage's per-row user_id
// ownership check the same way orchestrator and hygiene do.
func privilegedCaller() storage.Caller {
	return storage.Caller{Privileged: true}
}
