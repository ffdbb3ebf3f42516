package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// RequireAuth authenticates every request via Bearer JWT or X-Api-Key and
// attaches the resulting user to the request context before calling next.
// A Service that is not Enabled() (no JWT secret, no API keys configured)
// rejects every request rather than silently letting them through, the
// same fail-closed posture bridge.apiKeyMiddleware takes for the tool
// bridge's single shared key.
func RequireAuth(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				writeJSONError(w, http.StatusUnauthorized, "auth is not configured")
				return
			}

			if token := extractBearerHeader(r); token != "" {
				user, err := service.ValidateJWT(token)
				if err != nil {
					if logger != nil {
						logger.Warn("jwt validation failed", "error", err)
					}
					writeJSONError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			if apiKey := extractAPIKeyHeader(r); apiKey != "" {
				user, err := service.ValidateAPIKey(apiKey)
				if err != nil {
					if logger != nil {
						logger.Warn("api key validation failed", "error", err)
					}
					writeJSONError(w, http.StatusUnauthorized, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			writeJSONError(w, http.StatusUnauthorized, "missing credentials")
		})
	}
}

// RoleLookup resolves a user's current role out-of-band from the token
// that authenticated them, e.g. from a user profile table. Used as the
// fallback half of spec.md's "token claims or a user profile lookup".
type RoleLookup func(userID string) (models.AccountRole, bool)

// RequirePrivileged wraps RequireAuth and additionally rejects any
// authenticated user who is not owner or admin rank, per the Admin/Ops
// Surface's (C10) role check. lookup may be nil, in which case the role
// check relies solely on the role the authenticated user already carries
// (the JWT role claim, or the configured role of the API key used).
func RequirePrivileged(service *Service, lookup RoleLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	auth := RequireAuth(service, logger)
	return func(next http.Handler) http.Handler {
		return auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := UserFromContext(r.Context())
			if !user.IsPrivileged() && lookup != nil {
				if role, ok := lookup(user.ID); ok {
					user.Role = role
				}
			}
			if !user.IsPrivileged() {
				writeJSONError(w, http.StatusForbidden, "owner or admin role required")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func extractBearerHeader(r *http.Request) string {
	value := r.Header.Get("Authorization")
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}

func extractAPIKeyHeader(r *http.Request) string {
	for _, header := range []string{"X-Api-Key", "Api-Key"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
