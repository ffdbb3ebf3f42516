package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

const healthTimeout = 10 * time.Second

// handleHealth implements GET /health: the bridge's own liveness plus a
// per-provider connection summary sourced from the Provider Gateway's
// existing TestConnections (C5), so this handler carries no provider
// dial-out logic of its own.
func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	connections := map[string]string{"openclaw": "ok"}
	if b.config.Gateway != nil {
		for name, health := range b.config.Gateway.TestConnections(ctx) {
			connections[name] = healthString(health)
		}
	}

	jsonResponse(w, b.config.Logger, http.StatusOK, map[string]any{
		"success":     true,
		"connections": connections,
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
