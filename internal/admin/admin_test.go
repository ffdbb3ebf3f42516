package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

func newTestAdmin(t *testing.T) (*Admin, storage.Store, *auth.Service) {
	t.Helper()
	store := storage.NewMemoryStore()
	gw := routing.New(routing.Config{Usage: store})
	authSvc := auth.NewService(auth.Config{JWTSecret: "test-secret-test-secret", TokenExpiry: time.Hour})
	a := NewAdmin(&Config{
		Store:   store,
		Gateway: gw,
		Auth:    authSvc,
	})
	return a, store, authSvc
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_RejectsMissingCredentials(t *testing.T) {
	a, _, _ := newTestAdmin(t)
	rec := doRequest(t, a.Mount(), http.MethodGet, "/admin/health", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_RejectsMemberRole(t *testing.T) {
	a, _, authSvc := newTestAdmin(t)
	token, err := authSvc.GenerateJWT(&models.User{ID: "user-1", Role: models.RoleMember})
	require.NoError(t, err)

	rec := doRequest(t, a.Mount(), http.MethodGet, "/admin/health", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_HealthReportsProvidersAndDatabase(t *testing.T) {
	a, _, authSvc := newTestAdmin(t)
	token, err := authSvc.GenerateJWT(&models.User{ID: "owner-1", Role: models.RoleOwner})
	require.NoError(t, err)

	rec := doRequest(t, a.Mount(), http.MethodGet, "/admin/health", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["database"])
}

func TestAdmin_GetAgentSoulDefaultsEmpty(t *testing.T) {
	a, _, authSvc := newTestAdmin(t)
	token, err := authSvc.GenerateJWT(&models.User{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)

	rec := doRequest(t, a.Mount(), http.MethodGet, "/admin/agent-soul", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body agentSoulResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Text)
}

func TestAdmin_PutThenGetAgentSoulRoundTrips(t *testing.T) {
	a, _, authSvc := newTestAdmin(t)
	token, err := authSvc.GenerateJWT(&models.User{ID: "owner-1", Role: models.RoleOwner})
	require.NoError(t, err)

	payload, err := json.Marshal(putAgentSoulRequest{Text: "# Be helpful and terse."})
	require.NoError(t, err)

	putRec := doRequest(t, a.Mount(), http.MethodPut, "/admin/agent-soul", token, payload)
	require.Equal(t, http.StatusOK, putRec.Code)

	getRec := doRequest(t, a.Mount(), http.MethodGet, "/admin/agent-soul", token, nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	var body agentSoulResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &body))
	require.Equal(t, "# Be helpful and terse.", body.Text)
}

func TestAdmin_UsageReturnsStatsForWindow(t *testing.T) {
	a, store, authSvc := newTestAdmin(t)
	token, err := authSvc.GenerateJWT(&models.User{ID: "owner-1", Role: models.RoleOwner})
	require.NoError(t, err)

	require.NoError(t, store.RecordUsage(t.Context(), &models.ProviderUsage{
		ID: "usage-1", OrgID: "org-1", Provider: "local", Success: true, CostUSD: 0.02,
	}))

	rec := doRequest(t, a.Mount(), http.MethodGet, "/admin/usage?org_id=org-1&window=48h", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.TotalRequests)
}
