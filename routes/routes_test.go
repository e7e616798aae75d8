package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tiered-gateway/app"
	"github.com/upb/tiered-gateway/auth"
	"github.com/upb/tiered-gateway/config"
	"github.com/upb/tiered-gateway/middleware"
	"github.com/upb/tiered-gateway/services/dispatch"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/providers/mock"
	"go.uber.org/zap"
)

var authConfig = auth.Config{Secret: "routes-test-secret", Issuer: "tiered-gateway"}

func newRouter(t *testing.T) http.Handler {
	t.Helper()

	primary := mock.NewProvider("gemini").On("gemini-2.5-flash", mock.Reply("routed", 0))
	backends := providers.NewRegistry()
	require.NoError(t, backends.Register(providers.Backend{ID: "primary-fast", Model: "gemini-2.5-flash", Provider: primary}))

	validator, err := auth.NewHMACValidator(authConfig)
	require.NoError(t, err)

	deps := &app.Dependencies{
		Config: &config.Config{
			Environment: "test",
			Version:     "test",
			Server:      config.ServerConfig{CORSAllowedOrigins: []string{"https://console.example.com"}},
		},
		Logger:         zap.NewNop(),
		Backends:       backends,
		Gateway:        dispatch.NewGateway(dispatch.Options{Backends: backends, Logger: zap.NewNop()}),
		AuthMiddleware: middleware.NewAuthMiddleware(validator, zap.NewNop()),
	}
	deps.Breakers = deps.Gateway.Breakers()

	return SetupRoutes(deps)
}

func token(t *testing.T, groups ...string) string {
	t.Helper()
	tok, err := auth.IssueToken(authConfig, "route-tester", groups, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestSetupRoutes(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		auth       string
		wantStatus int
	}{
		{name: "liveness is public", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
		{name: "readiness is public", method: http.MethodGet, path: "/readyz", wantStatus: http.StatusOK},
		{name: "status is public", method: http.MethodGet, path: "/api/v1/status", wantStatus: http.StatusOK},
		{name: "generate requires auth", method: http.MethodPost, path: "/api/v1/generate", body: `{"message":"hi"}`, wantStatus: http.StatusUnauthorized},
		{name: "generate with token", method: http.MethodPost, path: "/api/v1/generate", body: `{"message":"hi"}`, auth: token(t, "user"), wantStatus: http.StatusOK},
		{name: "dispatches with token", method: http.MethodGet, path: "/api/v1/dispatches", auth: token(t), wantStatus: http.StatusOK},
		{name: "tools require admin", method: http.MethodGet, path: "/api/v1/tools", auth: token(t, "user"), wantStatus: http.StatusForbidden},
		{name: "tools with admin", method: http.MethodGet, path: "/api/v1/tools", auth: token(t, "admin"), wantStatus: http.StatusOK},
		{name: "breakers require auth", method: http.MethodGet, path: "/api/v1/breakers", wantStatus: http.StatusUnauthorized},
		{name: "breaker reset with admin", method: http.MethodPost, path: "/api/v1/breakers/primary-fast/reset", auth: token(t, "admin"), wantStatus: http.StatusOK},
		{name: "unknown path", method: http.MethodGet, path: "/api/v2/generate", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestSetupRoutes_GenerateEndToEnd(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(`{"message":"hi","tier":"fast"}`))
	req.Header.Set("Authorization", token(t))
	req.Header.Set("X-Request-Id", "req-e2e")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data dispatch.InvocationResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "routed", body.Data.Text)
	assert.Equal(t, "primary-fast", string(body.Data.BackendUsed))
}

func TestSetupRoutes_CORS(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generate", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
