package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/upb/tiered-gateway/app"
	"github.com/upb/tiered-gateway/config"
	"github.com/upb/tiered-gateway/services/breaker"
	"github.com/upb/tiered-gateway/services/budget"
	"github.com/upb/tiered-gateway/services/dispatch"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/providers/mock"
	"github.com/upb/tiered-gateway/services/routing"
	"go.uber.org/zap"
)

const (
	deepModel = "deep-model"
	fastModel = "fast-model"
	liteModel = "lite-model"
)

var testBackends = map[string]string{
	"primary-deep":            deepModel,
	"primary-fast":            fastModel,
	"secondary-same-provider": liteModel,
}

// newTestDeps wires a gateway over scripted providers. A nil primary leaves
// the gateway unavailable; a nil secondary leaves the fallback unconfigured.
func newTestDeps(t *testing.T, primary *mock.Provider, secondary *mock.Secondary) *app.Dependencies {
	t.Helper()

	backends := providers.NewRegistry()
	if primary != nil {
		for id, model := range testBackends {
			require.NoError(t, backends.Register(providers.Backend{
				ID:       routing.BackendID(id),
				Model:    model,
				Provider: primary,
			}))
		}
	}

	var factory dispatch.SecondaryFactory
	if secondary != nil {
		factory = func() (providers.SecondaryProvider, error) { return secondary, nil }
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig(), zap.NewNop())
	gateway := dispatch.NewGateway(dispatch.Options{
		Resolver:       routing.NewDefaultResolver(routing.DefaultChainConfig()),
		Breakers:       breakers,
		Backends:       backends,
		Secondary:      dispatch.NewSecondaryFallback(factory, zap.NewNop()),
		Limits:         budget.DefaultLimits(),
		BackendTimeout: 5 * time.Second,
		Logger:         zap.NewNop(),
	})

	return &app.Dependencies{
		Config: &config.Config{
			Environment: "test",
			Version:     "1.2.3",
			Gateway:     config.GatewayConfig{Backends: testBackends},
		},
		Logger:   zap.NewNop(),
		Backends: backends,
		Breakers: breakers,
		Gateway:  gateway,
	}
}

func unavailableErr() error {
	return providers.NewProviderError("gemini", providers.KindServiceUnavailable, "backend overloaded", http.StatusServiceUnavailable, nil)
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// envelope mirrors utils.SuccessResponse and utils.ErrorResponse in one shape
type envelope struct {
	Data    json.RawMessage        `json:"data"`
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()

	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(decode(t, w).Data, v))
}
