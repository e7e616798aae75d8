package handlers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pmock "github.com/upb/tiered-gateway/services/providers/mock"
	"go.uber.org/zap"
)

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, false, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	decodeData(t, w, &response)
	assert.Equal(t, "healthy", response.Status)
	assert.NotEmpty(t, response.Timestamp)
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		w := httptest.NewRecorder()
		NewHealthHandler(db, true, logger).HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response HealthResponse
		decodeData(t, w, &response)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "healthy", response.Checks["database"])
		assert.Equal(t, "configured", response.Checks["primary_backends"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		w := httptest.NewRecorder()
		NewHealthHandler(db, true, logger).HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var response HealthResponse
		decodeData(t, w, &response)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "unhealthy", response.Checks["database"])
	})

	t.Run("unhealthy when query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		w := httptest.NewRecorder()
		NewHealthHandler(db, true, logger).HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("ready without database or primary backends", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler(nil, false, logger).HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response HealthResponse
		decodeData(t, w, &response)
		assert.Equal(t, "not_configured", response.Checks["database"])
		assert.Equal(t, "none_configured", response.Checks["primary_backends"])
	})
}

func TestStatusHandler(t *testing.T) {
	deps := newTestDeps(t, pmock.NewProvider("gemini"), nil)

	w := httptest.NewRecorder()
	StatusHandler(deps)(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	decodeData(t, w, &status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "test", status.Environment)
	assert.True(t, status.Available)
	assert.Equal(t, []string{"primary-deep", "primary-fast", "secondary-same-provider"}, status.Chains["deep"])
	assert.Equal(t, []string{"secondary-same-provider"}, status.Chains["minimal"])
	assert.Equal(t, fastModel, status.Backends["primary-fast"])
	assert.Equal(t, 3, status.Limits.MaxDepth)
	assert.Nil(t, status.Recorder)
}
