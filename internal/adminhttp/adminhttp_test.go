package adminhttp

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odacrun/odac/internal/audit"
	"github.com/odacrun/odac/internal/config"
)

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := config.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	return Dependencies{Store: store, Audit: auditLog, Logger: logger}
}

func TestHealthEndpoint(t *testing.T) {
	router := NewRouter(testDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusEndpoint(t *testing.T) {
	deps := testDeps(t)
	deps.Store.Server(func(s *config.ServerModule) { s.InstanceID = "test-instance" })
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "test-instance")
}

func TestRecentEventsEndpoint(t *testing.T) {
	deps := testDeps(t)
	require.NoError(t, deps.Audit.Record("web", "example.com", "create", ""))
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "example.com")
}
