package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightaudit/codescanner/internal/supervisor"
)

func TestHealthzReportsNotReadyBeforeStartup(t *testing.T) {
	sup := supervisor.New(supervisor.Options{TargetDir: t.TempDir()})
	srv := NewServer(sup)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusReportsUnavailableBeforeScannerStarts(t *testing.T) {
	sup := supervisor.New(supervisor.Options{TargetDir: t.TempDir()})
	srv := NewServer(sup)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "scanner not started")
}
