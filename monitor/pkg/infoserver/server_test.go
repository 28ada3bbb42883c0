package infoserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affiliatedkat/sourcify/monitor"
	"github.com/affiliatedkat/sourcify/monitor/pkg/health"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type staticStatus monitor.Status

func (s staticStatus) Status(context.Context) monitor.Status {
	return monitor.Status(s)
}

func (staticStatus) Name() string                   { return "Monitor" }
func (staticStatus) Ready() error                   { return nil }
func (staticStatus) HealthReport() map[string]error { return map[string]error{"Monitor": nil} }

type failingChain struct{ staticStatus }

func (failingChain) HealthReport() map[string]error {
	return map[string]error{"Monitor": nil, "ChainMonitor.1": errors.New("rpc down")}
}

func TestServer_HealthFollowsPhase(t *testing.T) {
	t.Parallel()

	server := New(":0", staticStatus{}, false, logger.Test(t))

	w := httptest.NewRecorder()
	server.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	server.SetPhase(PhaseActive)
	w = httptest.NewRecorder()
	server.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, string(PhaseActive), resp.Phase)
}

func TestServer_Liveness(t *testing.T) {
	t.Parallel()

	server := New(":0", staticStatus{}, false, logger.Test(t))
	w := httptest.NewRecorder()
	server.handleLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}

func TestServer_Readiness(t *testing.T) {
	t.Parallel()

	t.Run("not ready before active", func(t *testing.T) {
		server := New(":0", staticStatus{}, false, logger.Test(t))
		w := httptest.NewRecorder()
		server.handleReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp health.ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Services, 1)
		assert.Equal(t, "phase init", resp.Services[0].Error)
	})

	t.Run("ready when active and healthy", func(t *testing.T) {
		server := New(":0", staticStatus{}, false, logger.Test(t))
		server.SetPhase(PhaseActive)
		w := httptest.NewRecorder()
		server.handleReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unhealthy chain fails readiness", func(t *testing.T) {
		server := New(":0", failingChain{}, false, logger.Test(t))
		server.SetPhase(PhaseActive)
		w := httptest.NewRecorder()
		server.handleReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp health.ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, health.NotReady, resp.Status)
		assert.Equal(t, map[string]string{"ChainMonitor.1": "rpc down"}, resp.Services[0].Report)
	})
}

func TestServer_StatusEndpoint(t *testing.T) {
	t.Parallel()

	status := staticStatus{
		Chains:  []monitor.ChainStatus{{ChainID: 1, ChainName: "ethereum-mainnet", Initialized: true, Cursor: 42, Pending: 3}},
		Fetcher: monitor.FetcherStats{Subscriptions: 5, Subscribers: 7, InFlight: 2},
	}
	server := New(":0", status, false, logger.Test(t))

	w := httptest.NewRecorder()
	server.handleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got monitor.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, monitor.Status(status), got)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	server := New(":0", staticStatus{}, false, logger.Test(t))

	w := httptest.NewRecorder()
	server.handleStatus(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	server.handleHealth(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := New(":0", staticStatus{}, true, logger.Test(t))

	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_StartAndShutdown(t *testing.T) {
	t.Parallel()

	server := New("127.0.0.1:0", staticStatus{}, false, logger.Test(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.Equal(t, http.ErrServerClosed, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Server didn't shut down in time")
	}
}
