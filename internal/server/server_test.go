package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccwatch/internal/config"
	"ccwatch/internal/constants"
	"ccwatch/internal/credential"
	"ccwatch/internal/events"
	"ccwatch/internal/history"
	"ccwatch/internal/keyring"
	"ccwatch/internal/refresh"
	"ccwatch/internal/state"
	"ccwatch/internal/usage"
)

type stubFetcher struct {
	mu    sync.Mutex
	snap  *usage.Snapshot
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, allowInteractive bool) (*usage.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type serverFixture struct {
	engine  *gin.Engine
	cfg     *config.Config
	creds   *credential.Store
	orch    *refresh.Orchestrator
	hub     *events.Hub
	hist    *history.Store
	fetcher *stubFetcher
	secrets *keyring.MemStore
	agents  *stubAgents
}

func newServerFixture(t *testing.T, mutate func(*config.Config)) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv(constants.EnvTokenVar, "")

	dir := t.TempDir()
	cfg := config.NewDefault()
	cfg.DataDir = dir
	cfg.UpstreamCredentialsPath = filepath.Join(dir, "upstream", ".credentials.json")
	cfg.RateLimitRPS = 1000
	cfg.RateLimitBurst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	secrets := keyring.NewMemStore()
	session := state.NewFileStore(filepath.Join(dir, "state.json"))
	hub := events.NewHub()
	creds := credential.NewStore(cfg, secrets, session, hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	fetcher := &stubFetcher{snap: &usage.Snapshot{
		FiveHour:  &usage.Window{Utilization: 42, ResetsAt: time.Now().Add(time.Hour)},
		FetchedAt: time.Now(),
	}}
	orch := refresh.NewOrchestrator(ctx, creds, fetcher, hub,
		refresh.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	var hist *history.Store
	if cfg.HistoryEnabled {
		var err error
		hist, err = history.Open(cfg.HistoryPath(), 0)
		require.NoError(t, err)
		t.Cleanup(func() { hist.Close() })
	}

	agents := &stubAgents{}
	deps := Dependencies{
		Credentials:  creds,
		Orchestrator: orch,
		History:      hist,
		Hub:          hub,
		Agents:       agents,
	}
	return &serverFixture{
		engine:  Build(cfg, deps),
		cfg:     cfg,
		creds:   creds,
		orch:    orch,
		hub:     hub,
		hist:    hist,
		fetcher: fetcher,
		secrets: secrets,
		agents:  agents,
	}
}

func (f *serverFixture) do(method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	fix := newServerFixture(t, nil)

	w := fix.do("GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusReportsDaemonState(t *testing.T) {
	fix := newServerFixture(t, nil)

	w := fix.do("GET", "/v0/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp["state"])
	assert.Equal(t, false, resp["access_denied"])
	assert.Equal(t, false, resp["env_override"])
	assert.NotEmpty(t, resp["version"])
	assert.NotContains(t, resp, "snapshot")
}

func TestUsageBeforeFirstFetchIs404(t *testing.T) {
	fix := newServerFixture(t, nil)

	w := fix.do("GET", "/v0/usage", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestRefreshThenUsage(t *testing.T) {
	fix := newServerFixture(t, nil)
	t.Setenv(constants.EnvTokenVar, "env-token")

	w := fix.do("POST", "/v0/refresh", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	deadline := time.Now().Add(2 * time.Second)
	for {
		w = fix.do("GET", "/v0/usage", "", nil)
		if w.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage endpoint never served the snapshot, last status %d", w.Code)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fresh", resp["staleness"])
	assert.Contains(t, resp, "snapshot")
}

func TestHistoryDisabled(t *testing.T) {
	fix := newServerFixture(t, func(cfg *config.Config) { cfg.HistoryEnabled = false })

	w := fix.do("GET", "/v0/history", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "history is disabled")
}

func TestHistoryQuery(t *testing.T) {
	fix := newServerFixture(t, func(cfg *config.Config) { cfg.HistoryEnabled = true })
	require.NotNil(t, fix.hist)

	now := time.Now()
	reset := now.Add(time.Hour)
	require.NoError(t, fix.hist.Record(context.Background(), &usage.Snapshot{
		FiveHour:  &usage.Window{Utilization: 10, ResetsAt: reset},
		FetchedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, fix.hist.Record(context.Background(), &usage.Snapshot{
		FiveHour:  &usage.Window{Utilization: 20, ResetsAt: reset},
		FetchedAt: now.Add(-time.Minute),
	}))

	w := fix.do("GET", "/v0/history?since=24h", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp["count"])

	w = fix.do("GET", "/v0/history?since=30m", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["count"])

	w = fix.do("GET", "/v0/history?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = fix.do("GET", "/v0/history?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualKeyLifecycle(t *testing.T) {
	fix := newServerFixture(t, nil)

	w := fix.do("PUT", "/v0/auth/manual-key", `{"key":"oops"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = fix.do("PUT", "/v0/auth/manual-key", `{"key":"sk-ant-test123"}`, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, fix.secrets.Has(constants.ManualKeychainService))

	w = fix.do("GET", "/v0/status", "", nil)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["manual_key"])

	w = fix.do("DELETE", "/v0/auth/manual-key", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, fix.secrets.Has(constants.ManualKeychainService))
}

func TestManagementKeyGatesAuthRoutes(t *testing.T) {
	fix := newServerFixture(t, func(cfg *config.Config) { cfg.ManagementKey = "secret" })

	w := fix.do("POST", "/v0/auth/reset", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = fix.do("POST", "/v0/auth/reset", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	// The refresh route stays open.
	w = fix.do("POST", "/v0/refresh", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRetryReportsClearedFlag(t *testing.T) {
	fix := newServerFixture(t, nil)

	w := fix.do("POST", "/v0/auth/retry", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["access_denied"])
	assert.Equal(t, "idle", resp["state"])
}

func TestEventsStream(t *testing.T) {
	fix := newServerFixture(t, nil)

	srv := httptest.NewServer(fix.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/events"
	conn, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello events.Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "stream.connected", hello.Topic)

	fix.hub.Publish(context.Background(), events.TopicAccessDenied, nil, map[string]string{"reason": "test"})

	var next events.Event
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, events.TopicAccessDenied, next.Topic)
	assert.Equal(t, "test", next.Metadata["reason"])
}
