package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccwatch/internal/agentproc"
	"ccwatch/internal/config"
	"ccwatch/internal/events"
)

type stubAgents struct {
	mu      sync.Mutex
	counts  agentproc.Counts
	orphans []agentproc.ProcessRef
	scanErr error
	killErr error
	killed  [][]agentproc.ProcessRef
}

func (s *stubAgents) CountAgents(context.Context) (agentproc.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts, s.scanErr
}

func (s *stubAgents) DetectOrphans(context.Context) ([]agentproc.ProcessRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphans, s.scanErr
}

func (s *stubAgents) KillProcesses(_ context.Context, refs []agentproc.ProcessRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = append(s.killed, refs)
	if s.killErr != nil {
		return 0, s.killErr
	}
	return len(refs), nil
}

func TestAgentsReportsCountsAndOrphans(t *testing.T) {
	fix := newServerFixture(t, nil)
	fix.agents.counts = agentproc.Counts{Sessions: 2, Subagents: 3}
	fix.agents.orphans = []agentproc.ProcessRef{{PID: 4242, Command: "claude --resume"}}

	w := fix.do("GET", "/v0/agents", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions  int                    `json:"sessions"`
		Subagents int                    `json:"subagents"`
		Orphans   []agentproc.ProcessRef `json:"orphans"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Sessions)
	assert.Equal(t, 3, resp.Subagents)
	require.Len(t, resp.Orphans, 1)
	assert.Equal(t, 4242, resp.Orphans[0].PID)
}

func TestAgentsServesEmptyOrphanArray(t *testing.T) {
	fix := newServerFixture(t, nil)

	w := fix.do("GET", "/v0/agents", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"orphans":[]`)
}

func TestCleanupKillsOrphansAndPublishes(t *testing.T) {
	fix := newServerFixture(t, nil)
	fix.agents.orphans = []agentproc.ProcessRef{
		{PID: 100, Command: "claude"},
		{PID: 101, Command: "claude"},
	}

	var got events.Event
	unsubscribe := fix.hub.Subscribe(events.TopicCleanupRequested, func(_ context.Context, ev events.Event) {
		got = ev
	})
	defer unsubscribe()

	w := fix.do("POST", "/v0/agents/cleanup", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"killed":2}`, w.Body.String())

	require.Len(t, fix.agents.killed, 1)
	assert.Len(t, fix.agents.killed[0], 2)
	assert.Equal(t, events.TopicCleanupRequested, got.Topic)
	assert.Equal(t, "2", got.Metadata["killed"])
}

func TestCleanupWithoutOrphansIsNoop(t *testing.T) {
	fix := newServerFixture(t, nil)

	w := fix.do("POST", "/v0/agents/cleanup", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"killed":0}`, w.Body.String())
	assert.Empty(t, fix.agents.killed)
}

func TestCleanupRequiresManagementKey(t *testing.T) {
	fix := newServerFixture(t, func(cfg *config.Config) {
		cfg.ManagementKey = "secret"
	})
	fix.agents.orphans = []agentproc.ProcessRef{{PID: 100, Command: "claude"}}

	w := fix.do("POST", "/v0/agents/cleanup", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, fix.agents.killed)

	w = fix.do("POST", "/v0/agents/cleanup", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Counting stays open; it is read-only.
	w = fix.do("GET", "/v0/agents", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAgentScanErrorIsServerError(t *testing.T) {
	fix := newServerFixture(t, nil)
	fix.agents.scanErr = assert.AnError

	w := fix.do("GET", "/v0/agents", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "server_error")
}

func TestAgentsUnavailableWithoutService(t *testing.T) {
	fix := newServerFixture(t, nil)
	engine := Build(fix.cfg, Dependencies{
		Credentials:  fix.creds,
		Orchestrator: fix.orch,
		Hub:          fix.hub,
	})

	req := httptest.NewRequest(http.MethodGet, "/v0/agents", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
