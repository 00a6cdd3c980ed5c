package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/models"
	"github.com/tarsy-run/tarsy/pkg/scheduler"
	"github.com/tarsy-run/tarsy/pkg/session"
)

func init() { gin.SetMode(gin.TestMode) }

func testServer(t *testing.T) (*Server, *history.MemoryStore) {
	t.Helper()
	store := history.NewMemoryStore()
	cfg := &config.Config{
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"kubernetes-agent": {IterationStrategy: "react"},
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"kubernetes-chain": {
				AlertTypes: []string{"kubernetes"},
				Stages:     []config.StageConfig{{Name: "diagnose", Agents: []config.StageAgentConfig{{Name: "kubernetes-agent"}}}},
			},
		}),
	}
	sched := &scheduler.Scheduler{
		Config: cfg, Store: store,
		Hooks: hooks.NewManager(), Pub: events.NewPublisher(&discardSink{}), Cancel: cancel.NewTracker(),
	}
	mgr := session.New(cfg, store, sched)
	return NewServer(mgr, store, nil, false), store
}

type discardSink struct{}

func (discardSink) Publish(string, events.Envelope) {}

func TestCreateAlert_AcceptsKnownAlertType(t *testing.T) {
	s, _ := testServer(t)

	body, _ := json.Marshal(map[string]any{"alert_type": "kubernetes", "data": map[string]any{"pod": "p1"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp alertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, string(models.SessionInProgress), resp.Status)
}

func TestCreateAlert_UnknownAlertTypeYields422(t *testing.T) {
	s, _ := testServer(t)

	body, _ := json.Marshal(map[string]any{"alert_type": "unknown"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateAlert_MissingAlertTypeYields400(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession_UnknownIDYields404(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession_ReturnsDetailWithTimeline(t *testing.T) {
	s, store := testServer(t)

	id, err := store.CreateSession(t.Context(), &models.AlertSession{AlertType: "kubernetes", Status: models.SessionInProgress})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/sessions/"+id, nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.Session.SessionID)
	assert.Equal(t, 0, resp.Summary.StageCount)
}

func TestListSessions_InvalidStartDateYields422(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/sessions?start_date=not-a-date", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListSessions_PassesThroughUnknownStatus(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/sessions?status=bogus", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Sessions)
}

func TestHistoryHealth_ReportsHealthy(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/health", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp historyHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, history.HealthHealthy, resp.Status)
}
