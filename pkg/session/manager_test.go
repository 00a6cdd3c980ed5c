package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
	"github.com/tarsy-run/tarsy/pkg/scheduler"
)

// collectingSink is a minimal events.Sink that records every envelope
// published, so tests can wait for the asynchronous chain run to reach a
// terminal session_status_change without a real broadcast.Hub.
type collectingSink struct {
	mu  sync.Mutex
	env []events.Envelope
}

func (s *collectingSink) Publish(channel string, env events.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = append(s.env, env)
}

func (s *collectingSink) waitForStatusChange(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, e := range s.env {
			if e.Type == events.KindSessionStatusChange {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a session_status_change envelope")
}

func testConfig() *config.Config {
	agents := map[string]*config.AgentConfig{
		"kubernetes-agent": {
			IterationStrategy: "react",
			MCPServers:        []string{"kubernetes", "runbooks"},
		},
	}
	chains := map[string]*config.ChainConfig{
		"kubernetes-chain": {
			AlertTypes: []string{"kubernetes"},
			Stages: []config.StageConfig{
				{Name: "diagnose", Agents: []config.StageAgentConfig{{Name: "kubernetes-agent"}}},
			},
		},
	}
	return &config.Config{
		AgentRegistry: config.NewAgentRegistry(agents),
		ChainRegistry: config.NewChainRegistry(chains),
	}
}

func testScheduler(cfg *config.Config, store *history.MemoryStore, sink events.Sink) *scheduler.Scheduler {
	return &scheduler.Scheduler{
		Config: cfg,
		Store:  store,
		Hooks:  hooks.NewManager(),
		Pub:    events.NewPublisher(sink),
		Cancel: cancel.NewTracker(),
	}
}

func TestAccept_CreatesSessionAndStartsChain(t *testing.T) {
	store := history.NewMemoryStore()
	cfg := testConfig()
	sink := &collectingSink{}
	sched := testScheduler(cfg, store, sink)
	m := New(cfg, store, sched)

	sess, err := m.Accept(context.Background(), AlertRequest{
		AlertType: "kubernetes",
		Data:      map[string]any{"pod": "p1", "namespace": "default"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, "kubernetes-chain", sess.ChainID)
	assert.Equal(t, "kubernetes-agent", sess.AgentType)

	got, err := store.GetSessionWithStages(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.Session.SessionID)
	assert.Equal(t, models.SessionInProgress, got.Session.Status)

	// RunSession runs asynchronously against a chain with no configured LLM
	// providers, so it fails fast once the chain loop resolves the agent;
	// wait for that terminal transition rather than asserting on a race.
	sink.waitForStatusChange(t)
	final, err := store.GetSessionWithStages(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, final.Session.Status)
}

func TestAccept_UnknownAlertType(t *testing.T) {
	store := history.NewMemoryStore()
	cfg := testConfig()
	sched := testScheduler(cfg, store, &collectingSink{})
	m := New(cfg, store, sched)

	_, err := m.Accept(context.Background(), AlertRequest{AlertType: "unknown"})
	assert.ErrorIs(t, err, config.ErrChainNotFound)
}

func TestAccept_RejectsUnknownMCPServer(t *testing.T) {
	store := history.NewMemoryStore()
	cfg := testConfig()
	sched := testScheduler(cfg, store, &collectingSink{})
	m := New(cfg, store, sched)

	_, err := m.Accept(context.Background(), AlertRequest{
		AlertType: "kubernetes",
		Data:      map[string]any{"pod": "p1"},
		MCP: &models.MCPSelectionConfig{
			Servers: []models.MCPServerSelection{{Name: "not-configured"}},
		},
	})
	var selErr *mcptool.MCPServerSelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, []string{"not-configured"}, selErr.Requested)

	list, err := store.GetSessionsList(context.Background(), history.SessionFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list.Sessions, "rejected alert must not create a session row")
}

func TestRecoverOrphans_MarksNonTerminalSessionsFailed(t *testing.T) {
	store := history.NewMemoryStore()
	cfg := testConfig()
	sched := &scheduler.Scheduler{Config: cfg, Store: store}
	m := New(cfg, store, sched)

	id1, err := store.CreateSession(context.Background(), &models.AlertSession{Status: models.SessionInProgress})
	require.NoError(t, err)
	id2, err := store.CreateSession(context.Background(), &models.AlertSession{Status: models.SessionPending})
	require.NoError(t, err)

	require.NoError(t, m.RecoverOrphans(context.Background()))

	detail1, err := store.GetSessionWithStages(context.Background(), id1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, detail1.Session.Status)
	assert.Equal(t, "Backend was restarted - session terminated unexpectedly", detail1.Session.ErrorMessage)

	detail2, err := store.GetSessionWithStages(context.Background(), id2)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, detail2.Session.Status)

	// Idempotent: a second sweep updates zero rows (spec.md §8).
	count, err := store.CleanupOrphanedSessions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
