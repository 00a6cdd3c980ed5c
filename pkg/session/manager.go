// Package session implements session lifecycle management (spec.md §4.10,
// component C11): accepting a new alert into a session record, starting
// its chain run, and recovering orphaned sessions left behind by a
// previous process instance.
//
// Grounded on the teacher's pkg/services/session_service.go CreateSession
// (validate request, stamp status=pending/started_at, persist) for
// Accept, and pkg/queue/orphan.go's CleanupStartupOrphans (one-time,
// unconditional sweep of non-terminal sessions at process start, no
// attempt to resume) for RecoverOrphans.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
	"github.com/tarsy-run/tarsy/pkg/scheduler"
)

func nowUs() int64 { return time.Now().UnixMicro() }

// AlertRequest is the decoded form of the REST "alert submission" payload
// (spec.md §6): alert_type selects the chain, data is the opaque payload
// threaded into ChainContext.ProcessingAlert, mcp optionally narrows the
// tool servers/tools the dispatched chain's agents may use.
type AlertRequest struct {
	AlertType string
	Data      map[string]any
	Runbook   string
	Severity  string
	MCP       *models.MCPSelectionConfig
}

// Manager owns session acceptance and startup recovery (component C11).
// One Manager is shared across the process; Accept is safe to call
// concurrently for independent alerts (each call owns its own session and
// chain run).
type Manager struct {
	Config    *config.Config
	Store     history.Store
	Scheduler *scheduler.Scheduler
}

// New constructs a Manager from its dependencies.
func New(cfg *config.Config, store history.Store, sched *scheduler.Scheduler) *Manager {
	return &Manager{Config: cfg, Store: store, Scheduler: sched}
}

// Accept resolves the chain for req.AlertType, validates req.MCP against
// the servers the chain's first stage is willing to use, persists a new
// pending session, transitions it to in_progress, and starts the chain
// run on a background goroutine (spec.md §4.10 "created by C11 when an
// alert is accepted"; §6 "session rejected before any stage runs" for an
// unknown server/tool).
//
// Tool-name-level validation (MCPToolSelectionError) additionally happens
// per server once the chain's MCP client connects (mcptool.Dispatcher.
// ValidateToolSelection) — rejecting it here would require connecting to
// every candidate server before the session exists, which spec.md treats
// as stage-start work, not acceptance work. Server-name-level validation
// (MCPServerSelectionError), which needs no I/O, happens immediately below.
func (m *Manager) Accept(ctx context.Context, req AlertRequest) (*models.AlertSession, error) {
	chainID, chain, err := m.Config.ChainRegistry.GetByAlertType(req.AlertType)
	if err != nil {
		return nil, fmt.Errorf("session: no chain configured for alert_type %q: %w", req.AlertType, err)
	}

	if err := m.validateMCPSelection(chain, req.MCP); err != nil {
		return nil, err
	}

	alertData, err := json.Marshal(req.Data)
	if err != nil {
		return nil, fmt.Errorf("session: encoding alert data: %w", err)
	}
	chainSnapshot, err := json.Marshal(chain)
	if err != nil {
		return nil, fmt.Errorf("session: encoding chain definition: %w", err)
	}

	sess := &models.AlertSession{
		AlertType:       req.AlertType,
		AgentType:       firstStageAgentName(chain),
		AlertData:       alertData,
		Status:          models.SessionPending,
		StartedAtUs:     nowUs(),
		ChainID:         chainID,
		ChainDefinition: chainSnapshot,
	}

	sessionID, err := m.Store.CreateSession(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("session: creating session: %w", err)
	}
	sess.SessionID = sessionID
	sess.Status = models.SessionInProgress

	if _, err := m.Store.UpdateSessionStatus(ctx, sessionID, models.SessionInProgress, "", ""); err != nil {
		slog.Error("session: failed to mark session in_progress", "session_id", sessionID, "error", err)
	}

	go m.Scheduler.RunSession(context.Background(), sess, req.Data, req.MCP)

	return sess, nil
}

// validateMCPSelection rejects a session whose mcp selection names a
// server none of the chain's first stage's agents are configured to use
// (spec.md §4.6, §6). Every agent's server list in the stage is unioned
// so a multi-agent/replica stage is rejected only if no participating
// agent could satisfy the selection.
func (m *Manager) validateMCPSelection(chain *config.ChainConfig, sel *models.MCPSelectionConfig) error {
	if sel == nil || len(sel.Servers) == 0 {
		return nil
	}
	if len(chain.Stages) == 0 {
		return nil
	}
	stage := chain.Stages[0]
	servers, err := m.stageServers(stage)
	if err != nil {
		return err
	}
	_, derr := mcptool.NewDispatcher(nil, nil, "", "", servers, sel)
	return derr
}

func (m *Manager) stageServers(stage config.StageConfig) ([]string, error) {
	if len(stage.MCPServers) > 0 {
		return stage.MCPServers, nil
	}
	seen := map[string]bool{}
	var out []string
	for _, a := range stage.Agents {
		agentCfg, err := m.Config.AgentRegistry.Get(a.Name)
		if err != nil {
			return nil, fmt.Errorf("session: resolving agent %q: %w", a.Name, err)
		}
		for _, s := range agentCfg.MCPServers {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func firstStageAgentName(chain *config.ChainConfig) string {
	if len(chain.Stages) == 0 || len(chain.Stages[0].Agents) == 0 {
		return ""
	}
	return chain.Stages[0].Agents[0].Name
}
