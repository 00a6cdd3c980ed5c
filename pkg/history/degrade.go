package history

import (
	"context"
	"log/slog"

	"github.com/tarsy-run/tarsy/pkg/models"
)

// NoopStore degrades every mutating operation to a no-op and every
// query-side operation to an empty result (spec.md §4.3: "If disabled by
// configuration... If initialization fails at startup, the facade marks
// itself unhealthy; the rest of the system continues but capture writes
// become no-ops").
type NoopStore struct {
	// Reason explains why this store is degraded ("disabled by
	// configuration" or "unhealthy: <init error>"), surfaced by the health
	// endpoint (spec.md §6).
	Reason string
}

var _ Store = (*NoopStore)(nil)

func (n *NoopStore) CreateSession(ctx context.Context, s *models.AlertSession) (string, error) {
	slog.Debug("history store disabled: create_session is a no-op", "reason", n.Reason)
	return "", nil
}

func (n *NoopStore) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errMsg, finalAnalysis string) (bool, error) {
	slog.Debug("history store disabled: update_session_status is a no-op", "reason", n.Reason)
	return false, nil
}

func (n *NoopStore) UpdateSessionProgress(ctx context.Context, sessionID string, stageIndex int, stageID string) (bool, error) {
	slog.Debug("history store disabled: update_session_progress is a no-op", "reason", n.Reason)
	return false, nil
}

func (n *NoopStore) CreateStageExecution(ctx context.Context, row *models.StageExecution) (string, error) {
	slog.Debug("history store disabled: create_stage_execution is a no-op", "reason", n.Reason)
	return "", nil
}

func (n *NoopStore) UpdateStageExecution(ctx context.Context, row *models.StageExecution) (bool, error) {
	slog.Debug("history store disabled: update_stage_execution is a no-op", "reason", n.Reason)
	return false, nil
}

func (n *NoopStore) StoreLLMInteraction(ctx context.Context, i models.LLMInteraction) (bool, error) {
	slog.Debug("history store disabled: store_llm_interaction is a no-op", "reason", n.Reason)
	return false, nil
}

func (n *NoopStore) StoreMCPInteraction(ctx context.Context, i models.MCPInteraction) (bool, error) {
	slog.Debug("history store disabled: store_mcp_interaction is a no-op", "reason", n.Reason)
	return false, nil
}

func (n *NoopStore) GetSessionsList(ctx context.Context, filter SessionFilter, page, pageSize int) (Page, error) {
	return Page{Page: page, PageSize: pageSize}, nil
}

func (n *NoopStore) GetSessionWithStages(ctx context.Context, sessionID string) (*SessionDetail, error) {
	return nil, ErrNotFound
}

func (n *NoopStore) GetStageExecution(ctx context.Context, executionID string) (*models.StageExecution, error) {
	return nil, ErrNotFound
}

func (n *NoopStore) GetParallelStageChildren(ctx context.Context, parentExecutionID string) ([]models.StageExecution, error) {
	return nil, nil
}

func (n *NoopStore) GetLLMInteractions(ctx context.Context, sessionID string) ([]models.LLMInteraction, error) {
	return nil, nil
}

func (n *NoopStore) GetMCPInteractions(ctx context.Context, sessionID string) ([]models.MCPInteraction, error) {
	return nil, nil
}

func (n *NoopStore) ListNonTerminalSessions(ctx context.Context) ([]models.AlertSession, error) {
	return nil, nil
}

func (n *NoopStore) CleanupOrphanedSessions(ctx context.Context) (int, error) {
	return 0, nil
}

// Health reports the facade's health status for spec.md §6's
// GET /api/v1/history/health.
func Health(disabled bool, store Store) HealthStatus {
	if disabled {
		return HealthDisabled
	}
	if _, ok := store.(*NoopStore); ok {
		return HealthUnhealthy
	}
	return HealthHealthy
}
