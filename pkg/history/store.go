// Package history implements the durable history store facade (spec.md
// §4.3, component C2): retryable, durable append of sessions, stage
// executions, and LLM/tool interactions, with graceful degradation when
// disabled.
//
// Grounded on the teacher's pgx-based persistence idiom (pkg/services/*)
// and golang-migrate schema management; the retry/backoff policy is new
// code implementing spec.md §4.3, using cenkalti/backoff/v4 (an existing
// indirect teacher dependency) rather than a hand-rolled loop.
package history

import (
	"context"

	"github.com/tarsy-run/tarsy/pkg/models"
)

// SessionFilter narrows GetSessionsList results (spec.md §6 REST surface).
type SessionFilter struct {
	Status    string
	AgentType string
	AlertType string
	Search    string
	StartDate string
	EndDate   string
}

// Page is one page of a paginated session list.
type Page struct {
	Sessions   []models.AlertSession
	Page       int
	PageSize   int
	TotalPages int
	TotalItems int
}

// SessionDetail is a session plus its stage executions, for the session
// detail REST endpoint (spec.md §6).
type SessionDetail struct {
	Session *models.AlertSession
	Stages  []models.StageExecution
}

// Store is the history store facade contract (spec.md §4.3 "Operations").
// Implementations: *PostgresStore (durable), *MemoryStore (tests / disabled
// mode is layered on top via NoopStore, see degrade.go).
type Store interface {
	// CreateSession persists a new session and returns its ID. create_session
	// is never retried beyond the first attempt (spec.md §4.3): a retryable
	// error here risks a duplicate session on a write that may have committed.
	CreateSession(ctx context.Context, s *models.AlertSession) (string, error)

	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errMsg, finalAnalysis string) (bool, error)

	// UpdateSessionProgress stamps the chain scheduler's current position
	// (spec.md §3 current_stage_index/current_stage_id), used to resume a
	// chain at current_stage_index+1 after a retroactively-resolved
	// parallel-stage pause (spec.md §4.8).
	UpdateSessionProgress(ctx context.Context, sessionID string, stageIndex int, stageID string) (bool, error)

	// CreateStageExecution persists a new stage-execution row and returns its
	// ID. Failure here is fatal to the chain (spec.md §4.3).
	CreateStageExecution(ctx context.Context, row *models.StageExecution) (string, error)
	UpdateStageExecution(ctx context.Context, row *models.StageExecution) (bool, error)

	StoreLLMInteraction(ctx context.Context, i models.LLMInteraction) (bool, error)
	StoreMCPInteraction(ctx context.Context, i models.MCPInteraction) (bool, error)

	GetSessionsList(ctx context.Context, filter SessionFilter, page, pageSize int) (Page, error)
	GetSessionWithStages(ctx context.Context, sessionID string) (*SessionDetail, error)
	GetStageExecution(ctx context.Context, executionID string) (*models.StageExecution, error)
	GetParallelStageChildren(ctx context.Context, parentExecutionID string) ([]models.StageExecution, error)
	GetLLMInteractions(ctx context.Context, sessionID string) ([]models.LLMInteraction, error)
	GetMCPInteractions(ctx context.Context, sessionID string) ([]models.MCPInteraction, error)

	// ListNonTerminalSessions returns every session not yet in a terminal
	// status — used by orphan recovery at startup (spec.md §4.10).
	ListNonTerminalSessions(ctx context.Context) ([]models.AlertSession, error)

	// CleanupOrphanedSessions marks every non-terminal session failed with
	// "Backend was restarted - session terminated unexpectedly" and returns
	// the count updated. Idempotent: a
	// second call in a row updates zero rows (spec.md §4.3, §8).
	CleanupOrphanedSessions(ctx context.Context) (int, error)
}

// HealthStatus mirrors spec.md §6's health payload enum.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDisabled HealthStatus = "disabled"
	HealthUnhealthy HealthStatus = "unhealthy"
)
