package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tarsy-run/tarsy/pkg/models"
	"github.com/tarsy-run/tarsy/pkg/parallel"
)

// CancelAgent cancels one paused child of a paused parallel stage and, if
// that retroactively satisfies the stage's ANY success policy, resumes the
// chain from the next stage (spec.md §4.7 "Per-agent cancellation API",
// §4.8 invariant 12). This is the substrate the REST cancel-agent handler
// calls; parallel.Executor.CancelAgent itself already persists the child's
// terminal status and publishes the session.resumed/cancelled/failed
// envelope for every outcome that changes the session's status (a stage
// that stays paused publishes none) — this method's only remaining job is
// bridging the ANY-policy-satisfied outcome into Scheduler.ResumeAfterParallel,
// since nothing else in the process does.
func (m *Manager) CancelAgent(ctx context.Context, sessionID, childExecutionID string) (parallel.CancelOutcome, error) {
	outcome, err := m.Scheduler.Parallel.CancelAgent(ctx, sessionID, childExecutionID)
	if err != nil {
		return outcome, err
	}
	if !outcome.ShouldResumeChain {
		return outcome, nil
	}

	sess, cc, err := m.rebuildChainContext(ctx, sessionID, outcome.ResumeStageIndex)
	if err != nil {
		slog.Error("session: failed to rebuild chain context for resume", "session_id", sessionID, "error", err)
		return outcome, fmt.Errorf("session: rebuild chain context: %w", err)
	}

	go m.Scheduler.ResumeAfterParallel(context.Background(), sess, cc, outcome.ResumeStageIndex)
	return outcome, nil
}

// rebuildChainContext reconstructs the in-memory ChainContext a resumed
// chain run needs from persisted state (spec.md §4.7 "the scheduler
// resumes by building the ChainContext from the persisted state"): the
// session's alert payload, plus one StageOutput per top-level stage
// completed before fromStageIndex, in stage order.
//
// Per-stage reconstruction is necessarily partial: stage_executions rows
// carry status/agent/error/timing (models.StageExecution), not the
// free-text result summary or full conversation history a live run
// accumulates in memory — those are only ever durable in the
// llm_interactions rows (spec.md §4.1), not on the stage row itself. A
// resumed chain therefore sees empty ResultSummary/CompleteConversationHistory
// for stages that ran before the resume point; later stages' prompts lose
// that narrative detail but still see every prior stage's status, which is
// enough to continue scheduling correctly.
func (m *Manager) rebuildChainContext(ctx context.Context, sessionID string, fromStageIndex int) (*models.AlertSession, *models.ChainContext, error) {
	detail, err := m.Store.GetSessionWithStages(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if detail == nil || detail.Session == nil {
		return nil, nil, fmt.Errorf("session %q not found", sessionID)
	}

	var alert map[string]any
	_ = json.Unmarshal(detail.Session.AlertData, &alert)

	cc := models.NewChainContext(sessionID, alert)

	for _, row := range detail.Stages {
		if row.ParentStageExecutionID != nil || row.StageIndex >= fromStageIndex {
			continue
		}
		output, err := m.buildStageOutput(ctx, row)
		if err != nil {
			return nil, nil, err
		}
		cc.AppendStageOutput(row.StageName, output)
	}

	return detail.Session, cc, nil
}

// buildStageOutput turns one top-level stage_executions row back into a
// StageOutput: a ParallelStageResult if the row has children persisted
// against it, otherwise a single AgentExecutionResult.
func (m *Manager) buildStageOutput(ctx context.Context, row models.StageExecution) (models.StageOutput, error) {
	children, err := m.Store.GetParallelStageChildren(ctx, row.ExecutionID)
	if err != nil {
		return models.StageOutput{}, fmt.Errorf("load children of stage %q: %w", row.StageName, err)
	}
	if len(children) == 0 {
		return models.StageOutput{Single: stageRowToResult(row)}, nil
	}

	results := make([]models.AgentExecutionResult, len(children))
	for i, child := range children {
		results[i] = *stageRowToResult(child)
	}
	return models.StageOutput{Parallel: &models.ParallelStageResult{
		StageName: row.StageName,
		Results:   results,
		Status:    stageStatusToExecutionStatus(row.Status),
	}}, nil
}

func stageRowToResult(row models.StageExecution) *models.AgentExecutionResult {
	return &models.AgentExecutionResult{
		Status:       stageStatusToExecutionStatus(row.Status),
		AgentName:    row.Agent,
		StageName:    row.StageName,
		ErrorMessage: row.ErrorMessage,
	}
}

func stageStatusToExecutionStatus(s models.StageStatus) models.ExecutionStatus {
	switch s {
	case models.StageCompleted, models.StagePartial:
		return models.ExecutionCompleted
	case models.StageFailed:
		return models.ExecutionFailed
	case models.StageTimedOut:
		return models.ExecutionTimedOut
	case models.StageCancelled:
		return models.ExecutionCancelled
	case models.StagePaused:
		return models.ExecutionPaused
	default:
		return models.ExecutionFailed
	}
}
