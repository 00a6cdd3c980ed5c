package parallel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// CancelOutcome is what CancelAgent decided for the session as a whole
// (spec.md §4.7 "Per-agent cancellation API").
type CancelOutcome struct {
	SessionStatus     models.SessionStatus
	ShouldResumeChain bool // true only when ANY-policy satisfaction resumed the chain
	ResumeStageIndex  int  // valid only when ShouldResumeChain
}

type parentMetadata struct {
	SuccessPolicy models.SuccessPolicy `json:"success_policy"`
}

// CancelAgent cancels one paused child of a paused parallel stage and
// recomputes the stage/session state (spec.md §4.7, §8 scenario S5).
func (e *Executor) CancelAgent(ctx context.Context, sessionID, childExecutionID string) (CancelOutcome, error) {
	detail, err := e.Store.GetSessionWithStages(ctx, sessionID)
	if err != nil {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: load session: %w", err)
	}
	if detail == nil || detail.Session == nil {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: session %q not found", sessionID)
	}
	if detail.Session.Status != models.SessionPaused {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: session %q is not paused", sessionID)
	}

	child, err := e.Store.GetStageExecution(ctx, childExecutionID)
	if err != nil {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: load child: %w", err)
	}
	if child == nil || child.SessionID != sessionID {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: child %q does not belong to session %q", childExecutionID, sessionID)
	}
	if child.ParentStageExecutionID == nil {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: child %q is not part of a parallel stage", childExecutionID)
	}
	if child.Status != models.StagePaused {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: child %q is not paused", childExecutionID)
	}

	completedAt := nowUs()
	if child.PausedAtUs != nil {
		completedAt = *child.PausedAtUs
	}
	child.Status = models.StageCancelled
	child.ErrorMessage = "Cancelled by user"
	child.CompletedAtUs = &completedAt
	child.RecomputeDuration()
	e.Hooks.FireStageHook(ctx, child)

	parentExecID := *child.ParentStageExecutionID
	siblings, err := e.Store.GetParallelStageChildren(ctx, parentExecID)
	if err != nil {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: load siblings: %w", err)
	}

	statuses := make([]models.ExecutionStatus, 0, len(siblings))
	for _, sib := range siblings {
		if sib.ExecutionID == child.ExecutionID {
			statuses = append(statuses, models.ExecutionCancelled)
			continue
		}
		statuses = append(statuses, stageStatusToExecutionStatus(sib.Status))
	}

	parent, err := e.Store.GetStageExecution(ctx, parentExecID)
	if err != nil {
		return CancelOutcome{}, fmt.Errorf("parallel: cancel_agent: load parent: %w", err)
	}
	policy := decodeSuccessPolicy(parent)

	aggregate := AggregateStatus(statuses, policy)
	e.Pub.PublishAgentCancelled(ctx, events.AgentCancelledPayload{
		SessionID:   sessionID,
		ExecutionID: child.ExecutionID,
		Cause:       "user_cancel",
	})

	switch aggregate {
	case models.ExecutionPaused:
		// Other siblings are still paused; session remains paused.
		return CancelOutcome{SessionStatus: models.SessionPaused}, nil

	case models.ExecutionCompleted:
		// ANY policy satisfied retroactively by a sibling that already
		// completed: resume the chain after this stage (spec.md §4.7, §4.8,
		// §8 invariant 12).
		parent.Status = models.StageCompleted
		completed := nowUs()
		parent.CompletedAtUs = &completed
		parent.RecomputeDuration()
		e.Hooks.FireStageHook(ctx, parent)

		e.Store.UpdateSessionStatus(ctx, sessionID, models.SessionInProgress, "", "")
		e.Pub.PublishSessionResumed(ctx, sessionID)
		return CancelOutcome{
			SessionStatus:     models.SessionInProgress,
			ShouldResumeChain: true,
			ResumeStageIndex:  parent.StageIndex + 1,
		}, nil

	default: // models.ExecutionFailed
		if AllNonSuccessAreCancelled(statuses) {
			parent.Status = models.StageCancelled
			finalizeParentTerminal(parent)
			e.Hooks.FireStageHook(ctx, parent)
			e.Store.UpdateSessionStatus(ctx, sessionID, models.SessionCancelled, "", "")
			e.Pub.PublishSessionCancelled(ctx, sessionID, "user_cancel")
			return CancelOutcome{SessionStatus: models.SessionCancelled}, nil
		}
		parent.Status = models.StageFailed
		finalizeParentTerminal(parent)
		e.Hooks.FireStageHook(ctx, parent)
		e.Store.UpdateSessionStatus(ctx, sessionID, models.SessionFailed, "one or more parallel agents failed", "")
		e.Pub.PublishSessionFailed(ctx, sessionID, "one or more parallel agents failed")
		return CancelOutcome{SessionStatus: models.SessionFailed}, nil
	}
}

func finalizeParentTerminal(parent *models.StageExecution) {
	completed := nowUs()
	parent.CompletedAtUs = &completed
	parent.RecomputeDuration()
}

func decodeSuccessPolicy(parent *models.StageExecution) models.SuccessPolicy {
	if parent == nil || len(parent.StageOutput) == 0 {
		return models.PolicyAll
	}
	var meta parentMetadata
	if err := json.Unmarshal(parent.StageOutput, &meta); err != nil {
		return models.PolicyAll
	}
	return meta.SuccessPolicy
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
