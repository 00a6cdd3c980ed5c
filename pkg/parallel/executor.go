package parallel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/controller"
	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/metrics"
	"github.com/tarsy-run/tarsy/pkg/models"
)

func nowUs() int64 { return time.Now().UnixMicro() }

// Executor runs parallel stages (spec.md §4.7, component C7). All
// stage-execution persistence goes through Hooks (component C1/C10) —
// Execute never calls Store directly to create/update a row, since the
// history-persisting stage hook (pkg/hooks/registry.go) already does
// that on every FireStageHook call. Store is used directly only by
// CancelAgent, which looks up existing rows and updates the session status.
type Executor struct {
	Store  history.Store
	Hooks  *hooks.Manager
	Pub    *events.Publisher
	Cancel *cancel.Tracker

	// Metrics records per-child LLM call latency via each spawned
	// controller.Config. Nil disables recording.
	Metrics *metrics.Metrics

	// Streaming gates enable_llm_streaming for every child/synthesis
	// controller this executor spawns (spec.md §6), mirroring
	// scheduler.Scheduler.Streaming.
	Streaming bool
}

// New constructs an Executor from its dependencies.
func New(store history.Store, mgr *hooks.Manager, pub *events.Publisher, tracker *cancel.Tracker) *Executor {
	return &Executor{Store: store, Hooks: mgr, Pub: pub, Cancel: tracker}
}

// childRun is one child's outcome, paired with the stage-execution row it
// was recorded under.
type childRun struct {
	row    models.StageExecution
	result models.AgentExecutionResult
}

// createRow persists a brand-new pending row (StartedAtUs=nil) so the
// create-vs-update hook predicate (spec.md §4.1/§4.2, §8 invariant 2) sees
// IsNew()==true on this first fire, then immediately activates it with a
// second fire that carries the assigned ExecutionID.
func (e *Executor) createRow(ctx context.Context, row *models.StageExecution) {
	row.Status = models.StagePending
	e.Hooks.FireStageHook(ctx, row)

	row.Status = models.StageActive
	started := nowUs()
	row.StartedAtUs = &started
	e.Hooks.FireStageHook(ctx, row)
}

// Execute fans out every child of spec concurrently, collects results,
// aggregates a stage status, optionally runs synthesis, and returns the
// ParallelStageResult plus the finalized parent row (spec.md §4.7).
func (e *Executor) Execute(ctx context.Context, sessionID string, spec StageSpec) (models.ParallelStageResult, models.StageExecution, error) {
	parent := models.StageExecution{
		SessionID:  sessionID,
		StageName:  spec.StageName,
		StageIndex: spec.StageIndex,
		StageID:    spec.StageID,
	}
	e.createRow(ctx, &parent)
	if parent.ExecutionID == "" {
		return models.ParallelStageResult{}, parent, fmt.Errorf("parallel: parent stage execution was not assigned an id")
	}

	childRuns := make([]childRun, len(spec.Children))
	var wg sync.WaitGroup
	for i, child := range spec.Children {
		i, child := i, child
		wg.Add(1)
		go func() {
			defer wg.Done()
			childRuns[i] = e.runChild(ctx, sessionID, parent.ExecutionID, spec, i, child)
		}()
	}
	wg.Wait()

	results := make([]models.AgentExecutionResult, len(childRuns))
	statuses := make([]models.ExecutionStatus, len(childRuns))
	agentMeta := make([]models.AgentExecutionMetadata, len(childRuns))
	for i, cr := range childRuns {
		results[i] = cr.result
		statuses[i] = cr.result.Status
		agentMeta[i] = models.AgentExecutionMetadata{
			AgentName:         cr.result.AgentName,
			Status:            cr.result.Status,
			ErrorMessage:      cr.result.ErrorMessage,
			IterationStrategy: spec.Children[i].Strategy.Name(),
			LLMProvider:       spec.Children[i].ProviderName,
		}
	}

	aggregate := AggregateStatus(statuses, spec.SuccessPolicy)

	stageResult := models.ParallelStageResult{
		StageName:   spec.StageName,
		Results:     results,
		Status:      aggregate,
		TimestampUs: nowUs(),
		Metadata: models.ParallelStageMetadata{
			ParentStageExecutionID: parent.ExecutionID,
			ParallelType:           spec.ParallelType,
			SuccessPolicy:          spec.SuccessPolicy,
			StartedAtUs:            *parent.StartedAtUs,
			CompletedAtUs:          nowUs(),
			Agents:                 agentMeta,
		},
	}

	if aggregate == models.ExecutionPaused {
		parent.Status = models.StagePaused
		pausedAt := nowUs()
		parent.PausedAtUs = &pausedAt
		parent.StageOutput = encodeMetadata(stageResult.Metadata)
		e.Hooks.FireStageHook(ctx, &parent)
		return stageResult, parent, nil
	}

	// Optional synthesis: runs over whatever results were collected,
	// successful and failed alike (spec.md §4.7).
	if spec.Synthesis != nil {
		synthOutcome := e.runSynthesis(ctx, sessionID, parent.ExecutionID, spec, results)
		switch {
		case synthOutcome.Status == models.ExecutionCompleted && aggregate == models.ExecutionCompleted:
			parent.Status = models.StageCompleted
			stageResult.Status = models.ExecutionCompleted
			stageResult.SynthesisSummary = synthOutcome.Answer
		case synthOutcome.Status == models.ExecutionCompleted:
			// Synthesis rescued a partially-successful fan-out (spec.md §3
			// StageExecution.status "partial").
			parent.Status = models.StagePartial
			stageResult.Status = models.ExecutionCompleted
			stageResult.SynthesisSummary = synthOutcome.Answer
		default:
			parent.Status = statusToStageStatus(synthOutcome.Status)
			stageResult.Status = synthOutcome.Status
		}
	} else {
		parent.Status = statusToStageStatus(aggregate)
	}

	completed := nowUs()
	parent.CompletedAtUs = &completed
	parent.RecomputeDuration()
	parent.StageOutput = encodeMetadata(stageResult.Metadata)
	e.Hooks.FireStageHook(ctx, &parent)

	return stageResult, parent, nil
}

// runChild executes one child under the session's cancellation scope and
// finalizes its stage-execution row (spec.md §4.7 "Per-child execution").
// One child's exception or cancellation never cancels siblings.
func (e *Executor) runChild(ctx context.Context, sessionID, parentExecID string, spec StageSpec, idx int, child ChildSpec) childRun {
	name := childAgentName(spec, idx, child)

	row := models.StageExecution{
		SessionID:              sessionID,
		ParentStageExecutionID: &parentExecID,
		StageName:              spec.StageName,
		StageIndex:             spec.StageIndex,
		StageID:                spec.StageID,
		Agent:                  name,
	}
	e.createRow(ctx, &row)

	dispatcher, err := child.BuildDispatcher(row.ExecutionID)
	if err != nil {
		return e.finalizeChild(ctx, row, name, spec.StageName, controller.Outcome{
			Status: models.ExecutionFailed, Err: err,
		})
	}

	out := controller.New(controller.Config{
		SessionID:                sessionID,
		StageExecutionID:         row.ExecutionID,
		AgentName:                name,
		ProviderName:             child.ProviderName,
		Provider:                 child.Provider,
		Strategy:                 child.Strategy,
		Dispatcher:               dispatcher,
		Hooks:                    e.Hooks,
		Cancel:                   e.Cancel,
		InitialMessages:          child.InitialMessages,
		MaxIterations:            child.MaxIterations,
		ForceConclusionAtMaxIter: child.ForceConclusionAtMaxIter,
		ChatContext:              child.ChatContext,
		NewIterationContext:      newIterationContext(child.IterationTimeout),
		Metrics:                  e.Metrics,
		Streaming:                e.Streaming,
		Emitter:                  e.Pub,
	}).Run(ctx)

	return e.finalizeChild(ctx, row, name, spec.StageName, out)
}

func (e *Executor) finalizeChild(ctx context.Context, row models.StageExecution, agentName, stageName string, out controller.Outcome) childRun {
	switch out.Status {
	case models.ExecutionPaused:
		row.Status = models.StagePaused
		pausedAt := nowUs()
		row.PausedAtUs = &pausedAt
	case models.ExecutionCancelled:
		row.Status = models.StageCancelled
		row.ErrorMessage = "cancelled by user"
		completed := nowUs()
		row.CompletedAtUs = &completed
	case models.ExecutionTimedOut:
		row.Status = models.StageTimedOut
		row.ErrorMessage = "timed out"
		completed := nowUs()
		row.CompletedAtUs = &completed
	case models.ExecutionFailed:
		row.Status = models.StageFailed
		if out.Err != nil {
			row.ErrorMessage = out.Err.Error()
		}
		completed := nowUs()
		row.CompletedAtUs = &completed
	default:
		row.Status = models.StageCompleted
		completed := nowUs()
		row.CompletedAtUs = &completed
	}
	row.RecomputeDuration()
	e.Hooks.FireStageHook(ctx, &row)

	result := models.AgentExecutionResult{
		Status:                      out.Status,
		AgentName:                   agentName,
		StageName:                   stageName,
		TimestampUs:                 nowUs(),
		ResultSummary:               out.Answer,
		CompleteConversationHistory: out.Conversation,
	}
	switch {
	case out.Err != nil:
		result.ErrorMessage = out.Err.Error()
	case out.Status == models.ExecutionCancelled:
		result.ErrorMessage = "cancelled by user"
	case out.Status == models.ExecutionTimedOut:
		result.ErrorMessage = "timed out"
	}
	return childRun{row: row, result: result}
}

// runSynthesis runs the optional synthesis agent over every child result,
// classifying its own cancellation via C9 exactly like a child (spec.md
// §4.7 "Synthesis stage").
func (e *Executor) runSynthesis(ctx context.Context, sessionID, parentExecID string, spec StageSpec, results []models.AgentExecutionResult) controller.Outcome {
	s := spec.Synthesis
	row := models.StageExecution{
		SessionID:              sessionID,
		ParentStageExecutionID: &parentExecID,
		StageName:              spec.StageName + ".synthesis",
		StageIndex:             spec.StageIndex,
		StageID:                spec.StageID,
		Agent:                  s.AgentName,
	}
	e.createRow(ctx, &row)

	dispatcher, err := s.BuildDispatcher(row.ExecutionID)
	if err != nil {
		e.finalizeChild(ctx, row, s.AgentName, spec.StageName, controller.Outcome{Status: models.ExecutionFailed, Err: err})
		return controller.Outcome{Status: models.ExecutionFailed, Err: err}
	}

	out := controller.New(controller.Config{
		SessionID:           sessionID,
		StageExecutionID:    row.ExecutionID,
		AgentName:           s.AgentName,
		ProviderName:        s.ProviderName,
		Provider:            s.Provider,
		Strategy:            s.Strategy,
		Dispatcher:          dispatcher,
		Hooks:               e.Hooks,
		Cancel:              e.Cancel,
		InitialMessages:     s.BuildMessages(results),
		MaxIterations:       s.MaxIterations,
		NewIterationContext: newIterationContext(s.IterationTimeout),
		Metrics:             e.Metrics,
		Streaming:           e.Streaming,
		Emitter:             e.Pub,
	}).Run(ctx)

	e.finalizeChild(ctx, row, s.AgentName, spec.StageName, out)
	return out
}

func childAgentName(spec StageSpec, idx int, child ChildSpec) string {
	if spec.ParallelType == models.ParallelReplica {
		return fmt.Sprintf("%s-%d", child.AgentName, idx+1)
	}
	return child.AgentName
}

func statusToStageStatus(s models.ExecutionStatus) models.StageStatus {
	switch s {
	case models.ExecutionCompleted:
		return models.StageCompleted
	case models.ExecutionFailed:
		return models.StageFailed
	case models.ExecutionTimedOut:
		return models.StageTimedOut
	case models.ExecutionCancelled:
		return models.StageCancelled
	case models.ExecutionPaused:
		return models.StagePaused
	default:
		return models.StageFailed
	}
}

// encodeMetadata stores a minimal stable encoding of parallel aggregation
// bookkeeping on the parent row's opaque StageOutput (spec.md §3: "parent
// rows of parallel stages store aggregation metadata here").
func encodeMetadata(m models.ParallelStageMetadata) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `{"parent_stage_execution_id":%q,"parallel_type":%q,"success_policy":%q,"started_at_us":%d,"completed_at_us":%d}`,
		m.ParentStageExecutionID, m.ParallelType, m.SuccessPolicy, m.StartedAtUs, m.CompletedAtUs)
	return []byte(b.String())
}
