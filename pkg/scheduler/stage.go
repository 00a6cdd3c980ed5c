package scheduler

import (
	"context"

	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/controller"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
	"github.com/tarsy-run/tarsy/pkg/parallel"
)

// stageOutcome is what one stage execution (single or parallel) hands back
// to the chain loop (spec.md §4.8 "For each stage").
type stageOutcome struct {
	status                 models.ExecutionStatus
	output                 models.StageOutput
	failure                StageFailure
	allNonSuccessCancelled bool
}

// createRow persists a brand-new pending row, then immediately activates it
// (spec.md §4.1/§4.2 create-then-activate, mirrored from parallel.Executor's
// own createRow since a single-stage execution needs the identical
// two-phase sequencing and the two packages don't share an internal).
func (s *Scheduler) createRow(ctx context.Context, row *models.StageExecution) {
	row.Status = models.StagePending
	s.Hooks.FireStageHook(ctx, row)

	row.Status = models.StageActive
	started := nowUs()
	row.StartedAtUs = &started
	s.Hooks.FireStageHook(ctx, row)
}

// executeSingleStage runs a stage naming exactly one agent through the
// iteration controller (spec.md §4.5, §4.8).
func (s *Scheduler) executeSingleStage(ctx context.Context, session *models.AlertSession, chain *config.ChainConfig, cc *models.ChainContext, client *mcptool.Client, stageCfg config.StageConfig, stageIndex int) stageOutcome {
	agentName := stageCfg.Agents[0].Name

	agent, err := s.resolveAgent(chain, stageCfg, agentName, agentName)
	if err != nil {
		return stageOutcome{
			status:  models.ExecutionFailed,
			failure: StageFailure{StageName: stageCfg.Name, AgentName: agentName, ErrorMessage: err.Error()},
		}
	}

	row := models.StageExecution{
		SessionID:  session.SessionID,
		StageName:  stageCfg.Name,
		StageIndex: stageIndex,
		StageID:    stageCfg.Name,
		Agent:      agentName,
	}
	s.createRow(ctx, &row)

	dispatcher, err := mcptool.NewDispatcher(client, s.Hooks, session.SessionID, row.ExecutionID, agent.mcpServers, cc.MCP)
	if err != nil {
		out := controller.Outcome{Status: models.ExecutionFailed, Err: err}
		return s.finalizeSingleStage(ctx, stageCfg, row, agentName, out)
	}
	dispatcher.Metrics = s.Metrics

	toolNames := listToolNames(ctx, dispatcher)
	messages := s.buildMessages(agent.agentCfg, cc, toolNames)

	out := controller.New(s.newControllerConfig(
		session.SessionID, row.ExecutionID, agent, dispatcher, messages,
		cc.ChatContext != nil, s.Hooks, s.Cancel, s.iterationContextFn(),
	)).Run(ctx)

	return s.finalizeSingleStage(ctx, stageCfg, row, agentName, out)
}

func (s *Scheduler) finalizeSingleStage(ctx context.Context, stageCfg config.StageConfig, row models.StageExecution, agentName string, out controller.Outcome) stageOutcome {
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
	s.Hooks.FireStageHook(ctx, &row)
	if s.Metrics != nil && row.DurationMs != nil {
		s.Metrics.StageDuration.WithLabelValues(agentName, string(row.Status)).Observe(float64(*row.DurationMs) / 1000)
	}

	result := models.AgentExecutionResult{
		Status:                      out.Status,
		AgentName:                   agentName,
		StageName:                   stageCfg.Name,
		TimestampUs:                 nowUs(),
		ResultSummary:               out.Answer,
		ErrorMessage:                row.ErrorMessage,
		CompleteConversationHistory: out.Conversation,
	}

	if out.Status == models.ExecutionPaused || out.Status == models.ExecutionCompleted {
		return stageOutcome{status: out.Status, output: models.StageOutput{Single: &result}}
	}

	return stageOutcome{
		status: out.Status,
		output: models.StageOutput{Single: &result},
		failure: StageFailure{
			StageName:    stageCfg.Name,
			AgentName:    agentName,
			Status:       out.Status,
			ErrorMessage: row.ErrorMessage,
		},
		allNonSuccessCancelled: out.Status == models.ExecutionCancelled,
	}
}

// executeParallelStage runs a multi-agent or replicated-agent stage
// through parallel.Executor (spec.md §4.7, §4.8).
func (s *Scheduler) executeParallelStage(ctx context.Context, session *models.AlertSession, chain *config.ChainConfig, cc *models.ChainContext, client *mcptool.Client, stageCfg config.StageConfig, stageIndex int) stageOutcome {
	spec, err := s.buildParallelSpec(chain, cc, client, stageCfg, stageIndex)
	if err != nil {
		return stageOutcome{
			status:  models.ExecutionFailed,
			failure: StageFailure{StageName: stageCfg.Name, ErrorMessage: err.Error()},
		}
	}

	result, _, err := s.Parallel.Execute(ctx, session.SessionID, spec)
	if err != nil {
		return stageOutcome{
			status:  models.ExecutionFailed,
			failure: StageFailure{StageName: stageCfg.Name, ErrorMessage: err.Error()},
		}
	}

	if result.Status == models.ExecutionPaused || result.Status == models.ExecutionCompleted {
		return stageOutcome{status: result.Status, output: models.StageOutput{Parallel: &result}}
	}

	childStatuses := make([]models.ExecutionStatus, len(result.Results))
	for i, r := range result.Results {
		childStatuses[i] = r.Status
	}

	return stageOutcome{
		status:                 result.Status,
		output:                 models.StageOutput{Parallel: &result},
		failure:                parallelFailure(stageCfg.Name, result),
		allNonSuccessCancelled: parallel.AllNonSuccessAreCancelled(childStatuses),
	}
}

// buildParallelSpec resolves every child (and the optional synthesis
// agent) of a parallel StageConfig into a ready-to-execute parallel.StageSpec
// (spec.md §3 ChainDefinition "parallel" shape, §4.7).
func (s *Scheduler) buildParallelSpec(chain *config.ChainConfig, cc *models.ChainContext, client *mcptool.Client, stageCfg config.StageConfig, stageIndex int) (parallel.StageSpec, error) {
	ptype := parallelTypeOf(stageCfg)

	var children []parallel.ChildSpec
	if ptype == models.ParallelReplica {
		agentName := stageCfg.Agents[0].Name
		for i := 0; i < stageCfg.Replicas; i++ {
			child, err := s.buildChildSpec(chain, cc, client, stageCfg, agentName)
			if err != nil {
				return parallel.StageSpec{}, err
			}
			children = append(children, child)
		}
	} else {
		for _, a := range stageCfg.Agents {
			child, err := s.buildChildSpec(chain, cc, client, stageCfg, a.Name)
			if err != nil {
				return parallel.StageSpec{}, err
			}
			children = append(children, child)
		}
	}

	spec := parallel.StageSpec{
		StageName:     stageCfg.Name,
		StageIndex:    stageIndex,
		StageID:       stageCfg.Name,
		ParallelType:  ptype,
		SuccessPolicy: successPolicyOf(stageCfg),
		Children:      children,
	}

	if stageCfg.Synthesis != nil {
		synth, err := s.resolveAgent(chain, stageCfg, stageCfg.Synthesis.Agent, stageCfg.Synthesis.Agent)
		if err != nil {
			return parallel.StageSpec{}, err
		}
		spec.Synthesis = &parallel.SynthesisSpec{
			AgentName:        synth.agentName,
			ProviderName:     synth.providerName,
			Provider:         synth.provider,
			Strategy:         synth.strategy,
			BuildDispatcher:  s.buildDispatcherFor(cc.SessionID, client, synth, cc.MCP),
			MaxIterations:    synth.maxIterations,
			IterationTimeout: s.IterationTimeout,
			BuildMessages: func(results []models.AgentExecutionResult) []models.ConversationMessage {
				return s.Prompts.BuildSynthesis(synth.agentCfg, results)
			},
		}
	}

	return spec, nil
}

func (s *Scheduler) buildChildSpec(chain *config.ChainConfig, cc *models.ChainContext, client *mcptool.Client, stageCfg config.StageConfig, agentName string) (parallel.ChildSpec, error) {
	agent, err := s.resolveAgent(chain, stageCfg, agentName, agentName)
	if err != nil {
		return parallel.ChildSpec{}, err
	}

	buildDispatcher := s.buildDispatcherFor(cc.SessionID, client, agent, cc.MCP)

	// Unlike executeSingleStage, a parallel child's prompt omits the
	// enumerated tool list: listing tools requires a real dispatcher bound
	// to the child's stage-execution row, which doesn't exist until
	// parallel.Executor creates it inside runChild. The LLM still receives
	// the tool specs themselves via controller.Run's own ListTools call.
	messages := s.buildMessages(agent.agentCfg, cc, nil)

	return parallel.ChildSpec{
		AgentName:                agent.agentName,
		ProviderName:             agent.providerName,
		Provider:                 agent.provider,
		Strategy:                 agent.strategy,
		BuildDispatcher:          buildDispatcher,
		InitialMessages:          messages,
		MaxIterations:            agent.maxIterations,
		ForceConclusionAtMaxIter: agent.forceConclusionAtMaxIter,
		ChatContext:              cc.ChatContext != nil,
		IterationTimeout:         s.IterationTimeout,
	}, nil
}

func parallelFailure(stageName string, result models.ParallelStageResult) StageFailure {
	var children []ChildFailure
	for _, r := range result.Results {
		if r.Status == models.ExecutionFailed || r.Status == models.ExecutionCancelled {
			children = append(children, ChildFailure{AgentName: r.AgentName, Status: r.Status, ErrorMessage: r.ErrorMessage})
		}
	}
	return StageFailure{
		StageName:  stageName,
		IsParallel: true,
		Status:     result.Status,
		Children:   children,
	}
}
