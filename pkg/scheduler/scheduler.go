// Package scheduler implements the chain scheduler (spec.md §4.8,
// component C8): walks a chain definition's ordered stages, building
// ChainContext forward, dispatching each stage to the iteration
// controller (single stage) or the parallel executor (fan-out stage),
// and translating stage outcomes into session-level status transitions
// and error messages.
//
// Grounded on the teacher's pkg/queue/executor.go sequential "for _, stage
// := range chain.Stages" loop (fail-fast on the first non-success stage)
// and pkg/queue/executor_helpers.go's aggregateError string assembly,
// adapted from the teacher's unified N=1-is-not-special stage model to
// spec.md's explicit single-vs-parallel StageConfig shapes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/controller"
	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/metrics"
	"github.com/tarsy-run/tarsy/pkg/models"
	"github.com/tarsy-run/tarsy/pkg/parallel"
	"github.com/tarsy-run/tarsy/pkg/prompt"
)

func nowUs() int64 { return time.Now().UnixMicro() }

// Scheduler runs one session's chain end-to-end (spec.md §4.8, component
// C8). One Scheduler is shared across sessions; RunSession/ResumeSession
// are safe to call concurrently for different sessions.
type Scheduler struct {
	Config   *config.Config
	Store    history.Store
	Hooks    *hooks.Manager
	Pub      *events.Publisher
	Cancel   *cancel.Tracker
	Prompts  *prompt.Builder
	Parallel *parallel.Executor

	// Providers is every configured LLM provider, keyed by the name it was
	// registered under in llm-providers.yaml. DefaultProvider names the
	// entry used when an agent/stage/chain leaves llm_provider unset
	// (spec.md §4.5).
	Providers       map[string]llm.Provider
	DefaultProvider string

	// NewMCPClient builds and initializes a per-session MCP client
	// connected to the given server ids. Defaults to a client bound to
	// Config.MCPServerRegistry when nil (tests may override with a stub).
	NewMCPClient func(ctx context.Context, serverIDs []string) *mcptool.Client

	// IterationTimeout wraps every individual LLM call (spec.md §6
	// llm_iteration_timeout). Zero disables the timeout.
	IterationTimeout time.Duration

	// Metrics records session/stage outcome counters and latencies. Nil
	// disables recording (tests construct a bare Scheduler{} freely).
	Metrics *metrics.Metrics

	// Streaming gates enable_llm_streaming (spec.md §6): when set, every
	// controller.Config built for a stage streams through Pub instead of
	// calling Provider.Complete directly.
	Streaming bool
}

// New constructs a Scheduler from its dependencies.
func New(cfg *config.Config, store history.Store, mgr *hooks.Manager, pub *events.Publisher, tracker *cancel.Tracker, providers map[string]llm.Provider, defaultProvider string) *Scheduler {
	return &Scheduler{
		Config:          cfg,
		Store:           store,
		Hooks:           mgr,
		Pub:             pub,
		Cancel:          tracker,
		Prompts:         prompt.NewBuilder(),
		Parallel:        parallel.New(store, mgr, pub, tracker),
		Providers:       providers,
		DefaultProvider: defaultProvider,
	}
}

func (s *Scheduler) mcpClient(ctx context.Context, serverIDs []string) *mcptool.Client {
	if s.NewMCPClient != nil {
		return s.NewMCPClient(ctx, serverIDs)
	}
	client := mcptool.NewClient(s.Config.MCPServerRegistry)
	client.Initialize(ctx, serverIDs)
	return client
}

func (s *Scheduler) iterationContextFn() func(context.Context) (context.Context, context.CancelFunc) {
	if s.IterationTimeout <= 0 {
		return nil
	}
	d := s.IterationTimeout
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, d)
	}
}

// RunSession resolves session's chain and walks it from stage 0 (spec.md
// §4.8). alert is the decoded alert_data payload threaded through
// ChainContext.ProcessingAlert. mcpSelection is the optional per-alert MCP
// override (spec.md §3 ChainContext.mcp).
func (s *Scheduler) RunSession(ctx context.Context, session *models.AlertSession, alert map[string]any, mcpSelection *models.MCPSelectionConfig) {
	chain, err := s.Config.ChainRegistry.Get(session.ChainID)
	if err != nil {
		s.failSession(ctx, session.SessionID, fmt.Sprintf("chain %q not found: %v", session.ChainID, err))
		return
	}
	if len(chain.Stages) == 0 {
		s.failSession(ctx, session.SessionID, fmt.Sprintf("chain %q has no stages", session.ChainID))
		return
	}

	cc := models.NewChainContext(session.SessionID, alert)
	cc.MCP = mcpSelection

	s.runChain(ctx, session, chain, cc, 0)
}

// ResumeAfterParallel continues a chain after a paused parallel stage was
// retroactively resolved to `completed` by parallel.Executor.CancelAgent's
// ANY-policy satisfaction (spec.md §4.7 "Chain continuation after a
// resumed parallel stage", §4.8, §8 invariant 12). The caller rebuilds cc
// from the session's persisted stage_outputs before calling this.
func (s *Scheduler) ResumeAfterParallel(ctx context.Context, session *models.AlertSession, cc *models.ChainContext, fromStageIndex int) {
	chain, err := s.Config.ChainRegistry.Get(session.ChainID)
	if err != nil {
		s.failSession(ctx, session.SessionID, fmt.Sprintf("chain %q not found: %v", session.ChainID, err))
		return
	}
	s.runChain(ctx, session, chain, cc, fromStageIndex)
}

// runChain is the shared sequential stage loop for both a fresh run and a
// resume (spec.md §4.8 "For each stage").
func (s *Scheduler) runChain(ctx context.Context, session *models.AlertSession, chain *config.ChainConfig, cc *models.ChainContext, startIndex int) {
	serverIDs := collectServerIDs(chain)
	client := s.mcpClient(ctx, serverIDs)

	for idx := startIndex; idx < len(chain.Stages); idx++ {
		stageCfg := chain.Stages[idx]
		cc.CurrentStageName = stageCfg.Name

		var outcome stageOutcome
		if isParallelStage(stageCfg) {
			outcome = s.executeParallelStage(ctx, session, chain, cc, client, stageCfg, idx)
		} else {
			outcome = s.executeSingleStage(ctx, session, chain, cc, client, stageCfg, idx)
		}

		switch outcome.status {
		case models.ExecutionCompleted:
			cc.AppendStageOutput(stageCfg.Name, outcome.output)
			continue

		case models.ExecutionPaused:
			s.Store.UpdateSessionProgress(ctx, session.SessionID, idx, stageCfg.Name)
			s.Store.UpdateSessionStatus(ctx, session.SessionID, models.SessionPaused, "", "")
			s.Pub.PublishSessionStatus(ctx, events.SessionStatusChangePayload{
				SessionID: session.SessionID, Status: string(models.SessionPaused),
			})
			return

		default: // failed, timed_out, cancelled
			s.finalizeFailedChain(ctx, session, outcome)
			return
		}
	}

	finalAnalysis := extractFinalAnalysis(cc)
	s.Store.UpdateSessionStatus(ctx, session.SessionID, models.SessionCompleted, "", finalAnalysis)
	s.Pub.PublishSessionStatus(ctx, events.SessionStatusChangePayload{
		SessionID: session.SessionID, Status: string(models.SessionCompleted), FinalAnalysis: finalAnalysis,
	})
	s.Cancel.Clear(session.SessionID)
	s.recordSessionOutcome(session, models.SessionCompleted)
}

// recordSessionOutcome observes the session's terminal status and wall time
// against the shared metrics collector, a no-op when Metrics is nil.
func (s *Scheduler) recordSessionOutcome(session *models.AlertSession, status models.SessionStatus) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.SessionsTotal.WithLabelValues(string(status)).Inc()
	elapsed := time.Duration(nowUs()-session.StartedAtUs) * time.Microsecond
	s.Metrics.SessionDuration.WithLabelValues(session.AlertType).Observe(elapsed.Seconds())
}

// finalizeFailedChain classifies the session's terminal status from the
// one stage that stopped forward progress (spec.md §4.8 "stop; classify
// the session... and aggregate error messages"; §4.7 "session-vs-stage
// status divergence on cancellation").
func (s *Scheduler) finalizeFailedChain(ctx context.Context, session *models.AlertSession, outcome stageOutcome) {
	sessionStatus := executionStatusToSessionStatus(outcome.status)
	if outcome.status == models.ExecutionFailed && outcome.allNonSuccessCancelled {
		sessionStatus = models.SessionCancelled
	}

	msg := FormatChainError([]StageFailure{outcome.failure})

	s.Store.UpdateSessionStatus(ctx, session.SessionID, sessionStatus, msg, "")
	switch sessionStatus {
	case models.SessionCancelled:
		s.Pub.PublishSessionCancelled(ctx, session.SessionID, "user_cancel")
	default:
		s.Pub.PublishSessionFailed(ctx, session.SessionID, msg)
	}
	s.Pub.PublishSessionStatus(ctx, events.SessionStatusChangePayload{
		SessionID: session.SessionID, Status: string(sessionStatus), ErrorMessage: msg,
	})
	s.Cancel.Clear(session.SessionID)
	s.recordSessionOutcome(session, sessionStatus)
}

func (s *Scheduler) failSession(ctx context.Context, sessionID, msg string) {
	s.Store.UpdateSessionStatus(ctx, sessionID, models.SessionFailed, msg, "")
	s.Pub.PublishSessionFailed(ctx, sessionID, msg)
	s.Pub.PublishSessionStatus(ctx, events.SessionStatusChangePayload{
		SessionID: sessionID, Status: string(models.SessionFailed), ErrorMessage: msg,
	})
	if s.Metrics != nil {
		s.Metrics.SessionsTotal.WithLabelValues(string(models.SessionFailed)).Inc()
	}
}

func executionStatusToSessionStatus(s models.ExecutionStatus) models.SessionStatus {
	switch s {
	case models.ExecutionTimedOut:
		return models.SessionTimedOut
	case models.ExecutionCancelled:
		return models.SessionCancelled
	default:
		return models.SessionFailed
	}
}

// extractFinalAnalysis pulls the session's closing narrative from the last
// stage's output: a single agent's summary, or a parallel stage's
// synthesis summary (falling back to its first successful child).
func extractFinalAnalysis(cc *models.ChainContext) string {
	entries := cc.StageOutputs()
	if len(entries) == 0 {
		return ""
	}
	last := entries[len(entries)-1].Value
	switch {
	case last.Single != nil:
		return last.Single.ResultSummary
	case last.Parallel != nil:
		if last.Parallel.SynthesisSummary != "" {
			return last.Parallel.SynthesisSummary
		}
		for _, r := range last.Parallel.Results {
			if r.Status == models.ExecutionCompleted && r.ResultSummary != "" {
				return r.ResultSummary
			}
		}
	}
	return ""
}

func collectServerIDs(chain *config.ChainConfig) []string {
	seen := map[string]bool{}
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	for _, stage := range chain.Stages {
		add(stage.MCPServers)
	}
	return out
}

// buildMessages composes the initial conversation for one (sub-)agent,
// choosing the chat-stage prompt when the chain context marks this a
// chat-context stage (spec.md §3, §4.5).
func (s *Scheduler) buildMessages(agentCfg *config.AgentConfig, cc *models.ChainContext, toolNames []string) []models.ConversationMessage {
	if cc.ChatContext != nil {
		return s.Prompts.BuildChat(agentCfg, cc)
	}
	return s.Prompts.BuildInvestigation(agentCfg, cc, toolNames)
}

func listToolNames(ctx context.Context, d *mcptool.Dispatcher) []string {
	tools, err := d.ListTools(ctx)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

// newControllerConfig builds the controller.Config common to single
// and (indirectly, via ChildSpec) parallel executions.
func (s *Scheduler) newControllerConfig(sessionID, stageExecutionID string, agent *resolvedAgent, dispatcher *mcptool.Dispatcher, messages []models.ConversationMessage, chatContext bool, hooksMgr *hooks.Manager, tracker *cancel.Tracker, newIterCtx func(context.Context) (context.Context, context.CancelFunc)) controller.Config {
	return controller.Config{
		SessionID:                sessionID,
		StageExecutionID:         stageExecutionID,
		AgentName:                agent.displayName,
		ProviderName:             agent.providerName,
		Provider:                 agent.provider,
		Strategy:                 agent.strategy,
		Dispatcher:               dispatcher,
		Hooks:                    hooksMgr,
		Cancel:                   tracker,
		InitialMessages:          messages,
		MaxIterations:            agent.maxIterations,
		ForceConclusionAtMaxIter: agent.forceConclusionAtMaxIter,
		ChatContext:              chatContext,
		NewIterationContext:      newIterCtx,
		Metrics:                  s.Metrics,
		Streaming:                s.Streaming,
		Emitter:                  s.Pub,
	}
}
