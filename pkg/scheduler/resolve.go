package scheduler

import (
	"fmt"

	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/controller"
	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
)

const defaultMaxIterations = 10

// resolvedAgent is one agent's execution configuration, fully resolved
// from the chain -> stage -> agent config hierarchy (spec.md §3
// ChainDefinition "single"/"parallel" stage shapes, §4.5 "LLM provider
// selection").
type resolvedAgent struct {
	agentName                string
	displayName              string
	providerName             string // "" means "use global default" (spec.md §4.5) — never resolved to a string
	provider                 llm.Provider
	strategy                 controller.Strategy
	maxIterations            int
	forceConclusionAtMaxIter bool
	mcpServers               []string
	agentCfg                 *config.AgentConfig
}

// resolveStrategy maps the resolved iteration_strategy string to a
// controller.Strategy implementation.
func resolveStrategy(name string) (controller.Strategy, error) {
	switch name {
	case "", "react":
		return controller.ReAct{}, nil
	case "native_thinking":
		return controller.NativeThinking{}, nil
	default:
		return nil, fmt.Errorf("scheduler: unknown iteration strategy %q", name)
	}
}

// resolveAgent resolves one named agent's execution configuration for a
// given chain+stage, applying the per-stage overrides spec.md §4.8's
// "single" StageConfig and ChildSpec both allow.
func (s *Scheduler) resolveAgent(chain *config.ChainConfig, stage config.StageConfig, agentName, displayName string) (*resolvedAgent, error) {
	agentCfg, err := s.Config.AgentRegistry.Get(agentName)
	if err != nil {
		return nil, fmt.Errorf("scheduler: resolve agent %q: %w", agentName, err)
	}

	strategyName := stage.IterationStrategy
	if strategyName == "" {
		strategyName = agentCfg.IterationStrategy
	}
	strategy, err := resolveStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	providerName := stage.LLMProvider
	if providerName == "" {
		providerName = chain.LLMProvider
	}
	if providerName == "" {
		providerName = agentCfg.LLMProvider
	}

	provider, err := s.resolveProvider(providerName)
	if err != nil {
		return nil, err
	}

	maxIterations := defaultMaxIterations
	if agentCfg.MaxIterations != nil {
		maxIterations = *agentCfg.MaxIterations
	}
	if stage.MaxIterations != nil {
		maxIterations = *stage.MaxIterations
	}

	servers := agentCfg.MCPServers
	if len(stage.MCPServers) > 0 {
		servers = stage.MCPServers
	}

	return &resolvedAgent{
		agentName:                agentName,
		displayName:              displayName,
		providerName:             providerName,
		provider:                 provider,
		strategy:                 strategy,
		maxIterations:            maxIterations,
		forceConclusionAtMaxIter: stage.ForceConclusionAtMaxIterations,
		mcpServers:               servers,
		agentCfg:                 agentCfg,
	}, nil
}

// resolveProvider looks up a provider by name, falling back to the
// Scheduler's configured default when name is empty (spec.md §4.5: "None
// means use global default"). The returned Provider is always concrete;
// only ProviderName (kept separately by the caller) carries the "" sentinel
// forward for recording/logging.
func (s *Scheduler) resolveProvider(name string) (llm.Provider, error) {
	lookup := name
	if lookup == "" {
		lookup = s.DefaultProvider
	}
	provider, ok := s.Providers[lookup]
	if !ok {
		return nil, fmt.Errorf("%s client not available", lookup)
	}
	return provider, nil
}

// buildDispatcherFor returns a ChildSpec/controller-ready dispatcher
// builder closure for one resolved agent, binding the per-alert MCP
// selection override (spec.md §4.6) for this session.
func (s *Scheduler) buildDispatcherFor(sessionID string, mcpClient *mcptool.Client, agent *resolvedAgent, selection *models.MCPSelectionConfig) func(string) (*mcptool.Dispatcher, error) {
	return func(stageExecutionID string) (*mcptool.Dispatcher, error) {
		d, err := mcptool.NewDispatcher(mcpClient, s.Hooks, sessionID, stageExecutionID, agent.mcpServers, selection)
		if err != nil {
			return nil, err
		}
		d.Metrics = s.Metrics
		return d, nil
	}
}

// isParallelStage reports whether stage fans out to more than one agent
// execution (spec.md §3 ChainDefinition: "exactly one of agent, agents, or
// (agent ∧ replicas>1) identifies the execution shape").
func isParallelStage(stage config.StageConfig) bool {
	return len(stage.Agents) > 1 || stage.Replicas > 1
}

func parallelTypeOf(stage config.StageConfig) models.ParallelType {
	if stage.Replicas > 1 {
		return models.ParallelReplica
	}
	return models.ParallelMultiAgent
}

func successPolicyOf(stage config.StageConfig) models.SuccessPolicy {
	if stage.SuccessPolicy == "" {
		return models.PolicyAll
	}
	return stage.SuccessPolicy
}
