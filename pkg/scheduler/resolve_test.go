package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/controller"
	"github.com/tarsy-run/tarsy/pkg/llm"
)

type stubProvider struct{ name string }

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Response, error) {
	return llm.Response{}, nil
}
func (p *stubProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, <-chan error) {
	return nil, nil
}
func (p *stubProvider) MaxToolResultTokens() int { return 1000 }

func testScheduler(t *testing.T, agents map[string]*config.AgentConfig, providers map[string]llm.Provider, defaultProvider string) *Scheduler {
	t.Helper()
	cfg := &config.Config{AgentRegistry: config.NewAgentRegistry(agents)}
	return &Scheduler{Config: cfg, Providers: providers, DefaultProvider: defaultProvider}
}

func TestResolveAgent_StageOverridesWinOverAgentDefaults(t *testing.T) {
	maxIter := 5
	agents := map[string]*config.AgentConfig{
		"kubernetes-agent": {
			IterationStrategy: "react",
			MCPServers:        []string{"kubernetes"},
			LLMProvider:       "agent-default",
			MaxIterations:     &maxIter,
		},
	}
	providers := map[string]llm.Provider{
		"agent-default": &stubProvider{name: "agent-default"},
		"stage-override": &stubProvider{name: "stage-override"},
	}
	s := testScheduler(t, agents, providers, "agent-default")

	stageMax := 8
	stage := config.StageConfig{
		Name:              "diagnose",
		IterationStrategy: "native_thinking",
		LLMProvider:       "stage-override",
		MaxIterations:     &stageMax,
		MCPServers:        []string{"runbooks"},
	}
	chain := &config.ChainConfig{}

	resolved, err := s.resolveAgent(chain, stage, "kubernetes-agent", "kubernetes-agent")
	require.NoError(t, err)

	assert.Equal(t, controller.NativeThinking{}, resolved.strategy)
	assert.Equal(t, "stage-override", resolved.providerName)
	assert.Equal(t, 8, resolved.maxIterations)
	assert.Equal(t, []string{"runbooks"}, resolved.mcpServers)
}

func TestResolveAgent_FallsBackToAgentDefaultsWhenStageOmits(t *testing.T) {
	agents := map[string]*config.AgentConfig{
		"kubernetes-agent": {
			IterationStrategy: "react",
			MCPServers:        []string{"kubernetes"},
			LLMProvider:       "agent-default",
		},
	}
	providers := map[string]llm.Provider{"agent-default": &stubProvider{name: "agent-default"}}
	s := testScheduler(t, agents, providers, "agent-default")

	stage := config.StageConfig{Name: "diagnose"}
	chain := &config.ChainConfig{}

	resolved, err := s.resolveAgent(chain, stage, "kubernetes-agent", "kubernetes-agent")
	require.NoError(t, err)

	assert.Equal(t, controller.ReAct{}, resolved.strategy)
	assert.Equal(t, "agent-default", resolved.providerName)
	assert.Equal(t, defaultMaxIterations, resolved.maxIterations)
	assert.Equal(t, []string{"kubernetes"}, resolved.mcpServers)
}

func TestResolveAgent_ChainProviderFallsBetweenStageAndAgent(t *testing.T) {
	agents := map[string]*config.AgentConfig{
		"kubernetes-agent": {IterationStrategy: "react", LLMProvider: "agent-default"},
	}
	providers := map[string]llm.Provider{"chain-default": &stubProvider{name: "chain-default"}}
	s := testScheduler(t, agents, providers, "global-default")

	stage := config.StageConfig{Name: "diagnose"}
	chain := &config.ChainConfig{LLMProvider: "chain-default"}

	resolved, err := s.resolveAgent(chain, stage, "kubernetes-agent", "kubernetes-agent")
	require.NoError(t, err)
	assert.Equal(t, "chain-default", resolved.providerName)
}

func TestResolveProvider_EmptyNameUsesGlobalDefault(t *testing.T) {
	providers := map[string]llm.Provider{"global-default": &stubProvider{name: "global-default"}}
	s := testScheduler(t, nil, providers, "global-default")

	p, err := s.resolveProvider("")
	require.NoError(t, err)
	assert.Equal(t, "global-default", p.Name())
}

func TestResolveProvider_UnavailableYieldsSpecificMessage(t *testing.T) {
	s := testScheduler(t, nil, map[string]llm.Provider{}, "global-default")

	_, err := s.resolveProvider("missing-provider")
	require.Error(t, err)
	assert.Equal(t, "missing-provider client not available", err.Error())
}

func TestResolveAgent_UnknownStrategyErrors(t *testing.T) {
	agents := map[string]*config.AgentConfig{
		"weird-agent": {IterationStrategy: "bogus"},
	}
	s := testScheduler(t, agents, map[string]llm.Provider{}, "")

	_, err := s.resolveAgent(&config.ChainConfig{}, config.StageConfig{Name: "s"}, "weird-agent", "weird-agent")
	require.Error(t, err)
}

func TestIsParallelStage(t *testing.T) {
	assert.False(t, isParallelStage(config.StageConfig{Agents: []config.StageAgentConfig{{Name: "a"}}}))
	assert.True(t, isParallelStage(config.StageConfig{Agents: []config.StageAgentConfig{{Name: "a"}, {Name: "b"}}}))
	assert.True(t, isParallelStage(config.StageConfig{Agents: []config.StageAgentConfig{{Name: "a"}}, Replicas: 3}))
}
