// Package config loads and validates the chain/agent/MCP-server/LLM-provider
// YAML documents described in spec.md §6.
//
// Grounded on the teacher's pkg/config package: per-entity registries with
// defensive-copy Get/GetAll/Has/Len (chain.go, agent.go, mcp.go), sentinel
// + wrapped ValidationError/LoadError (errors.go), go:ExpandEnv-style
// env-var expansion (envexpand.go), and the Initialize-then-validate
// two-phase loader (loader.go). Simplified to this module's single
// tarsy.yaml-equivalent document (spec.md §6: "three top-level maps
// agents, mcp_servers, agent_chains") plus a separate LLM-providers
// document, using go-playground/validator/v10 struct tags the way the
// teacher does.
package config

import "github.com/tarsy-run/tarsy/pkg/models"

// SuccessPolicy mirrors models.SuccessPolicy for YAML decoding (teacher's
// chain.go shape).
type SuccessPolicy = models.SuccessPolicy

// AgentConfig is one entry under the `agents` map (spec.md §6).
type AgentConfig struct {
	IterationStrategy  string            `yaml:"iteration_strategy" validate:"required,oneof=react native_thinking"`
	Description        string            `yaml:"description,omitempty"`
	MCPServers         []string          `yaml:"mcp_servers" validate:"omitempty"`
	CustomInstructions string            `yaml:"custom_instructions,omitempty"`
	LLMProvider        string            `yaml:"llm_provider,omitempty"`
	MaxIterations      *int              `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
}

// StageAgentConfig names one agent participating in a stage (teacher's
// chain.go: "always use array, min 1" even for a single agent).
type StageAgentConfig struct {
	Name string `yaml:"name" validate:"required"`
}

// SynthesisConfig configures the optional synthesis stage after a parallel
// fan-out (spec.md §4.7).
type SynthesisConfig struct {
	Agent string `yaml:"agent" validate:"required"`
}

// StageConfig is one element of a chain's `stages` list. IterationStrategy,
// LLMProvider, ForceConclusionAtMaxIterations, and MaxIterations override
// the per-agent defaults for every agent in this stage when set (spec.md
// §4.8's "single" stage shape: iteration_strategy, llm_provider,
// max_iterations, force_conclusion_at_max_iterations all overridable per
// stage, not just per agent).
type StageConfig struct {
	Name                          string             `yaml:"name" validate:"required"`
	Agents                        []StageAgentConfig `yaml:"agents" validate:"required,min=1,dive"`
	Replicas                      int                `yaml:"replicas,omitempty" validate:"omitempty,min=1"`
	SuccessPolicy                 SuccessPolicy      `yaml:"success_policy,omitempty"`
	IterationStrategy             string             `yaml:"iteration_strategy,omitempty" validate:"omitempty,oneof=react native_thinking"`
	LLMProvider                   string             `yaml:"llm_provider,omitempty"`
	MaxIterations                 *int               `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	ForceConclusionAtMaxIterations bool              `yaml:"force_conclusion_at_max_iterations,omitempty"`
	MCPServers                    []string           `yaml:"mcp_servers,omitempty"`
	Synthesis                     *SynthesisConfig   `yaml:"synthesis,omitempty"`
}

// ChainConfig is one entry under the `agent_chains` map.
type ChainConfig struct {
	AlertTypes  []string      `yaml:"alert_types" validate:"required,min=1"`
	Description string        `yaml:"description,omitempty"`
	Stages      []StageConfig `yaml:"stages" validate:"required,min=1,dive"`
	LLMProvider string        `yaml:"llm_provider,omitempty"`
}

// TransportConfig describes how to reach an MCP server (spec.md §4.6
// treats the concrete wire transport as out of scope; this only carries
// enough for the dispatcher to pick a modelcontextprotocol/go-sdk client).
type TransportConfig struct {
	Type    string            `yaml:"type" validate:"required,oneof=stdio http"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// MCPServerConfig is one entry under the `mcp_servers` map.
type MCPServerConfig struct {
	Transport    TransportConfig `yaml:"transport" validate:"required"`
	Instructions string          `yaml:"instructions,omitempty"`
}

// LLMProviderConfig is one entry in the llm-providers document (spec.md
// §6: "type, model, api_key_env, max_tool_result_tokens").
type LLMProviderConfig struct {
	Type                string `yaml:"type" validate:"required,oneof=openai anthropic google vertexai xai"`
	Model               string `yaml:"model" validate:"required"`
	APIKeyEnv           string `yaml:"api_key_env,omitempty"`
	MaxToolResultTokens int    `yaml:"max_tool_result_tokens,omitempty"`
}

// defaultMaxToolResultTokens is spec.md §6's per-provider-type default,
// applied when a provider document omits max_tool_result_tokens.
var defaultMaxToolResultTokens = map[string]int{
	"openai":   250_000,
	"google":   950_000,
	"anthropic": 150_000,
	"vertexai": 150_000,
	"xai":      200_000,
}
