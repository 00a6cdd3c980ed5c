package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validateAll runs struct-tag validation (go-playground/validator/v10, the
// teacher's validation library) over every loaded entity, then the
// cross-reference checks spec.md §6 names: an agent referencing an
// unknown MCP server is rejected at load time, and agent/server names
// must not collide with built-ins.
func validateAll(cfg *Config) error {
	v := validator.New()

	for name, a := range cfg.AgentRegistry.GetAll() {
		if err := v.Struct(a); err != nil {
			return newValidationError("agent", name, "", err)
		}
		if builtinAgentNames[name] {
			return newValidationError("agent", name, "", fmt.Errorf("%w: %s", ErrNameCollision, name))
		}
		for _, serverID := range a.MCPServers {
			if !cfg.MCPServerRegistry.Has(serverID) {
				return newValidationError("agent", name, "mcp_servers", fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID))
			}
		}
	}

	for id, s := range cfg.MCPServerRegistry.GetAll() {
		if err := v.Struct(s); err != nil {
			return newValidationError("mcp_server", id, "", err)
		}
		if builtinMCPServerIDs[id] {
			return newValidationError("mcp_server", id, "", fmt.Errorf("%w: %s", ErrNameCollision, id))
		}
	}

	for id, c := range cfg.ChainRegistry.GetAll() {
		if err := v.Struct(c); err != nil {
			return newValidationError("chain", id, "", err)
		}
		for _, stage := range c.Stages {
			for _, agentRef := range stage.Agents {
				if !cfg.AgentRegistry.Has(agentRef.Name) {
					return newValidationError("chain", id, "stages.agents", fmt.Errorf("%w: %s", ErrAgentNotFound, agentRef.Name))
				}
			}
			for _, serverID := range stage.MCPServers {
				if !cfg.MCPServerRegistry.Has(serverID) {
					return newValidationError("chain", id, "stages.mcp_servers", fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID))
				}
			}
			if stage.Synthesis != nil && !cfg.AgentRegistry.Has(stage.Synthesis.Agent) {
				return newValidationError("chain", id, "stages.synthesis.agent", fmt.Errorf("%w: %s", ErrAgentNotFound, stage.Synthesis.Agent))
			}
		}
	}

	for name, p := range cfg.LLMProviderRegistry.GetAll() {
		if err := v.Struct(p); err != nil {
			return newValidationError("llm_provider", name, "", err)
		}
	}

	return nil
}
