package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// tarsyYAML is the three-top-level-map document spec.md §6 names.
type tarsyYAML struct {
	Agents      map[string]AgentConfig     `yaml:"agents"`
	MCPServers  map[string]MCPServerConfig `yaml:"mcp_servers"`
	AgentChains map[string]ChainConfig     `yaml:"agent_chains"`
}

type llmProvidersYAML struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Config is the fully loaded, validated, ready-to-use configuration
// (teacher's pkg/config.Config, trimmed to this module's scope).
type Config struct {
	AgentRegistry       *AgentRegistry
	ChainRegistry       *ChainRegistry
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Load reads tarsy.yaml and llm-providers.yaml from configDir, expands
// environment variables, parses, and validates, mirroring the teacher's
// Initialize → load → validate two-phase loader.
func Load(configDir string) (*Config, error) {
	var doc tarsyYAML
	if err := loadYAMLFile(configDir, "tarsy.yaml", &doc); err != nil {
		return nil, &LoadError{File: "tarsy.yaml", Err: err}
	}

	var providersDoc llmProvidersYAML
	if err := loadYAMLFile(configDir, "llm-providers.yaml", &providersDoc); err != nil {
		return nil, &LoadError{File: "llm-providers.yaml", Err: err}
	}

	agents := make(map[string]*AgentConfig, len(doc.Agents))
	for k, v := range doc.Agents {
		v := v
		agents[k] = &v
	}
	servers := make(map[string]*MCPServerConfig, len(doc.MCPServers))
	for k, v := range doc.MCPServers {
		v := v
		servers[k] = &v
	}
	chains := make(map[string]*ChainConfig, len(doc.AgentChains))
	for k, v := range doc.AgentChains {
		v := v
		chains[k] = &v
	}
	providers := make(map[string]*LLMProviderConfig, len(providersDoc.LLMProviders))
	for k, v := range providersDoc.LLMProviders {
		v := v
		if v.MaxToolResultTokens == 0 {
			v.MaxToolResultTokens = defaultMaxToolResultTokens[v.Type]
		}
		providers[k] = &v
	}

	cfg := &Config{
		AgentRegistry:       NewAgentRegistry(agents),
		ChainRegistry:       NewChainRegistry(chains),
		MCPServerRegistry:   NewMCPServerRegistry(servers),
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
	}

	if err := validateAll(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAMLFile(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}
	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// ResolveAPIKey reads and cleans the API key named by a provider's
// api_key_env (spec.md §6: strip surrounding whitespace, whitespace-only
// becomes empty and disables the provider, internal whitespace preserved).
func ResolveAPIKey(p *LLMProviderConfig) string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return CleanAPIKey(os.Getenv(p.APIKeyEnv))
}
