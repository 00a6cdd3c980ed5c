package models

// MCPServerSelection is one server entry in a per-alert MCP override
// (spec.md §3 ChainContext.mcp, §4.6).
type MCPServerSelection struct {
	Name  string   `json:"name" yaml:"name"`
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// MCPSelectionConfig narrows the servers/tools an agent is allowed to use
// for one alert. A nil *MCPSelectionConfig means "use the agent's defaults".
type MCPSelectionConfig struct {
	Servers []MCPServerSelection `json:"servers" yaml:"servers"`
}

// ServerNames returns the selected server names, in order.
func (c *MCPSelectionConfig) ServerNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		names = append(names, s.Name)
	}
	return names
}

// ToolsFor returns the tool filter for the given server name, and whether
// one was configured at all ("ok=false" means "no filter: allow all tools").
func (c *MCPSelectionConfig) ToolsFor(serverName string) (tools []string, ok bool) {
	if c == nil {
		return nil, false
	}
	for _, s := range c.Servers {
		if s.Name == serverName {
			return s.Tools, len(s.Tools) > 0
		}
	}
	return nil, false
}
