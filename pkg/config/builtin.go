package config

// builtinAgentNames and builtinMCPServerIDs are the identifiers reserved
// by built-in agent classes / MCP servers (spec.md §6: "agent names must
// not collide with built-in agent class names; MCP server ids must not
// collide with built-in server ids"). The teacher ships real built-in
// agents/servers compiled in (pkg/config/builtin.go); this module has no
// compiled-in agent catalogue, so the reserved set is the handful of
// iteration-strategy-selecting base names a future built-in agent would
// use.
var builtinAgentNames = map[string]bool{
	"ReActAgent":          true,
	"NativeThinkingAgent": true,
}

var builtinMCPServerIDs = map[string]bool{
	"kubernetes-server": true,
}
