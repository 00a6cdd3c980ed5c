package hooks

import "github.com/tarsy-run/tarsy/pkg/models"

// Manager is the process-wide singleton binding together the three
// interaction-type registries (spec.md §4.1, §5: "process-wide singleton,
// read-mostly after startup").
// Stage hooks operate on *models.StageExecution (not a value type, unlike
// the other three registries): spec.md §4.2 requires the create-path hook
// to "accept the returned execution_id" back into the caller's row, which
// is only observable if the hook mutates the caller's own value.
type Manager struct {
	LLM      *Registry[models.LLMInteraction]
	MCPCall  *Registry[models.MCPInteraction] // communication_type=tool_call
	MCPList  *Registry[models.MCPInteraction] // communication_type=tool_list
	Stage    *Registry[*models.StageExecution]
}

// NewManager creates a Manager with empty registries. Hooks are registered
// onto it by the hook registry (registry.go) during startup wiring.
func NewManager() *Manager {
	return &Manager{
		LLM:     NewRegistry[models.LLMInteraction](),
		MCPCall: NewRegistry[models.MCPInteraction](),
		MCPList: NewRegistry[models.MCPInteraction](),
		Stage:   NewRegistry[*models.StageExecution](),
	}
}
