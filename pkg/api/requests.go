package api

import "github.com/tarsy-run/tarsy/pkg/models"

// alertSubmission is the decoded form of spec.md §6's alert submission
// payload: `{ alert_type, data, runbook?, severity?, timestamp?, mcp? }`.
type alertSubmission struct {
	AlertType string                     `json:"alert_type" binding:"required"`
	Data      map[string]any             `json:"data"`
	Runbook   string                     `json:"runbook,omitempty"`
	Severity  string                     `json:"severity,omitempty"`
	Timestamp *int64                     `json:"timestamp,omitempty"`
	MCP       *models.MCPSelectionConfig `json:"mcp,omitempty"`
}

// cancelAgentRequest is the decoded form of the cancel-agent payload:
// `{ child_execution_id }` (spec.md §4.7).
type cancelAgentRequest struct {
	ChildExecutionID string `json:"child_execution_id" binding:"required"`
}
