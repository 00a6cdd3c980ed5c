package api

import (
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// alertResponse is returned by POST /api/v1/alerts.
type alertResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// cancelAgentResponse is returned by POST
// /api/v1/alerts/sessions/{session_id}/cancel-agent.
type cancelAgentResponse struct {
	SessionStatus string `json:"session_status"`
}

// pagination mirrors spec.md §6's list-endpoint pagination block.
type pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// sessionListResponse is returned by GET /api/v1/history/sessions.
type sessionListResponse struct {
	Sessions   []models.AlertSession `json:"sessions"`
	Pagination pagination            `json:"pagination"`
}

func paginationFrom(p history.Page) pagination {
	return pagination{Page: p.Page, PageSize: p.PageSize, TotalPages: p.TotalPages, TotalItems: p.TotalItems}
}

// sessionDetailResponse is returned by GET /api/v1/history/sessions/{id}
// (spec.md §6: "session detail + chronological_timeline + summary").
type sessionDetailResponse struct {
	Session               *models.AlertSession    `json:"session"`
	Stages                []models.StageExecution `json:"stages"`
	ChronologicalTimeline []models.TimelineEvent  `json:"chronological_timeline"`
	Summary               sessionSummary          `json:"summary"`
}

// sessionSummary is the detail endpoint's compact counters, derived from
// the same stage/interaction rows rather than persisted separately.
type sessionSummary struct {
	StageCount          int    `json:"stage_count"`
	LLMInteractionCount int    `json:"llm_interaction_count"`
	MCPInteractionCount int    `json:"mcp_interaction_count"`
	Status              string `json:"status"`
}

// historyHealthResponse is returned by GET /api/v1/history/health
// (spec.md §6: "{ service, status, timestamp, details }").
type historyHealthResponse struct {
	Service     string               `json:"service"`
	Status      history.HealthStatus `json:"status"`
	TimestampUs int64                `json:"timestamp_us"`
	Details     string               `json:"details,omitempty"`
}

// errorResponse is the uniform JSON error body for every 4xx/5xx response.
type errorResponse struct {
	Error string `json:"error"`
}
