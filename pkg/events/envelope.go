// Package events defines the broadcast envelope taxonomy (spec.md §6) and
// a Publisher that routes typed envelopes to the three channel kinds
// (dashboard_updates, system_health, session_{id}).
//
// Grounded on the teacher's pkg/events/publisher.go: typed public methods
// per envelope kind, each marshaling a payload and routing it to a
// channel name derived from the session id. The teacher persists every
// event via pg_notify inside a Postgres transaction; this module has no
// message bus of its own, so Publisher hands envelopes directly to the
// broadcast fabric (C4) instead of round-tripping through the database.
package events

// Kind enumerates spec.md §6's envelope taxonomy.
type Kind string

const (
	KindLLMInteraction      Kind = "llm_interaction"
	KindMCPInteraction      Kind = "mcp_interaction"
	KindMCPToolList         Kind = "mcp_tool_list"
	KindSessionStatusChange Kind = "session_status_change"
	KindStageStarted        Kind = "stage.started"
	KindStageCompleted      Kind = "stage.completed"
	KindAgentCancelled      Kind = "agent.cancelled"
	KindSessionResumed      Kind = "session.resumed"
	KindSessionCancelled    Kind = "session.cancelled"
	KindSessionFailed       Kind = "session.failed"
	KindSystemHealth        Kind = "system_health"
	KindDashboardUpdate     Kind = "dashboard_update"
	KindMessageBatch        Kind = "message_batch"
	KindLLMChunk            Kind = "llm_chunk"
)

// Envelope is the wire shape broadcast on every channel (spec.md §6).
type Envelope struct {
	Type        Kind   `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	TimestampUs int64  `json:"timestamp_us"`
	Payload     any    `json:"payload"`
}

// Channel names (spec.md §6).
const (
	ChannelDashboardUpdates = "dashboard_updates"
	ChannelSystemHealth     = "system_health"
)

// SessionChannel is the per-session channel name.
func SessionChannel(sessionID string) string {
	return "session_" + sessionID
}

// SystemHealthPayload is KindSystemHealth's payload.
type SystemHealthPayload struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// SessionStatusChangePayload is KindSessionStatusChange's payload.
type SessionStatusChangePayload struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	FinalAnalysis string `json:"final_analysis,omitempty"`
}

// StageEventPayload backs stage.started / stage.completed.
type StageEventPayload struct {
	SessionID   string `json:"session_id"`
	ExecutionID string `json:"execution_id"`
	StageName   string `json:"stage_name"`
	StageIndex  int    `json:"stage_index"`
	Status      string `json:"status"`
}

// AgentCancelledPayload backs agent.cancelled.
type AgentCancelledPayload struct {
	SessionID   string `json:"session_id"`
	ExecutionID string `json:"execution_id"`
	Cause       string `json:"cause"`
}

// LLMChunkPayload backs llm_chunk (spec.md §6 enable_llm_streaming):
// marker is "intermediate_response" for every chunk as it streams, and
// "final_answer" for exactly one synthetic chunk sent once the provider's
// stream closes.
type LLMChunkPayload struct {
	StageExecutionID string         `json:"stage_execution_id"`
	Marker           string         `json:"marker"`
	ChunkKind        string         `json:"chunk_kind,omitempty"`
	Delta            string         `json:"delta,omitempty"`
	ToolCall         *ToolCallChunk `json:"tool_call,omitempty"`
}

// ToolCallChunk is LLMChunkPayload's tool-call shape, decoupled from
// package llm's ToolCall so events does not import llm.
type ToolCallChunk struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
