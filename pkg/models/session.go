// Package models defines the durable data shapes of a Tarsy session:
// sessions, stage executions, LLM/tool interactions, and the in-memory
// chain context threaded across a chain run. See spec.md §3.
package models

// SessionStatus is the lifecycle state of an AlertSession.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionPaused     SessionStatus = "paused"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionTimedOut   SessionStatus = "timed_out"
	SessionCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether status is one of the terminal statuses.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionTimedOut, SessionCancelled:
		return true
	default:
		return false
	}
}

// AlertSession represents one alert being processed end-to-end (spec.md §3).
type AlertSession struct {
	SessionID        string
	AlertID          string
	AlertType        string
	AgentType        string
	AlertData        []byte
	Status           SessionStatus
	StartedAtUs      int64
	CompletedAtUs    *int64
	ErrorMessage     string
	FinalAnalysis    string
	ChainID          string
	ChainDefinition  []byte // captured snapshot, opaque encoding (e.g. YAML/JSON)
	CurrentStageIdx  *int
	CurrentStageID   string
}
