package models

// StageStatus is the lifecycle state of a StageExecution row.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StagePaused    StageStatus = "paused"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageTimedOut  StageStatus = "timed_out"
	StageCancelled StageStatus = "cancelled"
	StagePartial   StageStatus = "partial"
)

// IsTerminal reports whether status is terminal per spec.md §3 invariant (b).
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageTimedOut, StageCancelled, StagePartial:
		return true
	default:
		return false
	}
}

// StageExecution is one row per attempt to run one stage for one session.
// Parent rows of parallel stages never run an agent themselves; children
// carry ParentStageExecutionID. See spec.md §3.
type StageExecution struct {
	ExecutionID             string
	SessionID               string
	ParentStageExecutionID  *string
	StageName               string
	StageIndex              int
	StageID                 string
	Agent                   string
	Status                  StageStatus
	StartedAtUs             *int64
	CompletedAtUs           *int64
	PausedAtUs              *int64
	DurationMs              *int64
	ErrorMessage            string
	StageOutput             []byte // opaque; parent rows store aggregation metadata here
}

// IsNew reports whether this row has never been persisted (spec.md §4.1/4.2:
// "started_at_us is None" is how hooks distinguish create-vs-update).
func (s *StageExecution) IsNew() bool {
	return s.StartedAtUs == nil
}

// RecomputeDuration fills DurationMs from StartedAtUs/CompletedAtUs per
// spec.md §3 invariant (c): duration_ms = (completed - started) / 1000.
func (s *StageExecution) RecomputeDuration() {
	if s.StartedAtUs == nil || s.CompletedAtUs == nil {
		return
	}
	d := (*s.CompletedAtUs - *s.StartedAtUs) / 1000
	s.DurationMs = &d
}
