package models

// ExecutionStatus is the outcome of one agent execution (spec.md §3/§9:
// the exceptions-for-control-flow redesign maps to this result variant).
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// AgentExecutionResult is the value stored in ChainContext.StageOutputs for
// a single (non-parallel) stage, and one entry of a ParallelStageResult.
type AgentExecutionResult struct {
	Status                     ExecutionStatus
	AgentName                  string
	StageName                  string
	TimestampUs                int64
	ResultSummary              string
	ErrorMessage               string
	CompleteConversationHistory []ConversationMessage
}

// ParallelType distinguishes a multi-agent fan-out from a replica fan-out.
type ParallelType string

const (
	ParallelMultiAgent ParallelType = "multi_agent"
	ParallelReplica    ParallelType = "replica"
)

// SuccessPolicy governs how per-child statuses aggregate into a stage
// status for a parallel stage (spec.md §4.7).
type SuccessPolicy string

const (
	PolicyAll SuccessPolicy = "all"
	PolicyAny SuccessPolicy = "any"
)

// AgentExecutionMetadata summarizes one child of a parallel stage for the
// parent's ParallelStageMetadata (spec.md §3).
type AgentExecutionMetadata struct {
	AgentName         string
	LLMProvider       string
	IterationStrategy string
	Status            ExecutionStatus
	ErrorMessage      string
	TokenUsage        *TokenUsage
}

// ParallelStageMetadata carries the bookkeeping a parent StageExecution row
// stores in its StageOutput (spec.md §3).
type ParallelStageMetadata struct {
	ParentStageExecutionID string
	ParallelType           ParallelType
	SuccessPolicy          SuccessPolicy
	StartedAtUs            int64
	CompletedAtUs          int64
	Agents                 []AgentExecutionMetadata
}

// ParallelStageResult is the value stored in ChainContext.StageOutputs for
// a parallel stage (spec.md §3).
type ParallelStageResult struct {
	StageName   string
	Results     []AgentExecutionResult
	Metadata    ParallelStageMetadata
	Status      ExecutionStatus
	TimestampUs int64

	// SynthesisSummary is the synthesis agent's answer when the stage
	// declared a synthesis block and it ran to completion (spec.md §4.7
	// "Synthesis stage"); empty otherwise. The chain scheduler prefers
	// this over the raw per-child Results when composing the next stage's
	// context and the session's final_analysis.
	SynthesisSummary string
}

// StageOutput is either an AgentExecutionResult or a ParallelStageResult.
// Exactly one of the two fields is set.
type StageOutput struct {
	Single   *AgentExecutionResult
	Parallel *ParallelStageResult
}

// stageOutputEntry preserves insertion order for ChainContext.StageOutputs
// (spec.md §3 invariant: "insertion order preserved").
type stageOutputEntry struct {
	key   string
	value StageOutput
}

// ChainContext is the in-memory cumulative state threaded across stages of
// one chain run (spec.md §3). Entries are append-only during a chain run.
type ChainContext struct {
	SessionID         string
	CurrentStageName  string
	ProcessingAlert   map[string]any
	ChatContext       map[string]any // non-nil marks this a chat-context stage
	MCP               *MCPSelectionConfig

	entries []stageOutputEntry
	index   map[string]int
}

// NewChainContext creates an empty ChainContext for a session.
func NewChainContext(sessionID string, alert map[string]any) *ChainContext {
	return &ChainContext{
		SessionID:       sessionID,
		ProcessingAlert: alert,
		index:           make(map[string]int),
	}
}

// AppendStageOutput appends a new stage-key → output entry. Existing keys
// are rejected: stage_outputs is append-only (spec.md §3 invariant).
func (c *ChainContext) AppendStageOutput(key string, output StageOutput) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	if _, exists := c.index[key]; exists {
		return
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, stageOutputEntry{key: key, value: output})
}

// StageOutputs returns stage outputs in insertion order.
func (c *ChainContext) StageOutputs() []struct {
	Key   string
	Value StageOutput
} {
	out := make([]struct {
		Key   string
		Value StageOutput
	}, len(c.entries))
	for i, e := range c.entries {
		out[i] = struct {
			Key   string
			Value StageOutput
		}{Key: e.key, Value: e.value}
	}
	return out
}

// Get looks up a stage output by key.
func (c *ChainContext) Get(key string) (StageOutput, bool) {
	idx, ok := c.index[key]
	if !ok {
		return StageOutput{}, false
	}
	return c.entries[idx].value, true
}
