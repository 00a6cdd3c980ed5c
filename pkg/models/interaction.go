package models

// ConversationRole is the role of one message in an LLM conversation.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// ConversationMessage is one message in an LLMInteraction.Conversation.
type ConversationMessage struct {
	Role    ConversationRole
	Content string
}

// InteractionType distinguishes a normal LLM call from a forced-conclusion
// call or other variants (spec.md §3).
type InteractionType string

const (
	InteractionNormal           InteractionType = "normal"
	InteractionForcedConclusion InteractionType = "forced_conclusion"
)

// TokenUsage reports token consumption for one LLM call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// LLMInteraction is one recorded LLM call (spec.md §3).
type LLMInteraction struct {
	InteractionID     string
	SessionID         string
	StageExecutionID  string
	RequestID         string
	Provider          string
	ModelName         string
	Conversation      []ConversationMessage
	TimestampUs       int64
	StartTimeUs       int64
	EndTimeUs         int64
	DurationMs        int64
	Success           bool
	ErrorMessage      string
	TokenUsage        *TokenUsage
	StepDescription   string
	InteractionType   InteractionType
}

// CommunicationType distinguishes a tool call from a tool-list request.
type CommunicationType string

const (
	CommunicationToolCall CommunicationType = "tool_call"
	CommunicationToolList CommunicationType = "tool_list"
)

// MCPInteraction is one recorded tool-server operation (spec.md §3).
type MCPInteraction struct {
	InteractionID     string
	SessionID         string
	StageExecutionID  string
	RequestID         string
	ServerName        string
	CommunicationType CommunicationType
	ToolName          string
	ToolArguments     string
	ToolResult        string
	AvailableTools    []string
	StartTimeUs       int64
	EndTimeUs         int64
	DurationMs        int64
	Success           bool
	ErrorMessage      string
	StepDescription   string
}
