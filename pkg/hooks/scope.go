package hooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// nowUs returns the current time in microseconds since epoch — the sole
// chronological ordering key for mixed LLM/tool events (spec.md §5).
func nowUs() int64 { return time.Now().UnixMicro() }

// LLMScope frames one LLM interaction: entry stamps the start time, and the
// caller ends it with CompleteSuccess or CompleteError, either of which
// fires the LLM hook registry; only the first of those calls records
// anything (spec.md §4.1).
type LLMScope struct {
	mgr         *Manager
	template    models.LLMInteraction
	closed      bool
}

// NewLLMScope opens a scope for one LLM call. sessionID/stageExecutionID/
// provider/model/stepDescription/conversation seed the template recorded on
// both success and error paths.
func (m *Manager) NewLLMScope(sessionID, stageExecutionID, provider, model, stepDescription string, conversation []models.ConversationMessage) *LLMScope {
	return &LLMScope{
		mgr: m,
		template: models.LLMInteraction{
			InteractionID:    uuid.New().String(),
			SessionID:        sessionID,
			StageExecutionID: stageExecutionID,
			RequestID:        uuid.New().String()[:8],
			Provider:         provider,
			ModelName:        model,
			Conversation:     TruncateConversation(conversation),
			TimestampUs:      nowUs(),
			StartTimeUs:      nowUs(),
			StepDescription:  stepDescription,
			InteractionType:  models.InteractionNormal,
		},
	}
}

// WithInteractionType overrides the recorded interaction type (e.g. for a
// forced-conclusion call, spec.md §4.5 / §8 invariant 11).
func (s *LLMScope) WithInteractionType(t models.InteractionType) *LLMScope {
	s.template.InteractionType = t
	return s
}

// CompleteSuccess records a successful LLM call and fires the LLM hook
// registry. Must be called at most once per scope, before the function that
// opened the scope returns.
func (s *LLMScope) CompleteSuccess(ctx context.Context, responseConversation []models.ConversationMessage, usage *models.TokenUsage) map[string]bool {
	if s.closed {
		return nil
	}
	s.closed = true

	end := nowUs()
	interaction := s.template
	interaction.Conversation = TruncateConversation(responseConversation)
	interaction.EndTimeUs = end
	interaction.DurationMs = (end - interaction.StartTimeUs) / 1000
	interaction.Success = true
	interaction.TokenUsage = usage

	return s.mgr.LLM.Trigger(ctx, interaction)
}

// CompleteError records a failed LLM call and fires the LLM hook registry.
// The caller must still propagate/re-raise the error — hooks never suppress
// exceptions (spec.md §4.1).
func (s *LLMScope) CompleteError(ctx context.Context, err error) map[string]bool {
	if s.closed {
		return nil
	}
	s.closed = true

	end := nowUs()
	interaction := s.template
	interaction.EndTimeUs = end
	interaction.DurationMs = (end - interaction.StartTimeUs) / 1000
	interaction.Success = false
	interaction.ErrorMessage = err.Error()

	return s.mgr.LLM.Trigger(ctx, interaction)
}

// MCPCallScope frames one tool_call interaction (spec.md §4.1, §4.6).
type MCPCallScope struct {
	mgr      *Manager
	template models.MCPInteraction
	closed   bool
}

// NewMCPCallScope opens a scope for one tool invocation.
func (m *Manager) NewMCPCallScope(sessionID, stageExecutionID, serverName, toolName, arguments, stepDescription string) *MCPCallScope {
	return &MCPCallScope{
		mgr: m,
		template: models.MCPInteraction{
			InteractionID:     uuid.New().String(),
			SessionID:         sessionID,
			StageExecutionID:  stageExecutionID,
			RequestID:         uuid.New().String()[:8],
			ServerName:        serverName,
			CommunicationType: models.CommunicationToolCall,
			ToolName:          toolName,
			ToolArguments:     arguments,
			StartTimeUs:       nowUs(),
			StepDescription:   stepDescription,
		},
	}
}

// CompleteSuccess records a successful tool call.
func (s *MCPCallScope) CompleteSuccess(ctx context.Context, result string) map[string]bool {
	if s.closed {
		return nil
	}
	s.closed = true

	end := nowUs()
	interaction := s.template
	interaction.ToolResult = result
	interaction.EndTimeUs = end
	interaction.DurationMs = (end - interaction.StartTimeUs) / 1000
	interaction.Success = true

	return s.mgr.MCPCall.Trigger(ctx, interaction)
}

// CompleteError records a failed tool call.
func (s *MCPCallScope) CompleteError(ctx context.Context, err error) map[string]bool {
	if s.closed {
		return nil
	}
	s.closed = true

	end := nowUs()
	interaction := s.template
	interaction.EndTimeUs = end
	interaction.DurationMs = (end - interaction.StartTimeUs) / 1000
	interaction.Success = false
	interaction.ErrorMessage = err.Error()

	return s.mgr.MCPCall.Trigger(ctx, interaction)
}

// MCPListScope frames one tool_list interaction (spec.md §4.1, §4.6).
type MCPListScope struct {
	mgr      *Manager
	template models.MCPInteraction
	closed   bool
}

// NewMCPListScope opens a scope for one tool-listing call.
func (m *Manager) NewMCPListScope(sessionID, stageExecutionID, serverName, stepDescription string) *MCPListScope {
	return &MCPListScope{
		mgr: m,
		template: models.MCPInteraction{
			InteractionID:     uuid.New().String(),
			SessionID:         sessionID,
			StageExecutionID:  stageExecutionID,
			RequestID:         uuid.New().String()[:8],
			ServerName:        serverName,
			CommunicationType: models.CommunicationToolList,
			StartTimeUs:       nowUs(),
			StepDescription:   stepDescription,
		},
	}
}

// CompleteSuccess records a successful tool-list call.
func (s *MCPListScope) CompleteSuccess(ctx context.Context, availableTools []string) map[string]bool {
	if s.closed {
		return nil
	}
	s.closed = true

	end := nowUs()
	interaction := s.template
	interaction.AvailableTools = availableTools
	interaction.EndTimeUs = end
	interaction.DurationMs = (end - interaction.StartTimeUs) / 1000
	interaction.Success = true

	return s.mgr.MCPList.Trigger(ctx, interaction)
}

// CompleteError records a failed tool-list call.
func (s *MCPListScope) CompleteError(ctx context.Context, err error) map[string]bool {
	if s.closed {
		return nil
	}
	s.closed = true

	end := nowUs()
	interaction := s.template
	interaction.EndTimeUs = end
	interaction.DurationMs = (end - interaction.StartTimeUs) / 1000
	interaction.Success = false
	interaction.ErrorMessage = err.Error()

	return s.mgr.MCPList.Trigger(ctx, interaction)
}

// FireStageHook fires the stage-execution hook registry for the given row.
// Unlike the LLM/MCP scopes, the caller builds or mutates the StageExecution
// entirely outside this call (spec.md §4.1: "the caller builds or mutates a
// StageExecution outside, then enters the scope"). Hook implementations
// decide create-vs-update via row.IsNew() (spec.md §4.2); on the create
// path the generated ExecutionID is written back onto row so the caller
// can read it immediately after this call returns.
//
// Stage hooks run via TriggerOrdered, not Trigger: the persisting hook
// writes row.ExecutionID/row fields that the broadcast hook then reads, and
// both hooks share the same *StageExecution, so they must not run
// concurrently (registration order in Bind puts history before broadcast).
func (m *Manager) FireStageHook(ctx context.Context, row *models.StageExecution) map[string]bool {
	return m.Stage.TriggerOrdered(ctx, row)
}
