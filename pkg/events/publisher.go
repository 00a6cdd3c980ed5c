package events

import (
	"context"
	"time"

	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// Sink is whatever can deliver an Envelope on a named channel — satisfied
// by *broadcast.Hub. Defined here (not in package broadcast) so events
// does not import broadcast, keeping the dependency edge one-directional:
// broadcast depends on events for the envelope shapes, not the reverse.
type Sink interface {
	Publish(channel string, env Envelope)
}

// Publisher routes typed envelopes to the channels named in spec.md §6,
// mirroring the teacher's EventPublisher's typed-method-per-kind shape.
type Publisher struct {
	sink Sink
}

// NewPublisher wraps a Sink (normally a *broadcast.Hub).
func NewPublisher(sink Sink) *Publisher {
	return &Publisher{sink: sink}
}

func nowUs() int64 { return time.Now().UnixMicro() }

// PublishLLMInteraction sends the interaction to its session channel.
func (p *Publisher) PublishLLMInteraction(ctx context.Context, i models.LLMInteraction) {
	p.sink.Publish(SessionChannel(i.SessionID), Envelope{
		Type: KindLLMInteraction, SessionID: i.SessionID, TimestampUs: nowUs(), Payload: i,
	})
}

// PublishMCPInteraction sends the interaction to its session channel.
func (p *Publisher) PublishMCPInteraction(ctx context.Context, i models.MCPInteraction) {
	p.sink.Publish(SessionChannel(i.SessionID), Envelope{
		Type: KindMCPInteraction, SessionID: i.SessionID, TimestampUs: nowUs(), Payload: i,
	})
}

// PublishMCPToolList sends a tool-listing envelope to the session channel.
func (p *Publisher) PublishMCPToolList(ctx context.Context, sessionID string, tools []string) {
	p.sink.Publish(SessionChannel(sessionID), Envelope{
		Type: KindMCPToolList, SessionID: sessionID, TimestampUs: nowUs(),
		Payload: map[string]any{"tools": tools},
	})
}

// PublishSessionStatus mirrors the teacher's PublishSessionStatus: it
// notifies both the session-specific channel and the fleet-wide dashboard
// channel, so per-session viewers and the session-list page both update.
func (p *Publisher) PublishSessionStatus(ctx context.Context, payload SessionStatusChangePayload) {
	env := Envelope{Type: KindSessionStatusChange, SessionID: payload.SessionID, TimestampUs: nowUs(), Payload: payload}
	p.sink.Publish(SessionChannel(payload.SessionID), env)
	p.sink.Publish(ChannelDashboardUpdates, env)
}

// PublishStageStarted/PublishStageCompleted notify the session channel of
// a stage lifecycle transition.
func (p *Publisher) PublishStageStarted(ctx context.Context, payload StageEventPayload) {
	payload.Status = "started"
	p.sink.Publish(SessionChannel(payload.SessionID), Envelope{
		Type: KindStageStarted, SessionID: payload.SessionID, TimestampUs: nowUs(), Payload: payload,
	})
}

func (p *Publisher) PublishStageCompleted(ctx context.Context, payload StageEventPayload) {
	p.sink.Publish(SessionChannel(payload.SessionID), Envelope{
		Type: KindStageCompleted, SessionID: payload.SessionID, TimestampUs: nowUs(), Payload: payload,
	})
}

// PublishAgentCancelled notifies the session channel a single parallel
// agent execution was cancelled (spec.md §4.7's per-agent cancel_agent).
func (p *Publisher) PublishAgentCancelled(ctx context.Context, payload AgentCancelledPayload) {
	p.sink.Publish(SessionChannel(payload.SessionID), Envelope{
		Type: KindAgentCancelled, SessionID: payload.SessionID, TimestampUs: nowUs(), Payload: payload,
	})
}

// PublishSessionResumed/Cancelled/Failed notify both channels, same
// dual-broadcast shape as PublishSessionStatus.
func (p *Publisher) PublishSessionResumed(ctx context.Context, sessionID string) {
	p.dualPublish(KindSessionResumed, sessionID, nil)
}

func (p *Publisher) PublishSessionCancelled(ctx context.Context, sessionID, cause string) {
	p.dualPublish(KindSessionCancelled, sessionID, map[string]any{"cause": cause})
}

func (p *Publisher) PublishSessionFailed(ctx context.Context, sessionID, errorMessage string) {
	p.dualPublish(KindSessionFailed, sessionID, map[string]any{"error_message": errorMessage})
}

func (p *Publisher) dualPublish(kind Kind, sessionID string, payload any) {
	env := Envelope{Type: kind, SessionID: sessionID, TimestampUs: nowUs(), Payload: payload}
	p.sink.Publish(SessionChannel(sessionID), env)
	p.sink.Publish(ChannelDashboardUpdates, env)
}

// EmitChunk implements llm.StreamEmitter, letting a *Publisher be handed
// directly to controller.Config.Emitter: every streamed chunk becomes one
// llm_chunk envelope on the session channel (spec.md §6
// enable_llm_streaming).
func (p *Publisher) EmitChunk(ctx context.Context, sessionID, stageExecutionID, marker string, chunk llm.StreamChunk) {
	payload := LLMChunkPayload{
		StageExecutionID: stageExecutionID,
		Marker:           marker,
		ChunkKind:        string(chunk.Kind),
		Delta:            chunk.Delta,
	}
	if chunk.Call != nil {
		payload.ToolCall = &ToolCallChunk{ID: chunk.Call.ID, ToolName: chunk.Call.ToolName, Arguments: chunk.Call.Arguments}
	}
	p.sink.Publish(SessionChannel(sessionID), Envelope{
		Type: KindLLMChunk, SessionID: sessionID, TimestampUs: nowUs(), Payload: payload,
	})
}

// PublishSystemHealth notifies the fleet-wide system_health channel.
func (p *Publisher) PublishSystemHealth(ctx context.Context, payload SystemHealthPayload) {
	p.sink.Publish(ChannelSystemHealth, Envelope{
		Type: KindSystemHealth, TimestampUs: nowUs(), Payload: payload,
	})
}

// PublishDashboardUpdate notifies the fleet-wide dashboard channel of an
// arbitrary metrics/lifecycle payload.
func (p *Publisher) PublishDashboardUpdate(ctx context.Context, payload any) {
	p.sink.Publish(ChannelDashboardUpdates, Envelope{
		Type: KindDashboardUpdate, TimestampUs: nowUs(), Payload: payload,
	})
}
