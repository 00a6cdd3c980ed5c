package models

import "sort"

// TimelineEventKind distinguishes the two interaction kinds that merge into
// a session's chronological timeline (spec.md §6).
type TimelineEventKind string

const (
	TimelineLLM TimelineEventKind = "llm_interaction"
	TimelineMCP TimelineEventKind = "mcp_interaction"
)

// TimelineEvent is one merged entry in a session's chronological_timeline.
type TimelineEvent struct {
	Kind        TimelineEventKind
	TimestampUs int64
	LLM         *LLMInteraction
	MCP         *MCPInteraction
}

// BuildChronologicalTimeline merges LLM and tool interactions ordered by
// microsecond timestamp — the only chronological ordering key across mixed
// event types (spec.md §5).
func BuildChronologicalTimeline(llm []LLMInteraction, mcp []MCPInteraction) []TimelineEvent {
	events := make([]TimelineEvent, 0, len(llm)+len(mcp))
	for i := range llm {
		events = append(events, TimelineEvent{Kind: TimelineLLM, TimestampUs: llm[i].TimestampUs, LLM: &llm[i]})
	}
	for i := range mcp {
		events = append(events, TimelineEvent{Kind: TimelineMCP, TimestampUs: mcp[i].StartTimeUs, MCP: &mcp[i]})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampUs < events[j].TimestampUs
	})
	return events
}
