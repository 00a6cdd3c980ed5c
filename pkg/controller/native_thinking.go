package controller

import (
	"strings"

	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// NativeThinking implements the native-thinking iteration strategy
// (spec.md §4.5): the LLM emits thinking segments and structured tool
// calls as first-class response fields (no text parsing); completion is
// signaled by a response with no tool calls. Grounded on the teacher's
// pkg/agent/controller/native_thinking.go and iterating.go loop shape.
type NativeThinking struct{}

func (NativeThinking) Name() string { return "native_thinking" }

func (NativeThinking) ParseResponse(resp llm.Response) (answer string, toolCalls []llm.ToolCall, isComplete bool) {
	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil, true
	}
	return "", resp.ToolCalls, false
}

func (NativeThinking) ForcedConclusionPrompt() models.ConversationMessage {
	return models.ConversationMessage{
		Role: models.RoleUser,
		Content: "The iteration budget has been reached. Summarize your findings and provide a " +
			"final conclusion now; do not request any further tool calls.",
	}
}

func (NativeThinking) ToolResultMessage(results []mcptool.ToolResult) models.ConversationMessage {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.Name)
		b.WriteString(": ")
		if r.IsError {
			b.WriteString("error: ")
		}
		b.WriteString(r.Content)
		b.WriteString("\n")
	}
	return models.ConversationMessage{Role: models.RoleUser, Content: b.String()}
}
