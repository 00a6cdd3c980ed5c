package controller

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// ReAct implements the ReAct iteration strategy (spec.md §4.5): one
// assistant message per iteration is parsed into thought/action/
// action_input/final_answer. Grounded on the teacher's
// pkg/agent/controller/react_parser.go line-oriented Thought:/Action:/
// Action Input:/Final Answer: convention.
type ReAct struct{}

var (
	reFinalAnswer  = regexp.MustCompile(`(?is)Final Answer:\s*(.*)`)
	reAction       = regexp.MustCompile(`(?im)^Action:\s*(\S+)\s*$`)
	reActionInput  = regexp.MustCompile(`(?is)Action Input:\s*(\{.*?\})\s*(?:$|Observation:)`)
)

func (ReAct) Name() string { return "react" }

// ParseResponse extracts a final answer or a single action+input from one
// ReAct-formatted assistant message (spec.md §4.5 "ReAct" bullet).
func (ReAct) ParseResponse(resp llm.Response) (answer string, toolCalls []llm.ToolCall, isComplete bool) {
	if m := reFinalAnswer.FindStringSubmatch(resp.Content); m != nil {
		return strings.TrimSpace(m[1]), nil, true
	}

	actionMatch := reAction.FindStringSubmatch(resp.Content)
	if actionMatch == nil {
		// No action and no final answer: nothing to dispatch this
		// iteration; the loop goes on until the iteration budget runs out.
		return "", nil, false
	}

	action := strings.TrimSpace(actionMatch[1])
	args := parseActionInput(resp.Content)
	return "", []llm.ToolCall{{ID: action, ToolName: action, Arguments: args}}, false
}

func (ReAct) ForcedConclusionPrompt() models.ConversationMessage {
	return models.ConversationMessage{
		Role: models.RoleUser,
		Content: "You have reached the maximum number of iterations. Based on everything " +
			"gathered so far, provide your Final Answer now without taking any further actions.",
	}
}

func (ReAct) ToolResultMessage(results []mcptool.ToolResult) models.ConversationMessage {
	var b strings.Builder
	for _, r := range results {
		if r.IsError {
			fmt.Fprintf(&b, "Observation (%s): error: %s\n", r.Name, r.Content)
		} else {
			fmt.Fprintf(&b, "Observation (%s): %s\n", r.Name, r.Content)
		}
	}
	return models.ConversationMessage{Role: models.RoleUser, Content: b.String()}
}

// parseActionInput extracts the JSON-ish object following "Action Input:".
// Intentionally permissive: a malformed or missing block yields nil
// arguments rather than failing the iteration — the tool dispatcher's
// execution-time validation (spec.md §4.6) catches the rest.
func parseActionInput(content string) map[string]any {
	m := reActionInput.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	return decodeLooseJSONObject(m[1])
}
