// Package prompt composes the initial conversation handed to an iteration
// controller for one stage (spec.md §3 ChainContext, §4.5/§4.7). Grounded
// on the teacher's pkg/agent/prompt.PromptBuilder: a stateless composer
// taking an agent's instructions and the chain's accumulated context,
// producing a system + user message pair. Simplified to this module's
// scope — no MCP-summarization or executive-summary prompts, since those
// concerns are out of spec.md's Non-goals-adjacent scope.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/models"
)

const generalInstructions = "You are an SRE investigation agent triaging a production alert. " +
	"Use the tools available to you to gather evidence before concluding."

const chatInstructions = "You are answering a follow-up question about a completed investigation. " +
	"The prior investigation's findings are given as context."

const synthesisInstructions = "You are combining the independent findings of several investigation " +
	"agents that ran in parallel into a single coherent conclusion."

// Builder composes stage conversations. Stateless.
type Builder struct{}

// NewBuilder constructs a Builder.
func NewBuilder() *Builder { return &Builder{} }

// BuildInvestigation composes the system+user messages for a normal
// (non-chat, non-synthesis) stage (spec.md §4.5/§4.7 "InitialMessages").
func (b *Builder) BuildInvestigation(agentCfg *config.AgentConfig, cc *models.ChainContext, toolNames []string) []models.ConversationMessage {
	system := composeInstructions(generalInstructions, agentCfg)
	var sb strings.Builder
	if len(toolNames) > 0 {
		sb.WriteString("Available tools: ")
		sb.WriteString(strings.Join(toolNames, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString(formatAlert(cc))
	sb.WriteString(formatPriorStageOutputs(cc))

	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: sb.String()},
	}
}

// BuildChat composes the system+user messages for a chat-context stage
// (chain_context.chat_context is set, spec.md §3/§4.5).
func (b *Builder) BuildChat(agentCfg *config.AgentConfig, cc *models.ChainContext) []models.ConversationMessage {
	system := composeInstructions(chatInstructions, agentCfg)
	var sb strings.Builder
	sb.WriteString(formatPriorStageOutputs(cc))
	if q, ok := cc.ChatContext["question"].(string); ok {
		sb.WriteString("\nFollow-up question: ")
		sb.WriteString(q)
	}
	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: sb.String()},
	}
}

// BuildSynthesis composes the conversation for the post-fan-out synthesis
// agent (spec.md §4.7). results carries every child's summary regardless of
// status, each labeled, so the synthesis agent can account for failures.
func (b *Builder) BuildSynthesis(agentCfg *config.AgentConfig, results []models.AgentExecutionResult) []models.ConversationMessage {
	system := composeInstructions(synthesisInstructions, agentCfg)
	var sb strings.Builder
	sb.WriteString("Findings from the parallel investigation agents:\n\n")
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("### %s (%s)\n", r.AgentName, r.Status))
		if r.ResultSummary != "" {
			sb.WriteString(r.ResultSummary)
		} else if r.ErrorMessage != "" {
			sb.WriteString("error: " + r.ErrorMessage)
		}
		sb.WriteString("\n\n")
	}
	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: sb.String()},
	}
}

func composeInstructions(base string, agentCfg *config.AgentConfig) string {
	parts := []string{base}
	if agentCfg.Description != "" {
		parts = append(parts, agentCfg.Description)
	}
	if agentCfg.CustomInstructions != "" {
		parts = append(parts, agentCfg.CustomInstructions)
	}
	return strings.Join(parts, "\n\n")
}

func formatAlert(cc *models.ChainContext) string {
	data, err := json.MarshalIndent(cc.ProcessingAlert, "", "  ")
	if err != nil {
		return "Alert data unavailable."
	}
	return "Alert:\n" + string(data) + "\n"
}

func formatPriorStageOutputs(cc *models.ChainContext) string {
	entries := cc.StageOutputs()
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nPrior stage results:\n")
	for _, e := range entries {
		switch {
		case e.Value.Single != nil:
			sb.WriteString(fmt.Sprintf("- %s: %s (%s)\n", e.Key, e.Value.Single.ResultSummary, e.Value.Single.Status))
		case e.Value.Parallel != nil:
			if e.Value.Parallel.SynthesisSummary != "" {
				sb.WriteString(fmt.Sprintf("- %s: %s (%s)\n", e.Key, e.Value.Parallel.SynthesisSummary, e.Value.Parallel.Status))
			} else {
				sb.WriteString(fmt.Sprintf("- %s: parallel stage, %s\n", e.Key, e.Value.Parallel.Status))
			}
		}
	}
	return sb.String()
}
