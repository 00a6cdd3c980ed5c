// Package controller implements the agent iteration controller (spec.md
// §4.5, component C5): the ReAct / native-thinking reasoning loop that
// drives one agent's LLM and tool calls to a conclusion, with iteration
// budgets, forced conclusion, timeout, and cancellation.
//
// Grounded on the teacher's pkg/agent/controller/{react,native_thinking,
// iterating}.go: the per-iteration context.WithTimeout, the
// forced-conclusion prompt-and-record pattern, and the same-provider-reuse
// rule (spec.md §4.5: "every LLM call within one iteration loop uses the
// same provider, including the forced-conclusion call"). spec.md §9 maps
// the source's exceptions-for-control-flow (SessionPaused, cancellation)
// onto a result variant: Outcome.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/metrics"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// tracer instruments one agent's reasoning loop. Grounded on the
// goadesign-goa-ai example's runtime/agent/runtime/model_tracing.go
// tracedClient, which wraps every model.Client.Complete call in a
// "model.complete" client span carrying the model id as an attribute.
var tracer = otel.Tracer("github.com/tarsy-run/tarsy/pkg/controller")

// Strategy is one iteration strategy: ReAct (text-parsed thought/action/
// final_answer) or native-thinking (structured tool calls). spec.md §4.5.
type Strategy interface {
	// Name identifies the strategy for logging and for the recorded
	// step_description on LLM interactions.
	Name() string

	// ParseResponse extracts the loop's control signal from one LLM
	// response: either a final answer (isComplete=true) or tool calls to
	// dispatch next.
	ParseResponse(resp llm.Response) (answer string, toolCalls []llm.ToolCall, isComplete bool)

	// ForcedConclusionPrompt builds the strategy-specific message appended
	// to the conversation for the one extra forced-conclusion call
	// (spec.md §4.5).
	ForcedConclusionPrompt() models.ConversationMessage

	// ToolResultMessage formats a dispatched tool's result as the next
	// message fed back into the conversation.
	ToolResultMessage(results []mcptool.ToolResult) models.ConversationMessage
}

// fallbackConclusion is returned as the forced-conclusion answer when that
// call itself times out or errors (spec.md §4.5: "a non-empty fallback
// summary... so the chain can make progress").
const fallbackConclusion = "unable to conclude within iteration budget"

// Config configures one Run of the iteration controller. Provider is the
// concrete provider every LLM call of the Run uses and must not be nil; the
// caller resolves the global default before building Config. ProviderName
// (used only for logging/recording) is carried separately and is empty
// when the agent named no provider, so that "global default" sentinel is
// kept rather than replaced by a provider name.
type Config struct {
	SessionID        string
	StageExecutionID string
	AgentName        string
	ProviderName     string // "" means "global default" (spec.md §4.5)

	Provider   llm.Provider
	Strategy   Strategy
	Dispatcher *mcptool.Dispatcher
	Hooks      *hooks.Manager
	Cancel     *cancel.Tracker

	InitialMessages []models.ConversationMessage

	MaxIterations            int
	ForceConclusionAtMaxIter bool
	ChatContext              bool // chain_context.chat_context is set (spec.md §4.5)

	// NewIterationContext wraps ctx with the per-call timeout from settings
	// (llm_iteration_timeout, spec.md §6). Defaults to an un-timed-out
	// child context when nil (e.g. in tests).
	NewIterationContext func(ctx context.Context) (context.Context, context.CancelFunc)

	// Metrics records LLM call latency and token usage. Nil disables
	// recording.
	Metrics *metrics.Metrics

	// Streaming gates enable_llm_streaming (spec.md §6). When true and
	// Emitter is set, every LLM call in the loop goes through
	// Provider.Stream instead of Provider.Complete, with Emitter notified
	// of each chunk as it arrives.
	Streaming bool
	Emitter   llm.StreamEmitter
}

// Outcome is the agent's result (spec.md §9: AgentOutcome variant replacing
// exceptions-for-control-flow).
type Outcome struct {
	Status       models.ExecutionStatus
	Answer       string
	Iteration    int // set when Status == ExecutionPaused
	Cause        cancel.Cause
	Err          error
	Conversation []models.ConversationMessage
	TokenUsage   models.TokenUsage
}

// Controller runs one agent's reasoning loop (spec.md §4.5, component C5).
type Controller struct {
	cfg Config
}

// New constructs a Controller for one Run.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// complete issues one LLM call, wrapping it in a client span and observing
// its latency (spec.md §9 ambient observability). iteration is 0 for the
// forced-conclusion call.
func (c *Controller) complete(ctx context.Context, messages []llm.Message, toolSpecs []llm.ToolSpec, iteration int) (llm.Response, error) {
	cfg := c.cfg
	ctx, span := tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("tarsy.provider", providerModel(cfg.Provider)),
		attribute.Int("tarsy.iteration", iteration),
	))
	defer span.End()

	start := time.Now()
	var resp llm.Response
	var err error
	if cfg.Streaming && cfg.Emitter != nil {
		resp, err = c.streamComplete(ctx, messages, toolSpecs)
		if errors.Is(err, llm.ErrStreamingUnsupported) {
			resp, err = cfg.Provider.Complete(ctx, messages, toolSpecs)
		}
	} else {
		resp, err = cfg.Provider.Complete(ctx, messages, toolSpecs)
	}

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if cfg.Metrics != nil {
		metrics.ObserveSeconds(cfg.Metrics.LLMRequestDuration.WithLabelValues(cfg.ProviderName, status), start)
	}
	if err == nil && cfg.Metrics != nil {
		cfg.Metrics.LLMTokensTotal.WithLabelValues(cfg.ProviderName, "input").Add(float64(resp.InputTokens))
		cfg.Metrics.LLMTokensTotal.WithLabelValues(cfg.ProviderName, "output").Add(float64(resp.OutputTokens))
	}
	return resp, err
}

// streamComplete drains cfg.Provider.Stream, forwarding every chunk to
// cfg.Emitter as it arrives and assembling the typed chunks back into one
// llm.Response the rest of the loop can treat exactly like a Complete
// result. Thinking chunks are surfaced to the emitter but, matching
// translateMessage's handling of Complete's response blocks, are not
// folded into Response.Content. Token usage is not available per-chunk
// from StreamChunk, so a streamed Response's InputTokens/OutputTokens
// stay zero; metrics recorded for streamed calls under-count tokens by
// design until the provider surfaces a usage chunk.
func (c *Controller) streamComplete(ctx context.Context, messages []llm.Message, toolSpecs []llm.ToolSpec) (llm.Response, error) {
	cfg := c.cfg
	chunks, errs := cfg.Provider.Stream(ctx, messages, toolSpecs)

	var resp llm.Response
	for chunk := range chunks {
		cfg.Emitter.EmitChunk(ctx, cfg.SessionID, cfg.StageExecutionID, "intermediate_response", chunk)
		switch chunk.Kind {
		case llm.ChunkResponse:
			resp.Content += chunk.Delta
		case llm.ChunkFunctionCall:
			if chunk.Call != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.Call)
			}
		}
	}

	if err := <-errs; err != nil {
		return llm.Response{}, err
	}

	resp.IsComplete = len(resp.ToolCalls) == 0
	cfg.Emitter.EmitChunk(ctx, cfg.SessionID, cfg.StageExecutionID, "final_answer", llm.StreamChunk{Kind: llm.ChunkResponse, Delta: resp.Content})
	return resp, nil
}

// Run drives the loop until a final answer, a paused budget exhaustion, a
// cancellation, or an unrecoverable LLM failure.
func (c *Controller) Run(ctx context.Context) Outcome {
	cfg := c.cfg
	conversation := append([]models.ConversationMessage{}, cfg.InitialMessages...)
	totalUsage := models.TokenUsage{}

	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("tarsy.agent_name", cfg.AgentName),
		attribute.String("tarsy.strategy", cfg.Strategy.Name()),
	))
	defer span.End()

	tools, err := cfg.Dispatcher.ListTools(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{Status: models.ExecutionFailed, Err: err, Conversation: conversation}
	}
	toolSpecs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		toolSpecs = append(toolSpecs, llm.ToolSpec{Name: t.Name, Description: t.Description})
	}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		iterCtx, iterCancel := cfg.iterationContext(ctx)

		scope := cfg.Hooks.NewLLMScope(cfg.SessionID, cfg.StageExecutionID, cfg.ProviderName, providerModel(cfg.Provider), cfg.Strategy.Name(), conversation)
		resp, callErr := c.complete(iterCtx, toLLMMessages(conversation), toolSpecs, iteration)
		iterErr := iterCtx.Err()
		iterCancel()

		if callErr != nil {
			scope.CompleteError(ctx, callErr)
			if errors.Is(iterErr, context.DeadlineExceeded) || errors.Is(iterErr, context.Canceled) {
				cause := cancel.ClassifyContextError(cfg.Cancel, cfg.SessionID, iterErr)
				span.SetStatus(codes.Error, "cancelled")
				return Outcome{Status: causeToStatus(cause), Cause: cause, Conversation: conversation, TokenUsage: totalUsage}
			}
			span.RecordError(callErr)
			span.SetStatus(codes.Error, callErr.Error())
			return Outcome{Status: models.ExecutionFailed, Err: callErr, Conversation: conversation, TokenUsage: totalUsage}
		}

		totalUsage.InputTokens += resp.InputTokens
		totalUsage.OutputTokens += resp.OutputTokens
		totalUsage.TotalTokens += resp.InputTokens + resp.OutputTokens

		assistantMsg := models.ConversationMessage{Role: models.RoleAssistant, Content: resp.Content}
		conversation = append(conversation, assistantMsg)
		scope.CompleteSuccess(ctx, conversation, &totalUsage)

		answer, toolCalls, isComplete := cfg.Strategy.ParseResponse(resp)
		if isComplete {
			return Outcome{Status: models.ExecutionCompleted, Answer: answer, Conversation: conversation, TokenUsage: totalUsage}
		}

		results := make([]mcptool.ToolResult, 0, len(toolCalls))
		for _, tc := range toolCalls {
			results = append(results, cfg.Dispatcher.Dispatch(ctx, mcptool.ToolCall{ID: tc.ID, Name: tc.ToolName, Arguments: tc.Arguments}))
		}
		if len(results) > 0 {
			conversation = append(conversation, cfg.Strategy.ToolResultMessage(results))
		}
	}

	// Iteration budget exhausted without a final answer.
	if cfg.ForceConclusionAtMaxIter || cfg.ChatContext {
		return c.forceConclusion(ctx, conversation, totalUsage, toolSpecs)
	}

	return Outcome{Status: models.ExecutionPaused, Iteration: cfg.MaxIterations, Conversation: conversation, TokenUsage: totalUsage}
}

// forceConclusion issues the one additional "forced conclusion" LLM call
// (spec.md §4.5) using the same provider as the loop. A failure or timeout
// of this call yields a non-empty fallback summary rather than propagating
// the error, so the chain can still make progress.
func (c *Controller) forceConclusion(ctx context.Context, conversation []models.ConversationMessage, usage models.TokenUsage, toolSpecs []llm.ToolSpec) Outcome {
	cfg := c.cfg
	conversation = append(conversation, cfg.Strategy.ForcedConclusionPrompt())

	iterCtx, iterCancel := cfg.iterationContext(ctx)
	defer iterCancel()

	scope := cfg.Hooks.NewLLMScope(cfg.SessionID, cfg.StageExecutionID, cfg.ProviderName, providerModel(cfg.Provider), cfg.Strategy.Name(), conversation).
		WithInteractionType(models.InteractionForcedConclusion)

	resp, err := c.complete(iterCtx, toLLMMessages(conversation), toolSpecs, 0)
	if err != nil {
		scope.CompleteError(ctx, err)
		slog.Warn("forced conclusion call failed, falling back", "session_id", cfg.SessionID, "error", err)
		return Outcome{Status: models.ExecutionCompleted, Answer: fallbackConclusion, Conversation: conversation, TokenUsage: usage}
	}

	usage.InputTokens += resp.InputTokens
	usage.OutputTokens += resp.OutputTokens
	usage.TotalTokens += resp.InputTokens + resp.OutputTokens

	conversation = append(conversation, models.ConversationMessage{Role: models.RoleAssistant, Content: resp.Content})
	scope.CompleteSuccess(ctx, conversation, &usage)

	answer := resp.Content
	if answer == "" {
		answer = fallbackConclusion
	}
	return Outcome{Status: models.ExecutionCompleted, Answer: answer, Conversation: conversation, TokenUsage: usage}
}

func (cfg Config) iterationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg.NewIterationContext != nil {
		return cfg.NewIterationContext(ctx)
	}
	return context.WithCancel(ctx)
}

func causeToStatus(cause cancel.Cause) models.ExecutionStatus {
	if cause == cancel.CauseTimeout {
		return models.ExecutionTimedOut
	}
	return models.ExecutionCancelled
}

func toLLMMessages(conv []models.ConversationMessage) []llm.Message {
	out := make([]llm.Message, len(conv))
	for i, m := range conv {
		out[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func providerModel(p llm.Provider) string {
	if p == nil {
		return ""
	}
	return p.Name()
}
