package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// fakeProvider is a scripted llm.Provider: each call consumes the next
// scripted response (or error) so tests can drive exact iteration
// sequences (spec.md §8 scenarios S1-S3).
type fakeProvider struct {
	name      string
	responses []llm.Response
	errs      []error
	calls     int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Response, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return llm.Response{}, err
	}
	if i >= len(f.responses) {
		return llm.Response{Content: "final", IsComplete: true}, nil
	}
	return f.responses[i], nil
}

func (f *fakeProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, <-chan error) {
	ch := make(chan llm.StreamChunk)
	errc := make(chan error, 1)
	close(ch)
	close(errc)
	return ch, errc
}

func (f *fakeProvider) MaxToolResultTokens() int { return 100000 }

func emptyDispatcher(t *testing.T, mgr *hooks.Manager) *mcptool.Dispatcher {
	t.Helper()
	d, err := mcptool.NewDispatcher(nil, mgr, "sess-1", "exec-1", nil, nil)
	require.NoError(t, err)
	return d
}

func baseConfig(t *testing.T, provider llm.Provider, strat Strategy, maxIter int) Config {
	return Config{
		SessionID:        "sess-1",
		StageExecutionID: "exec-1",
		AgentName:        "KubernetesAgent",
		ProviderName:     provider.Name(),
		Provider:         provider,
		Strategy:         strat,
		Dispatcher:       emptyDispatcher(t, hooks.NewManager()),
		Hooks:            hooks.NewManager(),
		Cancel:           cancel.NewTracker(),
		InitialMessages: []models.ConversationMessage{
			{Role: models.RoleSystem, Content: "you are an agent"},
			{Role: models.RoleUser, Content: "investigate pod p1"},
		},
		MaxIterations: maxIter,
	}
}

// S1-equivalent: ReAct reaches a final answer within budget.
func TestRun_ReAct_FinalAnswer(t *testing.T) {
	provider := &fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Content: "Final Answer: OK"},
		},
	}
	cfg := baseConfig(t, provider, ReAct{}, 3)
	out := New(cfg).Run(context.Background())

	assert.Equal(t, models.ExecutionCompleted, out.Status)
	assert.Equal(t, "OK", out.Answer)
	assert.Equal(t, 1, provider.calls)
}

// S2: budget exhausted, force_conclusion_at_max_iterations=false, no chat
// context => Paused, no extra LLM call.
func TestRun_BudgetExhausted_NoForcedConclusion_Pauses(t *testing.T) {
	provider := &fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Content: "Thought: still working"},
			{Content: "Thought: still working"},
		},
	}
	cfg := baseConfig(t, provider, ReAct{}, 2)
	cfg.ForceConclusionAtMaxIter = false
	cfg.ChatContext = false

	out := New(cfg).Run(context.Background())

	assert.Equal(t, models.ExecutionPaused, out.Status)
	assert.Equal(t, 2, out.Iteration)
	assert.Equal(t, 2, provider.calls)
}

// S3: budget exhausted, force_conclusion_at_max_iterations=true => one
// extra call, same provider, session completed.
func TestRun_BudgetExhausted_ForcedConclusion(t *testing.T) {
	provider := &fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Content: "Thought: still working"},
			{Content: "Thought: still working"},
			{Content: "Here is my conclusion"},
		},
	}
	cfg := baseConfig(t, provider, ReAct{}, 2)
	cfg.ForceConclusionAtMaxIter = true

	out := New(cfg).Run(context.Background())

	assert.Equal(t, models.ExecutionCompleted, out.Status)
	assert.Equal(t, "Here is my conclusion", out.Answer)
	assert.Equal(t, 3, provider.calls)
}

// Forced-conclusion call failure falls back to a non-empty summary rather
// than failing the stage (spec.md §4.5).
func TestRun_ForcedConclusion_FallsBackOnError(t *testing.T) {
	provider := &fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Content: "Thought: still working"},
		},
		errs: []error{nil, errors.New("boom")},
	}
	cfg := baseConfig(t, provider, ReAct{}, 1)
	cfg.ForceConclusionAtMaxIter = true

	out := New(cfg).Run(context.Background())

	assert.Equal(t, models.ExecutionCompleted, out.Status)
	assert.Equal(t, fallbackConclusion, out.Answer)
}

// chat_context stages force a conclusion even when the flag is false.
func TestRun_ChatContext_ForcesConclusionWithoutFlag(t *testing.T) {
	provider := &fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Content: "Thought: still working"},
			{Content: "final chat answer"},
		},
	}
	cfg := baseConfig(t, provider, ReAct{}, 1)
	cfg.ForceConclusionAtMaxIter = false
	cfg.ChatContext = true

	out := New(cfg).Run(context.Background())

	assert.Equal(t, models.ExecutionCompleted, out.Status)
	assert.Equal(t, "final chat answer", out.Answer)
}

// An LLM error that isn't a context cancellation fails the stage.
func TestRun_LLMError_Fails(t *testing.T) {
	provider := &fakeProvider{name: "anthropic", errs: []error{errors.New("provider exploded")}}
	cfg := baseConfig(t, provider, ReAct{}, 3)

	out := New(cfg).Run(context.Background())

	assert.Equal(t, models.ExecutionFailed, out.Status)
	assert.ErrorContains(t, out.Err, "provider exploded")
}

// A cancelled iteration context is classified via the cancellation
// tracker (spec.md §4.4, §8 invariant 11 equivalent for cause).
func TestRun_IterationTimeout_ClassifiedAsTimeout(t *testing.T) {
	provider := &fakeProvider{name: "anthropic"}
	cfg := baseConfig(t, provider, ReAct{}, 3)
	cfg.NewIterationContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, time.Nanosecond)
	}
	// force the provider call itself to observe the deadline.
	provider.errs = []error{context.DeadlineExceeded}

	out := New(cfg).Run(context.Background())

	assert.Equal(t, models.ExecutionTimedOut, out.Status)
	assert.Equal(t, cancel.CauseTimeout, out.Cause)
}

// The forced-conclusion call reuses exactly the configured provider
// instance (spec.md §8 invariant 11).
func TestRun_ForcedConclusion_SameProviderInstance(t *testing.T) {
	provider := &fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Content: "Thought: still working"},
			{Content: "conclusion"},
		},
	}
	cfg := baseConfig(t, provider, ReAct{}, 1)
	cfg.ForceConclusionAtMaxIter = true

	out := New(cfg).Run(context.Background())

	require.Equal(t, models.ExecutionCompleted, out.Status)
	assert.Equal(t, 2, provider.calls) // both calls went through the same fake
}

// streamingProvider streams a scripted sequence of chunks instead of
// returning a single Response; Complete is never expected to be called
// when Config.Streaming is set.
type streamingProvider struct {
	name        string
	chunks      []llm.StreamChunk
	completeHit bool
}

func (p *streamingProvider) Name() string { return p.name }
func (p *streamingProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Response, error) {
	p.completeHit = true
	return llm.Response{Content: "Final Answer: should not be used", IsComplete: true}, nil
}
func (p *streamingProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, <-chan error) {
	ch := make(chan llm.StreamChunk, len(p.chunks))
	errc := make(chan error, 1)
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	close(errc)
	return ch, errc
}
func (p *streamingProvider) MaxToolResultTokens() int { return 100000 }

// recordingEmitter collects every chunk handed to it, along with the
// marker it was published under.
type recordingEmitter struct {
	markers []string
	chunks  []llm.StreamChunk
}

func (e *recordingEmitter) EmitChunk(ctx context.Context, sessionID, stageExecutionID, marker string, chunk llm.StreamChunk) {
	e.markers = append(e.markers, marker)
	e.chunks = append(e.chunks, chunk)
}

// When Streaming is enabled, Run consumes Provider.Stream instead of
// Complete, forwards every chunk to Emitter as intermediate_response, and
// emits exactly one final_answer chunk once the stream closes (spec.md §6
// enable_llm_streaming).
func TestRun_Streaming_UsesStreamNotComplete(t *testing.T) {
	provider := &streamingProvider{
		name: "anthropic",
		chunks: []llm.StreamChunk{
			{Kind: llm.ChunkResponse, Delta: "Final Answer: "},
			{Kind: llm.ChunkResponse, Delta: "OK"},
		},
	}
	emitter := &recordingEmitter{}
	cfg := baseConfig(t, provider, ReAct{}, 3)
	cfg.Streaming = true
	cfg.Emitter = emitter

	out := New(cfg).Run(context.Background())

	require.Equal(t, models.ExecutionCompleted, out.Status)
	assert.Equal(t, "OK", out.Answer)
	assert.False(t, provider.completeHit, "Complete must not be called while streaming succeeds")

	require.Len(t, emitter.markers, 3)
	assert.Equal(t, []string{"intermediate_response", "intermediate_response", "final_answer"}, emitter.markers)
	assert.Equal(t, "Final Answer: OK", emitter.chunks[2].Delta)
}

// unsupportedStreamProvider reports llm.ErrStreamingUnsupported on its
// error channel without producing any chunks, like a provider with no
// incremental transport wired in (pkg/llm/anthropic.go's original stub).
type unsupportedStreamProvider struct {
	fakeProvider
}

func (p *unsupportedStreamProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, <-chan error) {
	ch := make(chan llm.StreamChunk)
	errc := make(chan error, 1)
	close(ch)
	errc <- llm.ErrStreamingUnsupported
	close(errc)
	return ch, errc
}

// A provider reporting ErrStreamingUnsupported falls back to Complete.
func TestRun_Streaming_FallsBackOnUnsupported(t *testing.T) {
	provider := &unsupportedStreamProvider{fakeProvider: fakeProvider{
		name: "anthropic",
		responses: []llm.Response{
			{Content: "Final Answer: fallback worked"},
		},
	}}
	cfg := baseConfig(t, provider, ReAct{}, 3)
	cfg.Streaming = true
	cfg.Emitter = &recordingEmitter{}

	out := New(cfg).Run(context.Background())

	require.Equal(t, models.ExecutionCompleted, out.Status)
	assert.Equal(t, "fallback worked", out.Answer)
	assert.Equal(t, 1, provider.calls)
}
