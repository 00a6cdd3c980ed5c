package parallel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/controller"
	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// fakeSink records every envelope published, so tests can assert on the
// broadcast side-effects of parallel execution (spec.md §4.7, §8
// scenario S5).
type fakeSink struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (s *fakeSink) Publish(channel string, env events.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *fakeSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Kind, len(s.envs))
	for i, e := range s.envs {
		out[i] = e.Type
	}
	return out
}

// fakeProvider is a scripted llm.Provider keyed by agent so each child of
// a parallel stage can be driven independently.
type fakeProvider struct {
	name     string
	response llm.Response
	err      error
	calls    int
	mu       sync.Mutex
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return f.response, nil
}
func (f *fakeProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, <-chan error) {
	ch := make(chan llm.StreamChunk)
	errc := make(chan error, 1)
	close(ch)
	close(errc)
	return ch, errc
}
func (f *fakeProvider) MaxToolResultTokens() int { return 100000 }

func noServerDispatcher(mgr *hooks.Manager, sessionID string) func(string) (*mcptool.Dispatcher, error) {
	return func(stageExecutionID string) (*mcptool.Dispatcher, error) {
		return mcptool.NewDispatcher(nil, mgr, sessionID, stageExecutionID, nil, nil)
	}
}

func newTestExecutor() (*Executor, history.Store, *fakeSink) {
	store := history.NewMemoryStore()
	mgr := hooks.NewManager()
	sink := &fakeSink{}
	pub := events.NewPublisher(sink)
	hooks.Bind(mgr, store, pub)
	return New(store, mgr, pub, cancel.NewTracker()), store, sink
}

func child(name string, provider llm.Provider, mgr *hooks.Manager, sessionID string) ChildSpec {
	return ChildSpec{
		AgentName:       name,
		ProviderName:    provider.Name(),
		Provider:        provider,
		Strategy:        controller.ReAct{},
		BuildDispatcher: noServerDispatcher(mgr, sessionID),
		InitialMessages: []models.ConversationMessage{{Role: models.RoleUser, Content: "investigate"}},
		MaxIterations:   3,
	}
}

// S4: two-agent fan-out, ANY policy, one succeeds one fails -> stage
// completed, both results recorded.
func TestExecute_MultiAgent_ANY_PartialSuccess(t *testing.T) {
	exec, store, _ := newTestExecutor()
	mgr := hooks.NewManager()
	hooks.Bind(mgr, store, events.NewPublisher(&fakeSink{}))

	p1 := &fakeProvider{name: "p1", response: llm.Response{Content: "Final Answer: good"}}
	p2 := &fakeProvider{name: "p2", err: errors.New("boom")}

	spec := StageSpec{
		StageName:     "diagnose",
		StageIndex:    0,
		ParallelType:  models.ParallelMultiAgent,
		SuccessPolicy: models.PolicyAny,
		Children: []ChildSpec{
			child("A1", p1, mgr, "sess-4"),
			child("A2", p2, mgr, "sess-4"),
		},
	}

	result, parentRow, err := exec.Execute(context.Background(), "sess-4", spec)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	assert.Equal(t, models.StageCompleted, parentRow.Status)
	require.Len(t, result.Results, 2)

	var gotCompleted, gotFailed bool
	for _, r := range result.Results {
		switch r.Status {
		case models.ExecutionCompleted:
			gotCompleted = true
		case models.ExecutionFailed:
			gotFailed = true
		}
	}
	assert.True(t, gotCompleted)
	assert.True(t, gotFailed)

	children, err := store.GetParallelStageChildren(context.Background(), parentRow.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

// S5: ALL policy, both children paused by budget exhaustion; cancel them
// one at a time and observe the session-vs-stage divergence.
func TestCancelAgent_ALL_BothCancelled_SessionCancelled(t *testing.T) {
	exec, store, sink := newTestExecutor()
	mgr := hooks.NewManager()
	hooks.Bind(mgr, store, events.NewPublisher(sink))

	slowProvider := func(name string) *fakeProvider {
		return &fakeProvider{name: name, response: llm.Response{Content: "Thought: still working"}}
	}
	p1, p2 := slowProvider("p1"), slowProvider("p2")

	spec := StageSpec{
		StageName:     "diagnose",
		StageIndex:    0,
		ParallelType:  models.ParallelMultiAgent,
		SuccessPolicy: models.PolicyAll,
		Children: []ChildSpec{
			func() ChildSpec { c := child("A1", p1, mgr, "sess-5"); c.MaxIterations = 1; return c }(),
			func() ChildSpec { c := child("A2", p2, mgr, "sess-5"); c.MaxIterations = 1; return c }(),
		},
	}

	result, parentRow, err := exec.Execute(context.Background(), "sess-5", spec)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPaused, result.Status)
	assert.Equal(t, models.StagePaused, parentRow.Status)

	store.UpdateSessionStatus(context.Background(), "sess-5", models.SessionPaused, "", "")
	session := &models.AlertSession{SessionID: "sess-5", Status: models.SessionPaused}
	store.CreateSession(context.Background(), session)
	store.UpdateSessionStatus(context.Background(), "sess-5", models.SessionPaused, "", "")

	children, err := store.GetParallelStageChildren(context.Background(), parentRow.ExecutionID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	// Cancel the first child: the other sibling is still paused, so the
	// session stays paused.
	out1, err := exec.CancelAgent(context.Background(), "sess-5", children[0].ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPaused, out1.SessionStatus)

	// Cancel the second child: both are now cancelled, ALL policy, neither
	// actually failed -> session classifies as cancelled, not failed
	// (spec.md §8 invariant 7).
	out2, err := exec.CancelAgent(context.Background(), "sess-5", children[1].ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, out2.SessionStatus)
	assert.False(t, out2.ShouldResumeChain)

	kinds := sink.kinds()
	assert.Contains(t, kinds, events.KindAgentCancelled)
	assert.Contains(t, kinds, events.KindSessionCancelled)
}
