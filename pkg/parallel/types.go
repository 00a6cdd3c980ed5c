package parallel

import (
	"context"
	"time"

	"github.com/tarsy-run/tarsy/pkg/controller"
	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// ChildSpec is one child execution of a parallel stage: either one entry
// of a multi-agent fan-out or one replica of a replica fan-out (spec.md
// §3 ChainDefinition, §4.7).
type ChildSpec struct {
	AgentName     string
	ProviderName  string
	Provider      llm.Provider
	Strategy      controller.Strategy
	// BuildDispatcher constructs this child's tool dispatcher once its
	// stage-execution row has been assigned an id, so every MCP interaction
	// it records carries the child's own StageExecutionID.
	BuildDispatcher func(stageExecutionID string) (*mcptool.Dispatcher, error)
	InitialMessages []models.ConversationMessage

	MaxIterations            int
	ForceConclusionAtMaxIter bool
	ChatContext              bool
	IterationTimeout         time.Duration
}

// SynthesisSpec configures the optional post-aggregation synthesis agent
// (spec.md §3 ChainDefinition.synthesis, §4.7 "Synthesis stage").
type SynthesisSpec struct {
	AgentName       string
	ProviderName    string
	Provider        llm.Provider
	Strategy        controller.Strategy
	BuildDispatcher func(stageExecutionID string) (*mcptool.Dispatcher, error)
	MaxIterations   int
	IterationTimeout time.Duration

	// BuildMessages composes the synthesis prompt from every child result
	// (successful and failed alike, spec.md §4.7).
	BuildMessages func(results []models.AgentExecutionResult) []models.ConversationMessage
}

// StageSpec is the resolved, ready-to-execute shape of a parallel
// StageConfig (spec.md §3): the chain scheduler resolves agent/provider
// names into concrete ChildSpec values before calling Execute.
type StageSpec struct {
	StageName     string
	StageIndex    int
	StageID       string
	ParallelType  models.ParallelType
	SuccessPolicy models.SuccessPolicy
	Children      []ChildSpec
	Synthesis     *SynthesisSpec
}

// newIterationContext returns the per-LLM-call timeout wrapper a
// controller.Config needs, or nil if no timeout is configured (tests).
func newIterationContext(d time.Duration) func(context.Context) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return nil
	}
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, d)
	}
}
