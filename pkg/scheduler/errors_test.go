package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarsy-run/tarsy/pkg/models"
)

func TestFormatChainError_NoFailures(t *testing.T) {
	got := FormatChainError(nil)
	assert.Equal(t, "Chain processing failed: One or more stages failed without detailed error messages", got)
}

func TestFormatChainError_SingleStage_WithMessage(t *testing.T) {
	got := FormatChainError([]StageFailure{
		{StageName: "diagnose", AgentName: "kubernetes-agent", ErrorMessage: "connection refused"},
	})
	assert.Equal(t, "Chain processing failed at stage 'diagnose' (kubernetes-agent): connection refused", got)
}

func TestFormatChainError_SingleStage_NoMessage(t *testing.T) {
	got := FormatChainError([]StageFailure{
		{StageName: "diagnose", AgentName: "kubernetes-agent"},
	})
	assert.Equal(t, "Chain processing failed at stage 'diagnose' (kubernetes-agent): Failed with no error message", got)
}

func TestFormatChainError_ParallelStage(t *testing.T) {
	got := FormatChainError([]StageFailure{
		{
			StageName:  "investigate",
			IsParallel: true,
			Children: []ChildFailure{
				{AgentName: "A1", Status: models.ExecutionFailed, ErrorMessage: "boom"},
				{AgentName: "A2", Status: models.ExecutionCancelled},
			},
		},
	})
	assert.Equal(t, "Parallel stage 'investigate' failed: 2 agents: A1 (failed): boom; A2 (cancelled): Failed with no error message", got)
}

func TestFormatChainError_MultipleStages(t *testing.T) {
	got := FormatChainError([]StageFailure{
		{StageName: "s1", AgentName: "a1", ErrorMessage: "e1"},
		{StageName: "s2", AgentName: "a2", ErrorMessage: "e2"},
	})
	assert.Equal(t, "Chain processing failed (2 stage failures): Chain processing failed at stage 's1' (a1): e1; Chain processing failed at stage 's2' (a2): e2", got)
}
