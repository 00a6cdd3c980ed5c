package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChainContext_StageOutputsPreservesInsertionOrder(t *testing.T) {
	cc := NewChainContext("sess-1", map[string]any{"namespace": "prod"})

	first := StageOutput{Single: &AgentExecutionResult{AgentName: "kubernetes-agent", Status: ExecutionCompleted, ResultSummary: "pods healthy"}}
	second := StageOutput{Parallel: &ParallelStageResult{
		StageName: "investigate",
		Status:    ExecutionCompleted,
		Results: []AgentExecutionResult{
			{AgentName: "logs-agent", Status: ExecutionCompleted},
			{AgentName: "metrics-agent", Status: ExecutionCompleted},
		},
		Metadata: ParallelStageMetadata{
			ParallelType:  ParallelMultiAgent,
			SuccessPolicy: PolicyAny,
			Agents: []AgentExecutionMetadata{
				{AgentName: "logs-agent", Status: ExecutionCompleted},
				{AgentName: "metrics-agent", Status: ExecutionCompleted},
			},
		},
	}}

	cc.AppendStageOutput("diagnose", first)
	cc.AppendStageOutput("investigate", second)

	got := cc.StageOutputs()
	if len(got) != 2 {
		t.Fatalf("StageOutputs() returned %d entries, want 2", len(got))
	}
	if got[0].Key != "diagnose" || got[1].Key != "investigate" {
		t.Fatalf("StageOutputs() order = [%s, %s], want [diagnose, investigate]", got[0].Key, got[1].Key)
	}

	if diff := cmp.Diff(first, got[0].Value); diff != "" {
		t.Errorf("round-tripped first entry differs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(second, got[1].Value); diff != "" {
		t.Errorf("round-tripped second entry differs (-want +got):\n%s", diff)
	}
}

func TestChainContext_AppendStageOutputIsAppendOnly(t *testing.T) {
	cc := NewChainContext("sess-1", nil)
	cc.AppendStageOutput("diagnose", StageOutput{Single: &AgentExecutionResult{ResultSummary: "first"}})
	cc.AppendStageOutput("diagnose", StageOutput{Single: &AgentExecutionResult{ResultSummary: "second"}})

	out, ok := cc.Get("diagnose")
	if !ok {
		t.Fatal("Get(\"diagnose\") not found")
	}
	if out.Single.ResultSummary != "first" {
		t.Errorf("ResultSummary = %q, want %q (re-appending an existing key must be a no-op)", out.Single.ResultSummary, "first")
	}
	if len(cc.StageOutputs()) != 1 {
		t.Errorf("StageOutputs() has %d entries, want 1", len(cc.StageOutputs()))
	}
}
