package scheduler

import (
	"fmt"
	"strings"

	"github.com/tarsy-run/tarsy/pkg/models"
)

// ChildFailure is one non-success contributing agent of a failed parallel
// stage (spec.md §4.8 error aggregation).
type ChildFailure struct {
	AgentName    string
	Status       models.ExecutionStatus // failed or cancelled
	ErrorMessage string
}

// StageFailure describes the one stage that stopped a chain's forward
// progress, in enough detail to render every spec.md §4.8 error-message
// format.
type StageFailure struct {
	StageName    string
	IsParallel   bool
	Status       models.ExecutionStatus
	AgentName    string // single-stage: the one agent that ran
	ErrorMessage string // single-stage: its error message
	Children     []ChildFailure
}

// FormatChainError renders a chain's session.error_message from the stages
// that stopped its forward progress (spec.md §4.8 "Error aggregation").
// The chain scheduler stops at the first non-success stage, so failures
// will always have len 1 in this implementation (spec.md §9 Open Question:
// "the source uses the single-stage format... N=1; spec follows") — this
// function still supports the general N>1 shape for fidelity with the
// documented multi-failure format, and is exercised directly by tests.
func FormatChainError(failures []StageFailure) string {
	if len(failures) == 0 {
		return "Chain processing failed: One or more stages failed without detailed error messages"
	}
	if len(failures) == 1 {
		return formatOneStageFailure(failures[0])
	}

	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = formatOneStageFailure(f)
	}
	return fmt.Sprintf("Chain processing failed (%d stage failures): %s", len(failures), strings.Join(parts, "; "))
}

func formatOneStageFailure(f StageFailure) string {
	if f.IsParallel {
		return formatParallelStageFailure(f)
	}
	msg := f.ErrorMessage
	if msg == "" {
		msg = "Failed with no error message"
	}
	return fmt.Sprintf("Chain processing failed at stage '%s' (%s): %s", f.StageName, f.AgentName, msg)
}

func formatParallelStageFailure(f StageFailure) string {
	parts := make([]string, len(f.Children))
	for i, c := range f.Children {
		msg := c.ErrorMessage
		if msg == "" {
			msg = "Failed with no error message"
		}
		parts[i] = fmt.Sprintf("%s (%s): %s", c.AgentName, childLabel(c.Status), msg)
	}
	return fmt.Sprintf("Parallel stage '%s' failed: %d agents: %s", f.StageName, len(f.Children), strings.Join(parts, "; "))
}

func childLabel(s models.ExecutionStatus) string {
	if s == models.ExecutionCancelled {
		return "cancelled"
	}
	return "failed"
}
