// Package parallel implements the parallel stage executor (spec.md §4.7,
// component C7): fans out a multi-agent or replica stage, collects child
// results, aggregates a stage status under a success policy, and
// optionally runs a synthesis agent over the collected outputs.
//
// Grounded on the teacher's pkg/agent/orchestrator/runner.go
// (goroutine-per-child, buffered results channel, reservation-then-
// register locking) and pkg/queue/executor_synthesis.go (synthesis-stage
// bookkeeping), adapted from the teacher's dynamic tool-dispatch sub-agent
// model to spec.md's declarative chain-config fan-out model.
package parallel

import "github.com/tarsy-run/tarsy/pkg/models"

// AggregateStatus computes a parallel stage's aggregate status from its
// children's statuses under the declared success policy (spec.md §4.7,
// §8 invariant 6).
//
// Precedence:
//  1. any child paused => paused.
//  2. otherwise cancelled and failed are both "non-success" for the
//     policy test:
//     - ALL: completed iff every child completed, else failed.
//     - ANY: completed iff at least one child completed, else failed.
func AggregateStatus(childStatuses []models.ExecutionStatus, policy models.SuccessPolicy) models.ExecutionStatus {
	for _, s := range childStatuses {
		if s == models.ExecutionPaused {
			return models.ExecutionPaused
		}
	}

	completedCount := 0
	for _, s := range childStatuses {
		if s == models.ExecutionCompleted {
			completedCount++
		}
	}

	switch policy {
	case models.PolicyAny:
		if completedCount >= 1 {
			return models.ExecutionCompleted
		}
		return models.ExecutionFailed
	default: // models.PolicyAll
		if completedCount == len(childStatuses) && len(childStatuses) > 0 {
			return models.ExecutionCompleted
		}
		return models.ExecutionFailed
	}
}

// AllNonSuccessAreCancelled reports whether, among children that didn't
// complete, none actually failed (spec.md §4.7 "session-vs-stage status
// divergence on cancellation", §8 invariants 7-8): used by the chain
// scheduler to decide whether a failed aggregate should classify the
// session as cancelled or failed.
func AllNonSuccessAreCancelled(childStatuses []models.ExecutionStatus) bool {
	sawNonSuccess := false
	for _, s := range childStatuses {
		if s == models.ExecutionCompleted {
			continue
		}
		sawNonSuccess = true
		if s != models.ExecutionCancelled {
			return false
		}
	}
	return sawNonSuccess
}
