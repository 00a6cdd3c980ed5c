// Package cancel implements the process-wide cancellation tracker
// (spec.md §4.4, component C9): a thread-safe session_id → cause map used
// to classify why a context was cancelled once a handler observes
// ctx.Err().
//
// New code — the teacher has no equivalent (its cancellation is ad hoc
// context.Context plumbing in pkg/agent/orchestrator/runner.go). Grounded
// on original_source's typed_context.py cancellation-cause handling and on
// the teacher's ctx.Err()-classification idiom (context.DeadlineExceeded
// → timed_out, else → cancelled).
package cancel

import (
	"context"
	"errors"
	"sync"
)

// Cause is why a session's context was cancelled.
type Cause string

const (
	CauseUserCancel Cause = "user_cancel"
	CauseTimeout    Cause = "timeout"
)

// Tracker is a process-wide, thread-safe session_id → Cause map.
type Tracker struct {
	mu     sync.RWMutex
	causes map[string]Cause
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{causes: make(map[string]Cause)}
}

// Mark records cause for sessionID, overwriting any prior entry.
func (t *Tracker) Mark(sessionID string, cause Cause) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.causes[sessionID] = cause
}

// IsUserCancel reports whether sessionID was marked user_cancel. Returns
// false if sessionID was never marked (spec.md §4.4).
func (t *Tracker) IsUserCancel(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.causes[sessionID] == CauseUserCancel
}

// Cause returns the recorded cause and whether sessionID was marked at all.
func (t *Tracker) Cause(sessionID string) (Cause, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.causes[sessionID]
	return c, ok
}

// Clear removes sessionID's entry. Called by the scheduler's chain
// finalizers (runChain's completion path and finalizeFailedChain) once a
// session reaches a terminal status (spec.md §4.4).
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.causes, sessionID)
}

// ClassifyContextError maps a context error to a Cause the way the
// teacher's orchestrator runner does: context.DeadlineExceeded is a
// timeout, anything else (context.Canceled) is treated as a user
// cancellation unless the tracker says otherwise.
func ClassifyContextError(t *Tracker, sessionID string, ctxErr error) Cause {
	if ctxErr == nil {
		return ""
	}
	if cause, ok := t.Cause(sessionID); ok {
		return cause
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return CauseTimeout
	}
	return CauseUserCancel
}
