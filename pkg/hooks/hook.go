// Package hooks implements the typed, type-safe interaction-capture
// fabric (spec.md §4.1, component C1) and the hook registry that binds it
// to the history store and event publisher at startup (component C10).
//
// Grounded on original_source/backend/app/hooks/base_hooks.py
// (HookContext/BaseEventHook/HookManager) and the teacher's logging idiom
// (log/slog, structured key-value fields).
package hooks

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxErrors is the number of consecutive execution errors after which a
// hook is permanently disabled (spec.md §4.1, §8 invariant 3).
const maxErrors = 5

// Hook is a side-effecting captor registered against one interaction type T.
// Implementations must not panic; Execute errors are handled by safeExecute.
type Hook[T any] interface {
	Name() string
	Execute(ctx context.Context, interaction T) error
}

// entry wraps a Hook[T] with its own enabled/error-count state so that one
// hook's failures never affect another (spec.md §4.1).
type entry[T any] struct {
	hook Hook[T]

	mu         sync.Mutex
	enabled    bool
	errorCount int
}

func newEntry[T any](h Hook[T]) *entry[T] {
	return &entry[T]{hook: h, enabled: true}
}

func (e *entry[T]) isEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// safeExecute runs the hook, isolating any error. Never panics, never lets
// the hook's error escape to the caller (spec.md §4.1, §8 invariant 3).
func (e *entry[T]) safeExecute(ctx context.Context, interaction T) bool {
	if !e.isEnabled() {
		return false
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError{r}
			}
		}()
		return e.hook.Execute(ctx, interaction)
	}()

	if err == nil {
		e.mu.Lock()
		e.errorCount = 0
		e.mu.Unlock()
		return true
	}

	e.mu.Lock()
	e.errorCount++
	disable := e.errorCount >= maxErrors
	if disable {
		e.enabled = false
	}
	count := e.errorCount
	e.mu.Unlock()

	slog.Error("hook execution failed", "hook", e.hook.Name(), "error", err, "error_count", count)
	if disable {
		slog.Warn("hook disabled after repeated failures", "hook", e.hook.Name(), "max_errors", maxErrors)
	}
	return false
}

type panicError struct{ v any }

func (p panicError) Error() string { return "hook panicked" }

// Registry holds the enabled hooks for one interaction type T and fans
// execution out concurrently (spec.md §4.1: "Concurrent fan-out").
type Registry[T any] struct {
	mu      sync.RWMutex
	entries []*entry[T]
}

// NewRegistry creates an empty hook registry for interaction type T.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Register adds a hook to the registry. Safe to call after Trigger has
// started firing (spec.md §5: "guarded by a simple lock if hooks are
// registered after start").
func (r *Registry[T]) Register(h Hook[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, newEntry[T](h))
}

// Trigger runs every enabled hook concurrently and returns a map of
// hook name → success. Hooks that panic or error are recorded as false and
// never affect sibling hooks or the caller (spec.md §4.1).
func (r *Registry[T]) Trigger(ctx context.Context, interaction T) map[string]bool {
	r.mu.RLock()
	entries := make([]*entry[T], len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	results := make(map[string]bool, len(entries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			ok := e.safeExecute(gctx, interaction)
			mu.Lock()
			results[e.hook.Name()] = ok
			mu.Unlock()
			return nil // never fail the group: one hook never cancels siblings
		})
	}
	_ = g.Wait()
	return results
}

// TriggerOrdered runs every enabled hook sequentially, in registration
// order, and returns a map of hook name → success. Unlike Trigger, it never
// lets two hooks observe interaction concurrently — required whenever T is
// a pointer and one hook's write (e.g. a generated id) must be visible to
// the next hook before it runs, rather than raced against it.
func (r *Registry[T]) TriggerOrdered(ctx context.Context, interaction T) map[string]bool {
	r.mu.RLock()
	entries := make([]*entry[T], len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	results := make(map[string]bool, len(entries))
	for _, e := range entries {
		results[e.hook.Name()] = e.safeExecute(ctx, interaction)
	}
	return results
}

// Len reports the number of registered hooks (including disabled ones).
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
