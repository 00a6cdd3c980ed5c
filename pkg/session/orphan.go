package session

import (
	"context"
	"log/slog"
)

// RecoverOrphans performs the one-time startup sweep of spec.md §4.10:
// every session left in a non-terminal status by a previous process
// instance (pending, in_progress, or paused — §9 Open Questions notes the
// source does not distinguish paused from in_progress here, and this
// module mirrors that) is marked failed with the fixed error message
// below. No attempt is made to resume them.
//
// Grounded on the teacher's queue.CleanupStartupOrphans, simplified from
// per-pod heartbeat detection to spec.md's simpler "any non-terminal
// session is orphaned" rule — there is no heartbeat concept in this spec,
// a single process owns every session end-to-end (spec.md §1).
// Idempotent: a second call in a row updates zero rows (spec.md §8).
func (m *Manager) RecoverOrphans(ctx context.Context) error {
	count, err := m.Store.CleanupOrphanedSessions(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Warn("session: recovered orphaned sessions from a previous run", "count", count)
	}
	return nil
}
