package broadcast

import (
	"sync"
	"time"

	"github.com/tarsy-run/tarsy/pkg/events"
)

// Batcher accumulates envelopes per channel and reports a batch ready once
// either bound is reached (spec.md §4.9). New code — the teacher has no
// batching layer — grounded on the shape spec.md §4.9 describes directly.
type Batcher struct {
	mu      sync.Mutex
	maxSize int
	maxAge  time.Duration
	enabled bool

	pending map[string]*pendingBatch
}

type pendingBatch struct {
	messages []events.Envelope
	openedAt time.Time
}

// NewBatcher constructs a Batcher. enabled mirrors spec.md §4.9's global
// batching toggle; when false, Add always reports ready=true for a
// single-message "batch" so callers can treat batching uniformly.
func NewBatcher(enabled bool, maxSize int, maxAge time.Duration) *Batcher {
	return &Batcher{
		enabled: enabled,
		maxSize: maxSize,
		maxAge:  maxAge,
		pending: make(map[string]*pendingBatch),
	}
}

// Enabled reports the global batching toggle.
func (b *Batcher) Enabled() bool {
	return b.enabled
}

// Add appends env to channel's pending batch and reports whether the
// batch is now ready (max_size or max_age_seconds reached).
func (b *Batcher) Add(channel string, env events.Envelope) (batch []events.Envelope, ready bool) {
	if !b.enabled {
		return []events.Envelope{env}, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.pending[channel]
	if !ok {
		pb = &pendingBatch{openedAt: time.Now()}
		b.pending[channel] = pb
	}
	pb.messages = append(pb.messages, env)

	if len(pb.messages) >= b.maxSize || time.Since(pb.openedAt) >= b.maxAge {
		delete(b.pending, channel)
		return pb.messages, true
	}
	return nil, false
}

// Flush forces every channel with a non-empty pending batch to emit,
// regardless of size/age bounds — used for shutdown or a periodic sweep
// that catches batches stuck below max_size past their max_age.
func (b *Batcher) Flush() map[string][]events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]events.Envelope, len(b.pending))
	for ch, pb := range b.pending {
		if len(pb.messages) > 0 {
			out[ch] = pb.messages
		}
	}
	b.pending = make(map[string]*pendingBatch)
	return out
}

// SweepAged returns and clears every channel's batch whose age has
// exceeded maxAge, leaving channels still within bounds pending. Intended
// to be called periodically so a low-traffic channel's batch doesn't sit
// unsent forever waiting for max_size.
func (b *Batcher) SweepAged() map[string][]events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]events.Envelope)
	for ch, pb := range b.pending {
		if time.Since(pb.openedAt) >= b.maxAge {
			out[ch] = pb.messages
			delete(b.pending, ch)
		}
	}
	return out
}
