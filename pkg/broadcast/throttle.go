package broadcast

import (
	"sync"
	"time"
)

// ChannelLimit is a per-channel throttle rule (spec.md §4.9:
// "{max_messages, time_window_seconds}").
type ChannelLimit struct {
	MaxMessages int
	Window      time.Duration
}

// Throttler enforces per-channel limits per user via a sliding window of
// send timestamps, evicting expired entries on each check (spec.md §4.9).
// Channels with no configured limit are unthrottled. New code — the
// teacher's ConnectionManager has no throttling; grounded directly on
// spec.md §4.9's sliding-window description. It keeps its own timestamp
// slices rather than using golang.org/x/time's token-bucket rate.Limiter
// (a per-channel-per-user limit needs independent windows keyed
// dynamically, which rate.Limiter does not model per-key).
type Throttler struct {
	mu     sync.Mutex
	limits map[string]ChannelLimit
	events map[string][]time.Time // "channel\x00user_id" -> send timestamps within window
}

// NewThrottler constructs a Throttler with the given per-channel limits.
func NewThrottler(limits map[string]ChannelLimit) *Throttler {
	return &Throttler{
		limits: limits,
		events: make(map[string][]time.Time),
	}
}

// ShouldSuppress reports whether a message to user on channel should be
// dropped because the user's send count within the window would exceed
// the channel's limit. A suppressed send does not count against the
// window (spec.md §4.9: "the message is suppressed for that user, not an
// error" — suppression is not itself an additional send).
func (t *Throttler) ShouldSuppress(channel, userID string) bool {
	limit, limited := t.limits[channel]
	if !limited {
		return false
	}

	key := channel + "\x00" + userID
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.events[key]
	cutoff := now.Add(-limit.Window)
	kept := ts[:0]
	for _, v := range ts {
		if v.After(cutoff) {
			kept = append(kept, v)
		}
	}

	if len(kept) >= limit.MaxMessages {
		t.events[key] = kept
		return true
	}

	t.events[key] = append(kept, now)
	return false
}
