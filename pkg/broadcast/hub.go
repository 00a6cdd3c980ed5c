// Package broadcast implements the broadcast fabric (spec.md §4.9,
// component C4): per-user connections, per-channel subscriptions, batching,
// and per-channel-per-user throttling.
//
// Grounded on the teacher's pkg/events.ConnectionManager: the three-map
// bookkeeping (connections, channel subscribers, and here also
// user-subscriptions), the snapshot-then-send Broadcast pattern that never
// holds a lock across a network write, and registration/unregistration
// discipline. The teacher keys connections by connection_id and has no
// per-user identity; this module additionally tracks user_id (spec.md
// §4.9 names user_id explicitly) since batching/throttling are applied
// per user, not per socket. Transport is github.com/coder/websocket, the
// same library the teacher's Echo-based handler_ws.go upgrades with.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/metrics"
	"golang.org/x/time/rate"
)

// connWriteRate bounds how fast one connection accepts writes, independent
// of the per-channel message throttle in throttle.go: it protects a single
// slow reader from backing up the sender, not from exceeding a message
// quota.
const connWriteRate = 50 // messages/sec per connection, burst 50

// Conn is a single user's live socket.
type Conn struct {
	UserID  string
	ws      *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
}

// Hub is the connection manager described in spec.md §4.9. It satisfies
// events.Sink.
type Hub struct {
	mu                 sync.RWMutex
	activeConnections  map[string]*Conn            // user_id -> connection
	userSubscriptions  map[string]map[string]bool   // user_id -> channels
	channelSubscribers map[string]map[string]bool   // channel -> user_ids

	writeTimeout time.Duration

	batcher   *Batcher
	throttler *Throttler

	// Metrics records connection/message counters. Nil disables recording.
	Metrics *metrics.Metrics
}

var _ events.Sink = (*Hub)(nil)

// NewHub constructs an empty Hub. Pass a Batcher built with enabled=true
// to enable channel batching (spec.md §4.9); nil or a disabled Batcher
// means messages are sent immediately. Pass a non-nil Throttler to enforce per-channel,
// per-user sliding-window limits; nil means unthrottled.
func NewHub(writeTimeout time.Duration, batcher *Batcher, throttler *Throttler) *Hub {
	return &Hub{
		activeConnections:  make(map[string]*Conn),
		userSubscriptions:  make(map[string]map[string]bool),
		channelSubscribers: make(map[string]map[string]bool),
		writeTimeout:       writeTimeout,
		batcher:            batcher,
		throttler:          throttler,
	}
}

// Register adds a connection for userID, replacing any prior one.
func (h *Hub) Register(userID string, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		UserID:  userID,
		ws:      ws,
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(rate.Limit(connWriteRate), connWriteRate),
	}
	h.mu.Lock()
	h.activeConnections[userID] = c
	if _, ok := h.userSubscriptions[userID]; !ok {
		h.userSubscriptions[userID] = make(map[string]bool)
	}
	h.mu.Unlock()
	if h.Metrics != nil {
		h.Metrics.WSActiveConnections.Set(float64(h.ActiveConnections()))
	}
	return c
}

// Unregister removes userID's connection and every trace of it from the
// three bookkeeping structures, atomically (spec.md §4.9: "On disconnect,
// all three structures must be cleaned atomically").
func (h *Hub) Unregister(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.userSubscriptions[userID] {
		delete(h.channelSubscribers[ch], userID)
		if len(h.channelSubscribers[ch]) == 0 {
			delete(h.channelSubscribers, ch)
		}
	}
	delete(h.userSubscriptions, userID)
	if c, ok := h.activeConnections[userID]; ok {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}
	delete(h.activeConnections, userID)
	if h.Metrics != nil {
		h.Metrics.WSActiveConnections.Set(float64(len(h.activeConnections)))
	}
}

// SubscriptionResponse is the typed response spec.md §4.9 requires:
// "action, channel, success, message?".
type SubscriptionResponse struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Subscribe validates and applies a subscription request. The user's
// subscription sets are only updated when the returned response reports
// success (spec.md §4.9).
func (h *Hub) Subscribe(userID, channel string) SubscriptionResponse {
	if channel == "" {
		return SubscriptionResponse{Action: "subscribe", Channel: channel, Success: false, Message: "channel is required"}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.activeConnections[userID]; !ok {
		return SubscriptionResponse{Action: "subscribe", Channel: channel, Success: false, Message: "no active connection for user"}
	}
	if h.userSubscriptions[userID] == nil {
		h.userSubscriptions[userID] = make(map[string]bool)
	}
	h.userSubscriptions[userID][channel] = true
	if h.channelSubscribers[channel] == nil {
		h.channelSubscribers[channel] = make(map[string]bool)
	}
	h.channelSubscribers[channel][userID] = true
	return SubscriptionResponse{Action: "subscribe", Channel: channel, Success: true}
}

// Unsubscribe removes userID from channel.
func (h *Hub) Unsubscribe(userID, channel string) SubscriptionResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.userSubscriptions[userID], channel)
	if subs, ok := h.channelSubscribers[channel]; ok {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(h.channelSubscribers, channel)
		}
	}
	return SubscriptionResponse{Action: "unsubscribe", Channel: channel, Success: true}
}

// Publish implements events.Sink. It batches or throttles per spec.md
// §4.9 before handing off to Broadcast.
func (h *Hub) Publish(channel string, env events.Envelope) {
	if h.batcher != nil && h.batcher.Enabled() {
		if batch, ready := h.batcher.Add(channel, env); ready {
			h.Broadcast(channel, batchEnvelope(batch), nil)
		}
		return
	}
	h.Broadcast(channel, env, nil)
}

// Broadcast sends env to every subscriber of channel, except any user_id
// in exclude, applying per-user throttling. It returns the count of
// successful sends (spec.md §4.9).
func (h *Hub) Broadcast(channel string, env events.Envelope, exclude map[string]bool) int {
	h.mu.RLock()
	subs, ok := h.channelSubscribers[channel]
	if !ok {
		h.mu.RUnlock()
		return 0
	}
	userIDs := make([]string, 0, len(subs))
	for uid := range subs {
		if exclude != nil && exclude[uid] {
			continue
		}
		userIDs = append(userIDs, uid)
	}
	conns := make([]*Conn, 0, len(userIDs))
	targets := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		if c, ok := h.activeConnections[uid]; ok {
			conns = append(conns, c)
			targets = append(targets, uid)
		}
	}
	h.mu.RUnlock()

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("broadcast: marshal envelope failed", "channel", channel, "error", err)
		return 0
	}

	sent := 0
	for i, c := range conns {
		uid := targets[i]
		if h.throttler != nil && h.throttler.ShouldSuppress(channel, uid) {
			h.observeSend("throttled")
			continue
		}
		if err := h.send(c, data); err != nil {
			slog.Warn("broadcast: send failed, disconnecting user", "user_id", uid, "error", err)
			h.observeSend("dropped")
			h.Unregister(uid)
			continue
		}
		sent++
		h.observeSend("sent")
	}
	return sent
}

func (h *Hub) observeSend(outcome string) {
	if h.Metrics != nil {
		h.Metrics.WSMessagesSent.WithLabelValues(outcome).Inc()
	}
}

func (h *Hub) send(c *Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ActiveConnections reports the current connection count.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.activeConnections)
}

func batchEnvelope(b []events.Envelope) events.Envelope {
	return events.Envelope{
		Type:        events.KindMessageBatch,
		TimestampUs: time.Now().UnixMicro(),
		Payload: map[string]any{
			"count":    len(b),
			"messages": b,
		},
	}
}
