package broadcast

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
)

// subscribeRequest is the client->server message shape accepted over a
// registered connection: {"action": "subscribe"|"unsubscribe", "channel": "..."}.
type subscribeRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// HandleConnection registers ws under userID and blocks, reading
// subscribe/unsubscribe requests until the socket closes or ctx is done,
// mirroring the teacher's handler_ws.go ("upgrades, then delegates to the
// connection manager which blocks until the socket closes") translated
// from the teacher's gorilla-based read loop (websocket.go) to
// coder/websocket's Read API. Cleans up via Unregister on return.
func (h *Hub) HandleConnection(ctx context.Context, userID string, ws *websocket.Conn) {
	c := h.Register(userID, ws)
	defer h.Unregister(userID)
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	for {
		_, data, err := ws.Read(c.ctx)
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		var resp SubscriptionResponse
		switch req.Action {
		case "subscribe":
			resp = h.Subscribe(userID, req.Channel)
		case "unsubscribe":
			resp = h.Unsubscribe(userID, req.Channel)
		default:
			continue
		}

		out, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if err := h.send(c, out); err != nil {
			return
		}
	}
}
