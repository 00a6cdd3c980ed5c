package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// wsUserID identifies the caller for connection/subscription bookkeeping,
// grounded on the teacher's auth.go extractAuthor priority order
// (X-Forwarded-User > X-Forwarded-Email > a generated fallback, since this
// module has no oauth2-proxy front door to rely on for a stable default).
func wsUserID(c *gin.Context) string {
	if u := c.GetHeader("X-Forwarded-User"); u != "" {
		return u
	}
	if e := c.GetHeader("X-Forwarded-Email"); e != "" {
		return e
	}
	return uuid.NewString()
}

// handleWS upgrades the connection and delegates to the broadcast fabric,
// which blocks until the socket closes (spec.md §4.9), mirroring the
// teacher's handler_ws.go upgrade-then-delegate shape. Origin validation
// is left open, consistent with the teacher's documented deferral.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.Hub.HandleConnection(c.Request.Context(), wsUserID(c), conn)
}
