package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/mcptool"
)

// writeError maps a session/history error to an HTTP status and a
// structured body, mirroring the teacher's mapServiceError (pkg/api/errors.go)
// translated from echo.HTTPError to gin's JSON response idiom.
func writeError(c *gin.Context, err error) {
	var selErr *mcptool.MCPServerSelectionError
	if errors.As(err, &selErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "unknown MCP server in selection",
			"requested": selErr.Requested,
			"available": selErr.Available,
		})
		return
	}
	var toolErr *mcptool.MCPToolSelectionError
	if errors.As(err, &toolErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "unknown MCP tool in selection",
			"server":    toolErr.Server,
			"requested": toolErr.Requested,
			"available": toolErr.Available,
		})
		return
	}
	if errors.Is(err, config.ErrChainNotFound) {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
