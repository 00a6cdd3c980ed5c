package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-run/tarsy/pkg/session"
)

// createAlert handles POST /api/v1/alerts (spec.md §6 "Alert submission").
func (s *Server) createAlert(c *gin.Context) {
	var body alertSubmission
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sess, err := s.Sessions.Accept(c.Request.Context(), session.AlertRequest{
		AlertType: body.AlertType,
		Data:      body.Data,
		Runbook:   body.Runbook,
		Severity:  body.Severity,
		MCP:       body.MCP,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, alertResponse{SessionID: sess.SessionID, Status: string(sess.Status)})
}

// cancelAgent handles POST /api/v1/alerts/sessions/{session_id}/cancel-agent
// (spec.md §4.7 "Per-agent cancellation API"): cancels one paused child of
// a paused parallel stage, resuming the chain if that retroactively
// satisfies the stage's ANY success policy.
func (s *Server) cancelAgent(c *gin.Context) {
	sessionID := c.Param("session_id")

	var body cancelAgentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	outcome, err := s.Sessions.CancelAgent(c.Request.Context(), sessionID, body.ChildExecutionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, cancelAgentResponse{SessionStatus: string(outcome.SessionStatus)})
}
