package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// listSessions handles GET /api/v1/history/sessions (spec.md §6). Unknown
// status values pass through unvalidated; invalid ISO dates yield 422.
func (s *Server) listSessions(c *gin.Context) {
	filter := history.SessionFilter{
		Status:    c.Query("status"),
		AgentType: c.Query("agent_type"),
		AlertType: c.Query("alert_type"),
		Search:    c.Query("search"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	}
	if filter.StartDate != "" {
		if _, err := time.Parse(time.DateOnly, filter.StartDate); err != nil {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "invalid start_date, expected YYYY-MM-DD"})
			return
		}
	}
	if filter.EndDate != "" {
		if _, err := time.Parse(time.DateOnly, filter.EndDate); err != nil {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "invalid end_date, expected YYYY-MM-DD"})
			return
		}
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 25)

	result, err := s.Store.GetSessionsList(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionListResponse{Sessions: result.Sessions, Pagination: paginationFrom(result)})
}

// getSession handles GET /api/v1/history/sessions/{session_id} (spec.md
// §6: "session detail + chronological_timeline + summary").
func (s *Server) getSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	detail, err := s.Store.GetSessionWithStages(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	llmEvents, err := s.Store.GetLLMInteractions(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	mcpEvents, err := s.Store.GetMCPInteractions(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionDetailResponse{
		Session:               detail.Session,
		Stages:                detail.Stages,
		ChronologicalTimeline: models.BuildChronologicalTimeline(llmEvents, mcpEvents),
		Summary: sessionSummary{
			StageCount:          len(detail.Stages),
			LLMInteractionCount: len(llmEvents),
			MCPInteractionCount: len(mcpEvents),
			Status:              string(detail.Session.Status),
		},
	})
}

// historyHealth handles GET /api/v1/history/health (spec.md §6).
func (s *Server) historyHealth(c *gin.Context) {
	status := history.Health(s.HistoryDisabled, s.Store)
	code := http.StatusOK
	if status == history.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, historyHealthResponse{
		Service:     "history",
		Status:      status,
		TimestampUs: time.Now().UnixMicro(),
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
