// Package api implements the thin REST/WebSocket surface of spec.md §6:
// alert submission, the read-only history REST surface, and the
// broadcast-fabric WebSocket upgrade endpoint.
//
// Grounded on the teacher's pkg/api/handlers.go — a gin.Engine with a
// Server{...} receiver and gin.HandlerFunc methods returning gin.H/typed
// JSON bodies — rather than the teacher's newer Echo-based server.go,
// since gin is the REST dependency actually carried in this module's
// go.mod. Route naming and the body-size-limit-before-health-check
// ordering follow the Echo server's setupRoutes.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarsy-run/tarsy/pkg/broadcast"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/metrics"
	"github.com/tarsy-run/tarsy/pkg/session"
)

// maxAlertBodyBytes bounds a raw request body, set above
// MAX_LLM_MESSAGE_CONTENT_SIZE (spec.md §6) to leave room for JSON
// envelope overhead around the alert_data payload.
const maxAlertBodyBytes = 2 * 1024 * 1024

// Server is the process's single HTTP entrypoint.
type Server struct {
	Sessions        *session.Manager
	Store           history.Store
	Hub             *broadcast.Hub
	HistoryDisabled bool
	Metrics         *metrics.Metrics

	engine *gin.Engine
	http   *http.Server
}

// NewServer builds a Server and registers its routes.
func NewServer(sessions *session.Manager, store history.Store, hub *broadcast.Hub, historyDisabled bool) *Server {
	s := &Server{Sessions: sessions, Store: store, Hub: hub, HistoryDisabled: historyDisabled}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

// httpMetrics records one request's latency against the shared collector,
// keyed by the matched route template rather than the raw path so
// per-session IDs don't blow up cardinality.
func (s *Server) httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.Metrics == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.ObserveSeconds(
			s.Metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())),
			start,
		)
	}
}

func (s *Server) setupRoutes() {
	s.engine.Use(bodyLimit(maxAlertBodyBytes))
	s.engine.Use(s.httpMetrics())

	s.engine.GET("/health", s.historyHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.POST("/alerts", s.createAlert)
	v1.POST("/alerts/sessions/:session_id/cancel-agent", s.cancelAgent)

	hist := v1.Group("/history")
	hist.GET("/sessions", s.listSessions)
	hist.GET("/sessions/:session_id", s.getSession)
	hist.GET("/health", s.historyHealth)

	v1.GET("/ws", s.handleWS)
}

// Start runs the HTTP server on addr, blocking until it stops or errors.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
