// Package api exposes the OMS's intent ingress and query/admin surface
// over HTTP (spec.md section 6). Grounded on the teacher's
// internal/api/{handler,middleware,controllers,websocket}.go: same
// gin middleware chain order and route-group shape, routes replaced
// wholesale with the OMS's own.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sehyungp92/k-stock-trader-oms/internal/events"
	"github.com/sehyungp92/k-stock-trader-oms/internal/oms"
)

// Server wires HTTP endpoints around the OMS core and event bus.
type Server struct {
	Router *gin.Engine
	Bus    *events.Bus
	Core   *oms.Core

	AdminSecret string
	StartedAt   time.Time
}

// NewServer builds the gin engine, middleware chain, and route table.
func NewServer(core *oms.Core, bus *events.Bus, adminSecret string) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:      r,
		Bus:         bus,
		Core:        core,
		AdminSecret: adminSecret,
		StartedAt:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	s.Router.POST("/intents", s.submitIntent)
	s.Router.GET("/positions", s.listPositions)
	s.Router.GET("/positions/:symbol", s.getPosition)
	s.Router.GET("/allocations/:strategy", s.getAllocationsForStrategy)
	s.Router.GET("/state/account", s.getAccountState)
	s.Router.POST("/strategies/:strategy/heartbeat", s.heartbeat)

	admin := s.Router.Group("")
	admin.Use(AdminAuthMiddleware(s.AdminSecret))
	{
		admin.POST("/risk/regime", s.setRegime)
		admin.POST("/risk/vi-cooldown", s.setVICooldown)
		admin.POST("/risk/safe-mode", s.setSafeMode)
		admin.POST("/admin/flatten-all", s.flattenAll)
		admin.POST("/admin/eod-cleanup", s.eodCleanup)
		admin.POST("/admin/pause-strategy/:strategy", s.pauseStrategy)
		admin.POST("/admin/resume-strategy/:strategy", s.resumeStrategy)
		admin.POST("/admin/resolve-drift", s.resolveDrift)
	}
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	if s.Core.Risk.SafeMode() {
		status = "degraded"
	} else if s.Core.Risk.HaltNewEntries() {
		status = "warn"
	}
	c.JSON(http.StatusOK, healthResponse{
		Status:         status,
		UptimeSeconds:  time.Since(s.StartedAt).Seconds(),
		PositionCount:  len(s.Core.Store.AllPositions()),
		BrokerFailures: s.Core.Broker.ConsecutiveFailures(),
		SafeMode:       s.Core.Risk.SafeMode(),
	})
}

// Start runs the HTTP server on addr (e.g. ":8080").
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
