// Package api is the inbound HTTP surface for the chat gateway: estimate
// runs, follow-up actions, run cancellation, health, and metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garagehq/advisor/pkg/browser"
	"github.com/garagehq/advisor/pkg/dispatch"
	"github.com/garagehq/advisor/pkg/runs"
	"github.com/garagehq/advisor/pkg/store"
	"github.com/garagehq/advisor/pkg/tabs"
)

// Server serves the gateway API.
type Server struct {
	manager    *runs.Manager
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	driver     *browser.Driver
	registry   *tabs.Registry
	startedAt  time.Time

	httpSrv *http.Server
}

// NewServer creates the server.
func NewServer(manager *runs.Manager, st *store.Store, d *dispatch.Dispatcher, driver *browser.Driver, registry *tabs.Registry) *Server {
	return &Server{
		manager:    manager,
		store:      st,
		dispatcher: d,
		driver:     driver,
		registry:   registry,
		startedAt:  time.Now(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/estimates", s.CreateEstimate)
		apiGroup.GET("/estimates/:chat_id", s.GetEstimate)
		apiGroup.POST("/estimates/:chat_id/order-parts", s.OrderParts)
		apiGroup.POST("/estimates/:chat_id/approve", s.Approve)
		apiGroup.POST("/runs/:run_id/cancel", s.CancelRun)
		apiGroup.POST("/tools/:name", s.ToolCall)
	}
	return r
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(host string, port int) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// requestLogger emits one slog record per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
