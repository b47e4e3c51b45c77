// Package server exposes reports, jobs and sync over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/emilianohg/clickmirror/internal/analytics"
	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/jobs"
	"github.com/emilianohg/clickmirror/internal/mirror"
	"github.com/emilianohg/clickmirror/internal/period"
	"github.com/emilianohg/clickmirror/internal/registry"
	"github.com/emilianohg/clickmirror/internal/telemetry"
)

// Planner prepares report runs.
type Planner interface {
	Plan(ctx context.Context, req analytics.Request) (*analytics.Plan, error)
}

type Syncer interface {
	Running() bool
	RunFull(ctx context.Context) (*mirror.RunReport, error)
}

// Server provides the HTTP dispatch surface.
type Server struct {
	engine  *gin.Engine
	reports Planner
	jobs    *jobs.Manager
	sync    Syncer
	logger  *slog.Logger
}

// New constructs the server with routes and middleware configured. sync
// may be nil when the process does not own a mirror.
func New(reports Planner, manager *jobs.Manager, sync Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("clickmirror"))

	srv := &Server{
		engine:  router,
		reports: reports,
		jobs:    manager,
		sync:    sync,
		logger:  logger,
	}
	router.Use(srv.logRequests)

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	s.engine.POST("/sync", s.handleSync)

	s.engine.GET("/reports", s.handleListKinds)
	s.engine.POST("/reports/:kind", s.handleReport)

	jobsGroup := s.engine.Group("/jobs")
	{
		jobsGroup.GET("", s.handleListJobs)
		jobsGroup.GET(":id", s.handlePollJob)
		jobsGroup.GET(":id/result", s.handleJobResult)
	}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start))
}

func (s *Server) handleHealth(c *gin.Context) {
	running := s.sync != nil && s.sync.Running()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sync_running": running})
}

// respondError logs the error and returns a JSON payload with a status
// derived from its kind.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, registry.ErrUnknownScope),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, clickup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, period.ErrInvalidPeriod), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, mirror.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrJobNotFinished):
		return http.StatusAccepted
	case errors.Is(err, jobs.ErrTooManyJobs):
		return http.StatusTooManyRequests
	case clickup.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
