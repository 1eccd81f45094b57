// Package httpapi exposes the execution pipeline over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/approval"
	"github.com/fyrsmithlabs/execd/internal/checkpoint"
	"github.com/fyrsmithlabs/execd/internal/model"
	"github.com/fyrsmithlabs/execd/internal/pipeline"
)

// Server provides the HTTP endpoints for execd.
type Server struct {
	echo    *echo.Echo
	svc     pipeline.Service
	logger  *zap.Logger
	config  *Config
	metrics *Metrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server.
func NewServer(svc pipeline.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("pipeline service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8970,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewMetrics(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/executions", s.handleExecute)
	v1.POST("/executions/:key/resume", s.handleResume)
}

// ResumeRequest is the request body for POST /api/v1/executions/:key/resume.
type ResumeRequest struct {
	Approved bool           `json:"approved"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleExecute runs the pipeline for a submitted request. A suspended run
// answers 202 with the resume key; completed runs answer 200 whatever their
// terminal status.
func (s *Server) handleExecute(c echo.Context) error {
	var req model.ExecutionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid execution request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.svc.Execute(c.Request().Context(), &req)
	if err != nil {
		s.logger.Error("pipeline execution failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "execution failed")
	}

	if result.Status == pipeline.StatusSuspended {
		return c.JSON(http.StatusAccepted, result)
	}
	return c.JSON(http.StatusOK, result)
}

// handleResume applies a reviewer decision to a suspended run.
func (s *Server) handleResume(c echo.Context) error {
	key := c.Param("key")

	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid resume request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	decision := approval.Decision{Approved: req.Approved, Payload: req.Payload}
	result, err := s.svc.Resume(c.Request().Context(), key, decision)
	if err != nil {
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "unknown resume key")
		case errors.Is(err, checkpoint.ErrConsumed):
			return echo.NewHTTPError(http.StatusConflict, "execution already resumed")
		default:
			s.logger.Error("pipeline resume failed", zap.String("key", key), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "resume failed")
		}
	}

	return c.JSON(http.StatusOK, result)
}

// Echo exposes the underlying echo instance for extra route registration
// (e.g. the /metrics handler wired in main).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
