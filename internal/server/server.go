// Package server provides the HTTP API for mfai-query.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/modflowai/mfai-query/internal/logging"
	"github.com/modflowai/mfai-query/internal/workflow"
)

// Executor runs one query through the workflow pipeline.
type Executor interface {
	Execute(ctx context.Context, req workflow.Request) *workflow.Result
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// ReadTimeout bounds reading the request, not writing the response,
	// so long-lived SSE streams are unaffected.
	ReadTimeout time.Duration
}

// Server exposes the query pipeline over HTTP.
//
// Routes:
//
//	POST /v1/query            run a query, respond with the full result
//	GET  /v1/runs/:run_id/events  stream run progress via SSE
//	GET  /healthz             liveness probe
//	GET  /metrics             Prometheus scrape endpoint
type Server struct {
	echo     *echo.Echo
	executor Executor
	nc       *nats.Conn
	logger   *zap.Logger
	config   *Config
}

// New creates the server. nc may be nil; the SSE endpoint then responds
// 503 since there is no event bus to subscribe to.
func New(executor Executor, nc *nats.Conn, logger *zap.Logger, cfg *Config) (*Server, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		executor: executor,
		nc:       nc,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/query", s.handleQuery)
	v1.GET("/runs/:run_id/events", s.handleRunEvents)
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleQuery runs the full pipeline synchronously. The pipeline never
// returns a Go error; a failed run is a 200 with success=false and the
// fault list, except for an empty query which is a 400.
func (s *Server) handleQuery(c echo.Context) error {
	var req workflow.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	result := s.executor.Execute(c.Request().Context(), req)
	return c.JSON(http.StatusOK, result)
}

// Handler returns the underlying http.Handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
