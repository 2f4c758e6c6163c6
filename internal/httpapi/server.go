// Package httpapi exposes the triage pipeline over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/index"
	"github.com/fyrsmithlabs/triaged/internal/planner"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server routes incident triage requests to the pipeline service.
type Server struct {
	echo    *echo.Echo
	service *triage.Service
	logger  *zap.Logger
	config  *Config
}

// NewServer creates the HTTP server.
func NewServer(service *triage.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("triage service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9180}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
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
		service: service,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/run", s.handleRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/replay", s.handleReplay)
}

// FilterRequest mirrors index.Filter on the wire.
type FilterRequest struct {
	Service   string `json:"service,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Env       string `json:"env,omitempty"`
	Keyword   string `json:"keyword,omitempty"`
}

func (f FilterRequest) toFilter() index.Filter {
	return index.Filter{
		Service:     f.Service,
		ErrorCode:   f.ErrorCode,
		Environment: f.Env,
		Keyword:     f.Keyword,
	}
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Text   string        `json:"text"`
	TopK   int           `json:"top_k"`
	Filter FilterRequest `json:"filter"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Candidates []retrieval.Candidate `json:"candidates"`
}

// RunRequest is the request body for POST /api/v1/run.
type RunRequest struct {
	Text   string        `json:"text"`
	TopK   int           `json:"top_k"`
	Filter FilterRequest `json:"filter"`
	Notify bool          `json:"notify"`
}

// ListRunsResponse is the response body for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs  []*audit.Run `json:"runs"`
	Total int          `json:"total"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	candidates, err := s.service.Search(c.Request().Context(), req.Text, req.TopK, req.Filter.toFilter())
	if err != nil {
		return s.mapError(err)
	}
	if candidates == nil {
		candidates = []retrieval.Candidate{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Candidates: candidates})
}

func (s *Server) handleRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	run, err := s.service.Run(c.Request().Context(), triage.RunRequest{
		Incident: req.Text,
		TopK:     req.TopK,
		Filter:   req.Filter.toFilter(),
		Notify:   req.Notify,
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		offset = parsed
	}

	runs, total, err := s.service.ListRuns(c.Request().Context(), limit, offset)
	if err != nil {
		return s.mapError(err)
	}
	if runs == nil {
		runs = []*audit.Run{}
	}
	return c.JSON(http.StatusOK, ListRunsResponse{Runs: runs, Total: total})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.service.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleReplay(c echo.Context) error {
	result, err := s.service.Replay(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// mapError translates pipeline failures into HTTP status codes. The
// error kind stays visible in the response body.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, audit.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	case errors.Is(err, index.ErrInvalidK),
		errors.Is(err, index.ErrDimensionMismatch),
		errors.Is(err, triage.ErrEmptyIncident):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, planner.ErrPlanGeneration),
		errors.Is(err, retrieval.ErrRetrieval):
		s.logger.Error("pipeline failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "pipeline timed out")
	default:
		s.logger.Error("internal error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
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

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
