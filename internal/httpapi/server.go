// Package httpapi provides the read-only HTTP status API for orchd.
// Workflow state is served straight from the durable stores, so the API
// reflects whatever a concurrently running engine has persisted.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/artifact"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/conflict"
	"github.com/fyrsmithlabs/orchd/internal/gate"
	"github.com/fyrsmithlabs/orchd/internal/handoff"
	"github.com/fyrsmithlabs/orchd/internal/plan"
)

// Server serves orchestration state over HTTP.
type Server struct {
	echo      *echo.Echo
	plans     *plan.Store
	conflicts *conflict.Resolver
	registry  *artifact.Registry
	gates     *gate.Validator
	handoffs  *handoff.Manager
	logger    *zap.Logger
	cfg       config.ServerConfig
}

// NewServer creates the status server.
func NewServer(plans *plan.Store, conflicts *conflict.Resolver, registry *artifact.Registry, gates *gate.Validator, handoffs *handoff.Manager, logger *zap.Logger, cfg config.ServerConfig) (*Server, error) {
	if plans == nil {
		return nil, fmt.Errorf("plan store is required")
	}
	if conflicts == nil {
		return nil, fmt.Errorf("conflict resolver is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("artifact registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
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
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		plans:     plans,
		conflicts: conflicts,
		registry:  registry,
		gates:     gates,
		handoffs:  handoffs,
		logger:    logger,
		cfg:       cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/plans", s.handleListPlans)
	v1.GET("/plans/:id", s.handleGetPlan)
	v1.GET("/plans/:id/phases/:phase", s.handleGetPhase)
	v1.GET("/conflicts", s.handleListConflicts)
	v1.GET("/artifacts/:name/history", s.handleArtifactHistory)
	v1.GET("/steps/:id/gates", s.handleGateHistory)
	v1.GET("/handoffs/:id", s.handleGetHandoff)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// PlanListResponse is the response body for GET /api/v1/plans.
type PlanListResponse struct {
	Plans []string `json:"plans"`
}

func (s *Server) handleListPlans(c echo.Context) error {
	ids, err := s.plans.List(c.Request().Context())
	if err != nil {
		s.logger.Error("list plans", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list plans")
	}
	return c.JSON(http.StatusOK, PlanListResponse{Plans: ids})
}

// handleGetPlan returns the bounded master document, not the hydrated
// plan; phase detail is fetched per phase.
func (s *Server) handleGetPlan(c echo.Context) error {
	m, err := s.plans.LoadMaster(c.Request().Context(), c.Param("id"))
	if err != nil {
		return notFoundOr(err, "plan not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleGetPhase(c echo.Context) error {
	ph, err := s.plans.LoadPhase(c.Request().Context(), c.Param("id"), c.Param("phase"))
	if err != nil {
		return notFoundOr(err, "phase not found")
	}
	return c.JSON(http.StatusOK, ph)
}

// ConflictListResponse is the response body for GET /api/v1/conflicts.
type ConflictListResponse struct {
	Conflicts []*conflict.Record `json:"conflicts"`
}

func (s *Server) handleListConflicts(c echo.Context) error {
	status := conflict.Status(c.QueryParam("status"))
	records, err := s.conflicts.List(c.Request().Context(), status)
	if err != nil {
		s.logger.Error("list conflicts", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conflicts")
	}
	return c.JSON(http.StatusOK, ConflictListResponse{Conflicts: records})
}

// ArtifactHistoryResponse is the response body for artifact history.
type ArtifactHistoryResponse struct {
	Name     string               `json:"name"`
	Versions []*artifact.Artifact `json:"versions"`
}

func (s *Server) handleArtifactHistory(c echo.Context) error {
	name := c.Param("name")
	versions := s.registry.History(name)
	if len(versions) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	}
	return c.JSON(http.StatusOK, ArtifactHistoryResponse{Name: name, Versions: versions})
}

// GateHistoryResponse is the response body for a step's gate trail.
type GateHistoryResponse struct {
	StepID  string         `json:"step_id"`
	Records []*gate.Record `json:"records"`
}

func (s *Server) handleGateHistory(c echo.Context) error {
	stepID := c.Param("id")
	records, err := s.gates.History(stepID)
	if err != nil {
		s.logger.Error("gate history", zap.String("step_id", stepID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read gate history")
	}
	if len(records) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no gate records for step")
	}
	return c.JSON(http.StatusOK, GateHistoryResponse{StepID: stepID, Records: records})
}

func (s *Server) handleGetHandoff(c echo.Context) error {
	pkg, err := s.handoffs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return notFoundOr(err, "handoff package not found")
	}
	return c.JSON(http.StatusOK, pkg)
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, plan.ErrPlanNotFound) || errors.Is(err, handoff.ErrPackageNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting status server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
