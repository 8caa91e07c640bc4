// Package http serves the feltd API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/sanitize"
	"github.com/fyrsmithlabs/feltd/internal/services"
	"github.com/fyrsmithlabs/feltd/internal/telemetry"
	"github.com/fyrsmithlabs/feltd/internal/turn"
)

// maxBodySize caps request bodies; turn text is bounded well below this.
const maxBodySize = "64K"

// relatedLimit bounds the co-mentioned keys returned with a profile.
const relatedLimit = 10

// Server provides HTTP endpoints for feltd.
type Server struct {
	echo      *echo.Echo
	registry  services.Registry
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Metrics exposes the telemetry Prometheus handler at /metrics.
	Metrics bool
}

// NewServer creates a new HTTP server. tel may be nil, in which case
// /metrics is not served and /health reports telemetry as degraded.
func NewServer(reg services.Registry, tel *telemetry.Telemetry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if reg == nil || reg.Processor() == nil {
		return nil, fmt.Errorf("registry with a turn processor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8420,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(newRouteMetrics(nil, logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", statusOf(c, err)),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		registry:  reg,
		telemetry: tel,
		logger:    logger,
		config:    cfg,
	}

	if promReg := tel.Registry(); cfg.Metrics && promReg != nil {
		if err := RegisterStateGauges(promReg, reg); err != nil {
			return nil, fmt.Errorf("registering state gauges: %w", err)
		}
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.config.Metrics {
		if h := s.telemetry.MetricsHandler(); h != nil {
			s.echo.GET("/metrics", echo.WrapHandler(h))
		}
	}

	v1 := s.echo.Group("/v1")
	v1.POST("/turns", s.handleTurn)
	v1.GET("/families", s.handleFamilies)
	v1.GET("/coupling", s.handleCoupling)
	v1.GET("/users/:user/entities/:key", s.handleEntity)
}

// handleHealth reports liveness and telemetry state.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Telemetry: s.telemetry.Health()}
	if resp.Telemetry.Degraded {
		resp.Status = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

// handleTurn runs one turn through the processor.
func (s *Server) handleTurn(c echo.Context) error {
	var req turn.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid turn request", zap.Error(err))
		c.Set(turnOutcomeKey, turnOutcome{Rejected: rejectBody})
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.registry.Processor().Process(c.Request().Context(), req)
	if err != nil {
		return s.rejectTurn(c, req, err)
	}
	c.Set(turnOutcomeKey, turnOutcome{
		Strategy: resp.Strategy.String(),
		Source:   string(resp.Source),
		State:    resp.State.String(),
	})
	return c.JSON(http.StatusOK, resp)
}

// rejectTurn maps a Process error to a client-facing status.
func (s *Server) rejectTurn(c echo.Context, req turn.Request, err error) error {
	var reason string
	var herr *echo.HTTPError
	switch {
	case errors.Is(err, turn.ErrEmptyUser):
		reason, herr = rejectUser, echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	case errors.Is(err, sanitize.ErrInvalidID):
		reason, herr = rejectID, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, turn.ErrTextTooLong):
		reason, herr = rejectTooLong, echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		s.logger.Error("turn failed", zap.String("user.id", req.UserID), zap.Error(err))
		reason, herr = rejectInternal, echo.NewHTTPError(http.StatusInternalServerError, "turn failed")
	}
	c.Set(turnOutcomeKey, turnOutcome{Rejected: reason})
	return herr
}

// handleFamilies lists the learned families.
func (s *Server) handleFamilies(c echo.Context) error {
	pool := s.registry.Learning().Families()
	return c.JSON(http.StatusOK, FamiliesResponse{
		Stats:    pool.Stats(),
		Families: pool.Families(),
	})
}

// handleCoupling returns the coupling matrix and its summary statistics.
func (s *Server) handleCoupling(c echo.Context) error {
	store := s.registry.Learning().CouplingStore()
	return c.JSON(http.StatusOK, CouplingResponse{
		Matrix:    store.Snapshot().Matrix,
		Turns:     store.Turns(),
		Std:       store.Std(),
		Mean:      store.Mean(),
		Saturated: store.Saturated(),
	})
}

// handleEntity returns one entity profile with its co-mentioned keys.
func (s *Server) handleEntity(c echo.Context) error {
	userID, key := c.Param("user"), c.Param("key")
	if err := sanitize.ValidateID(userID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tracker := s.registry.Entities()

	prof, err := tracker.Query(userID, key)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "entity not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	related, err := tracker.Related(c.Request().Context(), userID, key, relatedLimit)
	if err != nil {
		s.logger.Debug("related lookup failed", zap.String("user.id", userID), zap.Error(err))
	}
	return c.JSON(http.StatusOK, EntityResponse{
		Profile:     prof,
		Familiarity: prof.Familiarity(),
		Related:     related,
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
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
