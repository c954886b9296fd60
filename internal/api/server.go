package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bakkerme/culler/internal/audit"
	"github.com/bakkerme/culler/internal/config"
	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/observability/metrics"
	"github.com/bakkerme/culler/internal/runner"
)

const version = "0.1.0"

// RunRequest starts a run. Either Job names a configured job, or the ad hoc
// fields describe one.
type RunRequest struct {
	Job      string `json:"job" validate:"required_without_all=Key Rule Contains"`
	Scope    string `json:"scope"`
	Match    string `json:"match"`
	Key      string `json:"key"`
	Policy   string `json:"policy"`
	MinSize  int    `json:"min_size" validate:"omitempty,min=2"`
	Rule     string `json:"rule" validate:"excluded_with=Contains"`
	Contains string `json:"contains"`
	DryRun   *bool  `json:"dry_run"`
}

type Server struct {
	logger  *slog.Logger
	runner  *runner.Runner
	factory config.JobFactory
	jobs    map[string]*core.Job
	audit   audit.Store
	metrics *metrics.Collector
	echo    *echo.Echo
}

type Options struct {
	Logger  *slog.Logger
	Runner  *runner.Runner
	Factory config.JobFactory
	Jobs    []*core.Job
	Audit   audit.Store
	Metrics *metrics.Collector
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	jobs := make(map[string]*core.Job, len(opts.Jobs))
	for _, job := range opts.Jobs {
		if job != nil {
			jobs[job.Name] = job
		}
	}

	server := &Server{
		logger:  logger,
		runner:  opts.Runner,
		factory: opts.Factory,
		jobs:    jobs,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		echo:    e,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/runs", s.handleCreateRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "culler",
		"version": version,
		"jobs":    len(s.jobs),
	})
}

func (s *Server) handleCreateRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job, err := s.resolveJob(req)
	if err != nil {
		return err
	}

	run, err := s.runner.RunJob(c.Request().Context(), job)
	if run == nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, core.ErrSnapshotUnavailable):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	if err != nil {
		s.logger.Error("run failed", "run_id", run.ID, "error", err)
	}
	return c.JSON(status, run)
}

// resolveJob returns the configured job the request names, or builds an ad hoc
// one from its fields. A dry_run field overrides the job's setting.
func (s *Server) resolveJob(req RunRequest) (*core.Job, error) {
	if req.Job != "" {
		configured, ok := s.jobs[req.Job]
		if !ok {
			return nil, echo.NewHTTPError(http.StatusNotFound, "unknown job "+strconv.Quote(req.Job))
		}
		job := *configured
		if req.DryRun != nil {
			job.DryRun = *req.DryRun
		}
		return &job, nil
	}

	cfg := config.JobConfig{
		Name:  "adhoc",
		Scope: config.ScopeConfig{Scope: req.Scope, Match: req.Match},
	}
	if req.DryRun != nil {
		cfg.DryRun = *req.DryRun
	}
	if req.Key != "" {
		cfg.Dedupe = &config.DedupeConfig{Key: req.Key, Policy: req.Policy, MinSize: req.MinSize}
	}
	switch {
	case req.Rule != "":
		cfg.Filter = &config.FilterConfig{Rule: req.Rule}
	case req.Contains != "":
		cfg.Filter = &config.FilterConfig{Contains: &config.ContainsFilter{Substring: req.Contains}}
	}

	doc := config.CullerDocument{Jobs: []config.JobConfig{cfg}}
	jobs, err := doc.ParseJobs(s.factory)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return jobs[0], nil
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.audit == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit store is disabled")
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := s.audit.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c echo.Context) error {
	if s.audit == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit store is disabled")
	}
	run, err := s.audit.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, audit.ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}
