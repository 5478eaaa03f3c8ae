// Package api serves the operator HTTP surface of the scheduler process:
// liveness and dependency health, the job inspection view and the cron
// schedule. It is mounted on a chi router and speaks JSON only.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subwatch/internal/scheduler"
	"subwatch/internal/types"
)

const defaultRequestTimeout = 10 * time.Second

// JobLister reads jobs for the operator view. jobs.JobStore implements it.
type JobLister interface {
	ListByState(ctx context.Context, state types.JobState, limit int) ([]*types.Job, error)
}

// ScheduleSource exposes the registered cron entries.
type ScheduleSource interface {
	Entries() []scheduler.EntryInfo
}

// Server holds the dependencies of the ops router.
type Server struct {
	Logger       *slog.Logger
	Jobs         JobLister
	Schedule     ScheduleSource
	HealthProbes []HealthProbe
	Build        string

	router *chi.Mux
}

// NewServer creates a Server with its routes mounted.
func NewServer(jobs JobLister, schedule ScheduleSource, logger *slog.Logger, probes ...HealthProbe) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Logger:       logger,
		Jobs:         jobs,
		Schedule:     schedule,
		HealthProbes: probes,
		router:       chi.NewRouter(),
	}
	s.MountRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MountRoutes registers the middleware chain and the ops endpoints.
//
// Middleware order:
//  1. Recoverer, outermost so it sees every panic.
//  2. ContextTimeout.
//  3. RequestID, before logging so log lines carry it.
//  4. RequestLogger.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/healthz", s.HandleHealth)
	s.router.Get("/jobs", s.HandleListJobs)
	s.router.Get("/schedule", s.HandleSchedule)
}
