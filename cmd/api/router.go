package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/crucial707/resource-scheduler/internal/config"
	"github.com/crucial707/resource-scheduler/internal/handlers"
	"github.com/crucial707/resource-scheduler/internal/middleware"
	"github.com/crucial707/resource-scheduler/internal/provider"
	"github.com/crucial707/resource-scheduler/internal/repo"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// deps are the optional collaborators main wires in after connecting.
type deps struct {
	Registry  *provider.Registry
	Heartbeat handlers.HeartbeatReader
	Logger    *zap.Logger
	Now       func() time.Time
}

func newRouter(db *sql.DB, cfg config.Config, d deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Registry == nil {
		d.Registry = provider.NewRegistry(cfg.ProviderRPS, cfg.ProviderBurst)
	}

	scheduleHandler := &handlers.ScheduleHandler{
		Repo:      repo.NewScheduleRepo(db),
		Runs:      repo.NewRunRepo(db),
		Providers: d.Registry,
		Logger:    d.Logger,
		Now:       d.Now,
	}
	statusHandler := &handlers.StatusHandler{
		DB:        db,
		Heartbeat: d.Heartbeat,
		Kinds:     d.Registry.Kinds(),
		Logger:    d.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLog(d.Logger))
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.Prometheus)
	r.Use(middleware.SecurityHeaders(cfg.TLSCertFile != ""))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	r.Get("/health", statusHandler.Health)
	r.Get("/ready", statusHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	limiter := middleware.NewWorkspaceRateLimiter(rate.Limit(cfg.WorkspaceRPS), cfg.WorkspaceBurst)

	r.Group(func(r chi.Router) {
		r.Use(middleware.WorkspaceAuth([]byte(cfg.JWTSecret)))
		r.Use(limiter.Middleware)
		r.Use(middleware.JSONBody(middleware.DefaultMaxBodyBytes))

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", scheduleHandler.ListSchedules)
			r.Post("/", scheduleHandler.CreateSchedule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", scheduleHandler.GetSchedule)
				r.Patch("/", scheduleHandler.UpdateSchedule)
				r.Delete("/", scheduleHandler.DeleteSchedule)
				r.Get("/runs", scheduleHandler.ListRuns)
			})
		})
		r.Get("/scheduler/status", statusHandler.SchedulerStatus)
	})

	return r
}
