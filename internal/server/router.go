package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/i0mja/dell-infra-sync-sub004/internal/config"
	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobstore"
	"github.com/i0mja/dell-infra-sync-sub004/internal/power"
	"github.com/i0mja/dell-infra-sync-sub004/internal/schedule"
	"github.com/i0mja/dell-infra-sync-sub004/internal/wizard"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/execclient"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

const version = "0.2.1"

func Logger(cfg config.Config) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Logger.Level(cfg.LogLevel).With().Timestamp().Logger()
	return &logger
}

// Deps carries the wired subsystems into the router. Handlers receive only
// the slices they need.
type Deps struct {
	Jobs      *jobstore.Store
	Submitter *jobs.Submitter
	Poller    *jobs.Poller
	Inventory *inventory.Store
	Wizard    *wizard.Manager
	Power     *power.Controller
	Schedules *schedule.Scheduler
	Exec      *execclient.Client
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(zerologMiddleware(Logger(cfg)))

	if cfg.CORSOrigin != "" {
		c := cors.New(cors.Options{
			AllowedOrigins:   []string{cfg.CORSOrigin},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		})
		r.Use(c.Handler)
	}

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
	})

	if cfg.MetricsEnabled {
		mountMetricsRoutes(r, d.Exec)
	}
	if cfg.PprofEnabled {
		r.Mount("/debug", middleware.Profiler())
	}

	codec := newSessionCodec()
	presence := &executorPresence{}

	r.Route("/api/v1", func(api chi.Router) {
		api.Mount("/jobs", NewJobsHandler(d.Jobs, d.Submitter, d.Poller).Routes())
		api.Mount("/safety", NewSafetyHandler(d.Jobs, d.Submitter, d.Poller).Routes())
		api.Mount("/wizard", NewWizardHandler(d.Wizard, codec).Routes())
		api.Mount("/outlets", NewOutletsHandler(d.Power, d.Inventory).Routes())
		api.Mount("/inventory", NewInventoryHandler(d.Inventory, d.Submitter).Routes())
		api.Mount("/schedules", NewSchedulesHandler(d.Schedules).Routes())
		api.Mount("/system", NewSystemHandler(d.Exec, presence).Routes())
		api.Mount("/executor", NewExecutorHandler(d.Jobs, d.Inventory, presence).Routes())
	})

	return r
}

// operatorFrom reads the identity the front proxy injected. The daemon binds
// to loopback and relies on that proxy for authentication, so an empty value
// just means the request skipped the proxy.
func operatorFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Remote-User"))
}
