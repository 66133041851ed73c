package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/i0mja/dell-infra-sync-sub004/internal/config"
	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobstore"
	"github.com/i0mja/dell-infra-sync-sub004/internal/power"
	"github.com/i0mja/dell-infra-sync-sub004/internal/schedule"
	"github.com/i0mja/dell-infra-sync-sub004/internal/server"
	"github.com/i0mja/dell-infra-sync-sub004/internal/wizard"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/execclient"
)

func main() {
	cfg := config.FromEnv()
	log := server.Logger(cfg)

	store, err := jobstore.Open(cfg.JobStorePath(), *log)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open job store")
	}
	defer store.Close()

	inv, err := inventory.NewStore(cfg.InventoryDir(), *log)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open inventory")
	}

	sub := jobs.NewSubmitter(store, *log)
	poller := jobs.NewPoller(store, cfg.PollInterval, cfg.PollMaxAttempts, *log)

	sched, err := schedule.NewScheduler(cfg.SchedulesPath(), sub, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load schedules")
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error().Err(err).Msg("scheduler shutdown")
		}
	}()

	deps := server.Deps{
		Jobs:      store,
		Submitter: sub,
		Poller:    poller,
		Inventory: inv,
		Wizard:    wizard.NewManager(inv, sub, *log),
		Power:     power.NewController(inv, sub, poller, cfg.OutletSettleDelay, *log),
		Schedules: sched,
		Exec:      execclient.New(cfg.ExecutorSocket),
	}

	srv := &http.Server{
		Addr:              cfg.Bind,
		Handler:           server.NewRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("bind", cfg.Bind).Str("state_dir", cfg.StateDir).Msg("isyncd listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("isyncd stopped")
}
