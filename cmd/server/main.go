// Package main is the entry point for the riskcycle analysis server.
//
// The server keeps the asset registry and conviction state in SQLite, runs
// the batch analysis on a cron schedule and exposes signals, allocations,
// backtests and validation reports over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/riskcycle/internal/config"
	"github.com/aristath/riskcycle/internal/di"
	allocationhandlers "github.com/aristath/riskcycle/internal/modules/allocation/handlers"
	analysishandlers "github.com/aristath/riskcycle/internal/modules/analysis/handlers"
	universehandlers "github.com/aristath/riskcycle/internal/modules/universe/handlers"
	"github.com/aristath/riskcycle/internal/server"
	"github.com/aristath/riskcycle/internal/version"
	"github.com/aristath/riskcycle/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("version", version.Version).Msg("Starting riskcycle")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Version:   version.Version,
		Databases: container.Databases(),
		Jobs:      container.Scheduler,
		Metrics:   container.Metrics,
		Upstream:  container.Yahoo,
		Routes: []server.RouteRegistrar{
			analysishandlers.NewHandler(container.AnalysisService, log),
			allocationhandlers.NewHandler(container.AnalysisService, log),
			universehandlers.NewHandler(container.AssetRepo, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	container.Scheduler.Start()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	container.Scheduler.Stop(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flush the WAL before the databases close
	for name, db := range container.Databases() {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Str("database", name).Msg("Final WAL checkpoint failed")
		}
	}

	log.Info().Msg("Server stopped")
}
