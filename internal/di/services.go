package di

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/clients/yahoo"
	"github.com/aristath/riskcycle/internal/config"
	"github.com/aristath/riskcycle/internal/metrics"
	"github.com/aristath/riskcycle/internal/modules/allocation"
	"github.com/aristath/riskcycle/internal/modules/analysis"
	"github.com/aristath/riskcycle/internal/modules/backtest"
	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/internal/modules/history"
	"github.com/aristath/riskcycle/internal/modules/macro"
	"github.com/aristath/riskcycle/internal/modules/universe"
	"github.com/aristath/riskcycle/internal/modules/validation"
	"github.com/aristath/riskcycle/internal/reliability"
)

// analysisConcurrency bounds parallel fetches; the rate limiter still paces the upstream
const analysisConcurrency = 4

// InitializeRepositories creates every repository over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) {
	container.AssetRepo = universe.NewRepository(container.StateDB.Conn(), log)
	container.StateRepo = allocation.NewStateRepository(container.StateDB.Conn(), log)
	container.RunRepo = analysis.NewRunRepository(container.StateDB.Conn(), log)
	container.PriceCache = history.NewRepository(container.HistoryDB.Conn(), log)
}

// InitializeServices builds the data source, models and services
func InitializeServices(container *Container, log zerolog.Logger) error {
	cfg := container.Config

	strategy, err := config.LoadStrategy(cfg.StrategyFile)
	if err != nil {
		return err
	}
	if err := strategy.Validate(); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	container.Strategy = strategy

	yahooCfg := yahoo.DefaultConfig()
	yahooCfg.BaseURL = cfg.YahooBaseURL
	yahooCfg.RequestsPerSec = cfg.YahooRequestsPerSec
	container.Yahoo = yahoo.NewClient(yahooCfg, log)
	container.Source = history.NewCachedSource(container.Yahoo, container.PriceCache, cfg.PriceCacheTTL, log)

	container.Metrics = metrics.New()

	engine := allocation.NewEngine(strategy.Allocation, log)
	container.AllocationService = allocation.NewService(engine, container.StateRepo, log)

	models := analysis.Models{
		Factors:  factors.NewEngine(strategy.Factors, log),
		Harness:  validation.NewHarness(strategy.Validation, log),
		Macro:    macro.NewAnalyzer(strategy.Macro, log),
		Backtest: backtest.NewRunner(strategy.Backtest, log),
		Policy:   strategy.Allocation,
		Ratings:  strategy.Ratings,
	}
	container.AnalysisService = analysis.NewService(
		container.Source,
		container.AssetRepo,
		container.RunRepo,
		container.AllocationService,
		models,
		analysis.Config{
			Gate:        cfg.ResolveGate(strategy.Gate),
			MinBars:     strategy.MinBars,
			Concurrency: analysisConcurrency,
		},
		container.Metrics,
		log,
	)

	container.BackupService = reliability.NewBackupService(container.Databases(), log)
	if cfg.Backup.Enabled() {
		r2Client, err := reliability.NewR2Client(
			cfg.Backup.AccountID,
			cfg.Backup.AccessKeyID,
			cfg.Backup.SecretAccessKey,
			cfg.Backup.BucketName,
			log,
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize R2 client - offsite backup disabled")
		} else {
			container.R2BackupService = reliability.NewR2BackupService(r2Client, container.BackupService, cfg.DataDir, log)
			log.Info().Str("bucket", cfg.Backup.BucketName).Msg("Offsite backup enabled")
		}
	} else {
		log.Debug().Msg("R2 credentials not configured - offsite backup disabled")
	}

	return nil
}

// SeedUniverse loads the universe file into an empty asset registry.
// A populated registry or a missing file is left alone.
func SeedUniverse(ctx context.Context, container *Container, log zerolog.Logger) error {
	assets, err := container.AssetRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(assets) > 0 {
		return nil
	}

	path := container.Config.UniverseFile
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Asset registry is empty and no universe file was found")
		return nil
	}

	n, err := container.AssetRepo.Seed(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to seed universe: %w", err)
	}
	log.Info().Int("assets", n).Str("path", path).Msg("Asset registry seeded")
	return nil
}
