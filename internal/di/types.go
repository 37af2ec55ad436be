// Package di provides dependency injection wiring and initialization.
package di

import (
	"errors"

	"github.com/aristath/riskcycle/internal/clients/yahoo"
	"github.com/aristath/riskcycle/internal/config"
	"github.com/aristath/riskcycle/internal/database"
	"github.com/aristath/riskcycle/internal/metrics"
	"github.com/aristath/riskcycle/internal/modules/allocation"
	"github.com/aristath/riskcycle/internal/modules/analysis"
	"github.com/aristath/riskcycle/internal/modules/history"
	"github.com/aristath/riskcycle/internal/modules/universe"
	"github.com/aristath/riskcycle/internal/reliability"
	"github.com/aristath/riskcycle/internal/scheduler"
)

// Container holds every long-lived dependency of the process
type Container struct {
	Config   *config.Config
	Strategy config.Strategy

	// Databases
	StateDB   *database.DB // assets, conviction_state, analysis_runs
	HistoryDB *database.DB // price_cache

	// Repositories
	AssetRepo  *universe.Repository
	StateRepo  *allocation.StateRepository
	RunRepo    *analysis.RunRepository
	PriceCache *history.Repository

	// Data source
	Yahoo  *yahoo.Client
	Source *history.CachedSource

	// Services
	Metrics           *metrics.Recorder
	AllocationService *allocation.Service
	AnalysisService   *analysis.Service
	BackupService     *reliability.BackupService
	R2BackupService   *reliability.R2BackupService // nil unless R2 is configured

	Scheduler *scheduler.Scheduler
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 2)
	if c.StateDB != nil {
		dbs[database.NameState] = c.StateDB
	}
	if c.HistoryDB != nil {
		dbs[database.NameHistory] = c.HistoryDB
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() error {
	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
