package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/riskcycle/internal/database"
)

// minFreeDiskBytes is the free space below which maintenance reports failure
const minFreeDiskBytes = 500 * 1024 * 1024

// Purger deletes rows older than a cutoff
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention pairs a purger with the maximum age it keeps
type Retention struct {
	Name   string
	Purger Purger
	MaxAge time.Duration
}

// MaintenanceJob checks database integrity, truncates WAL files, applies
// retention and checks free disk space under the data directory
type MaintenanceJob struct {
	databases  map[string]*database.DB
	retentions []Retention
	dataDir    string
	now        func() time.Time
	log        zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(databases map[string]*database.DB, retentions []Retention, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases:  databases,
		retentions: retentions,
		dataDir:    dataDir,
		now:        time.Now,
		log:        log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes every maintenance step. Integrity and disk failures are
// returned together once all steps have run.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	start := j.now()
	var errs []error

	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := j.databases[name]
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Database health check failed")
			errs = append(errs, err)
			continue
		}
		// Not critical
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	for _, r := range j.retentions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cutoff := j.now().Add(-r.MaxAge)
		removed, err := r.Purger.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			j.log.Warn().Err(err).Str("retention", r.Name).Msg("Retention purge failed")
			continue
		}
		j.log.Info().
			Str("retention", r.Name).
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Retention applied")
	}

	if j.dataDir != "" {
		if err := j.checkDiskSpace(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	j.log.Info().Dur("duration_ms", j.now().Sub(start)).Msg("Maintenance completed")
	return errors.Join(errs...)
}

func (j *MaintenanceJob) checkDiskSpace(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.dataDir).Msg("Failed to read disk usage")
		return nil
	}

	freeGB := float64(usage.Free) / 1e9
	if usage.Free < minFreeDiskBytes {
		j.log.Error().Float64("available_gb", freeGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free under %s", freeGB, j.dataDir)
	}
	if usage.UsedPercent > 90 {
		j.log.Warn().
			Float64("available_gb", freeGB).
			Float64("used_percent", usage.UsedPercent).
			Msg("Disk space running low")
	}
	return nil
}
