package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/reliability"
	"github.com/aristath/riskcycle/internal/scheduler"
)

const day = 24 * time.Hour

// RegisterJobs creates the scheduler and registers every background job
func RegisterJobs(container *Container, log zerolog.Logger) error {
	cfg := container.Config
	sched := scheduler.New(log)

	if err := sched.AddJob(cfg.AnalysisSchedule, scheduler.NewAnalysisJob(container.AnalysisService, log)); err != nil {
		return fmt.Errorf("failed to register analysis job: %w", err)
	}

	maintenance := scheduler.NewMaintenanceJob(
		container.Databases(),
		[]scheduler.Retention{
			{Name: "analysis_runs", Purger: container.RunRepo, MaxAge: time.Duration(cfg.RunRetentionDays) * day},
			{Name: "price_cache", Purger: container.PriceCache, MaxAge: time.Duration(cfg.CacheRetentionDays) * day},
		},
		cfg.DataDir,
		log,
	)
	if err := sched.AddJob(cfg.MaintenanceSchedule, maintenance); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if container.R2BackupService != nil {
		backup := reliability.NewBackupJob(container.R2BackupService, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob(cfg.Backup.Schedule, backup); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	container.Scheduler = sched
	return nil
}
