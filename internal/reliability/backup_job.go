package reliability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// BackupJob uploads a fresh offsite backup and rotates expired ones
type BackupJob struct {
	service       *R2BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(service *R2BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates the backup first; a rotation failure does not fail the job
func (j *BackupJob) Run(ctx context.Context) error {
	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Error().Err(err).Msg("Failed to rotate old backups")
	}
	return nil
}
