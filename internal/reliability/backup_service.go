package reliability

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aristath/riskcycle/internal/database"
	"github.com/rs/zerolog"
)

// BackupService writes consistent point-in-time copies of the managed databases
type BackupService struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(databases map[string]*database.DB, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// GetDatabaseNames returns the managed database names in sorted order.
// The price cache is re-fetchable, so it is only included when includeCache is set.
func (s *BackupService) GetDatabaseNames(includeCache bool) []string {
	names := make([]string, 0, len(s.databases))
	for name, db := range s.databases {
		if !includeCache && db.Profile() == database.ProfileCache {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackupDatabase copies the named database to backupPath and verifies the copy
func (s *BackupService) BackupDatabase(ctx context.Context, name, backupPath string) error {
	db, ok := s.databases[name]
	if !ok {
		return fmt.Errorf("unknown database %q", name)
	}

	start := time.Now()

	// VACUUM INTO refuses to overwrite
	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale backup: %w", err)
	}

	if err := db.VacuumInto(ctx, backupPath); err != nil {
		return err
	}

	if err := verifyBackup(ctx, backupPath); err != nil {
		_ = os.Remove(backupPath)
		return fmt.Errorf("backup verification failed for %s: %w", name, err)
	}

	s.log.Debug().
		Str("database", name).
		Str("backup_path", backupPath).
		Dur("duration_ms", time.Since(start)).
		Msg("Database backed up")
	return nil
}

// verifyBackup opens the copy and runs an integrity check on it
func verifyBackup(ctx context.Context, path string) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned %q", result)
	}
	return nil
}
