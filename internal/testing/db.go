// Package testing provides testing utilities and helpers for the riskcycle project.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/riskcycle/internal/database"
)

// NewTestDB creates a file-backed SQLite database in t.TempDir() with the
// embedded schema for name applied. The database is closed on test cleanup.
//
// Supported schema names:
//   - "state" - assets, conviction_state, analysis_runs
//   - "history" - price_cache
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileStandard
	if name == database.NameHistory {
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			// Log error but don't fail test
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})
	return db
}
