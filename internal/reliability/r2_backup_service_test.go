package reliability

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcycle/internal/database"
	"github.com/aristath/riskcycle/internal/modules/universe"
	testutil "github.com/aristath/riskcycle/internal/testing"
)

// memoryStore is an in-memory ObjectStore
type memoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failList  error
	deleteErr map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, deleteErr: map[string]error{}}
}

func (m *memoryStore) Upload(_ context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: got %d want %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	if m.failList != nil {
		return nil, m.failList
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) Download(_ context.Context, key string, w io.Writer) error {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return errors.New("no such key")
	}
	_, err := w.Write(data)
	return err
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newBackupFixture(t *testing.T) (*R2BackupService, *memoryStore, *database.DB) {
	t.Helper()

	state := testutil.NewTestDB(t, database.NameState)
	history := testutil.NewTestDB(t, database.NameHistory)

	repo := universe.NewRepository(state.Conn(), zerolog.Nop())
	for _, a := range testutil.NewAssetFixtures() {
		require.NoError(t, repo.Upsert(context.Background(), a))
	}

	backups := NewBackupService(map[string]*database.DB{
		database.NameState:   state,
		database.NameHistory: history,
	}, zerolog.Nop())

	store := newMemoryStore()
	svc := NewR2BackupService(store, backups, t.TempDir(), zerolog.Nop())
	return svc, store, state
}

func TestBackupService_DatabaseNames(t *testing.T) {
	svc, _, _ := newBackupFixture(t)

	assert.Equal(t, []string{database.NameState}, svc.backupService.GetDatabaseNames(false))
	assert.Equal(t, []string{database.NameHistory, database.NameState}, svc.backupService.GetDatabaseNames(true))
}

func TestBackupService_UnknownDatabase(t *testing.T) {
	svc, _, _ := newBackupFixture(t)

	err := svc.backupService.BackupDatabase(context.Background(), "ledger", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestBackupService_OverwritesStaleCopy(t *testing.T) {
	svc, _, _ := newBackupFixture(t)
	path := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	require.NoError(t, svc.backupService.BackupDatabase(context.Background(), database.NameState, path))

	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM assets").Scan(&n))
	assert.Equal(t, 4, n)
}

func TestR2BackupService_CreateAndRestore(t *testing.T) {
	svc, store, _ := newBackupFixture(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC) }
	ctx := context.Background()

	key, err := svc.CreateAndUploadBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "riskcycle-backup-2026-03-01-123045.tar.gz", key)
	assert.Equal(t, []string{key}, store.keys())

	dest := t.TempDir()
	meta, err := svc.RestoreBackup(ctx, "", dest)
	require.NoError(t, err)
	require.Len(t, meta.Databases, 1)
	assert.Equal(t, database.NameState, meta.Databases[0].Name)
	assert.True(t, strings.HasPrefix(meta.Databases[0].Checksum, "sha256:"))

	conn, err := sql.Open("sqlite", filepath.Join(dest, "state.db"))
	require.NoError(t, err)
	defer conn.Close()

	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM assets").Scan(&n))
	assert.Equal(t, 4, n)
}

func TestR2BackupService_StagingIsRemoved(t *testing.T) {
	svc, _, _ := newBackupFixture(t)

	_, err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(svc.stagingRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestR2BackupService_RestoreDetectsCorruption(t *testing.T) {
	svc, store, _ := newBackupFixture(t)
	ctx := context.Background()

	key, err := svc.CreateAndUploadBackup(ctx)
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = svc.RestoreBackup(ctx, key, dest)
	require.NoError(t, err)

	// Re-pack the archive with a tampered database file
	require.NoError(t, os.WriteFile(filepath.Join(dest, "state.db"), []byte("tampered"), 0644))
	tampered := filepath.Join(t.TempDir(), key)
	require.NoError(t, createArchive(tampered, dest, []string{"state.db", metadataFile}))
	raw, err := os.ReadFile(tampered)
	require.NoError(t, err)
	require.NoError(t, store.Upload(ctx, key, bytes.NewReader(raw), int64(len(raw))))

	_, err = svc.RestoreBackup(ctx, key, t.TempDir())
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestR2BackupService_RestoreWithoutBackups(t *testing.T) {
	svc, _, _ := newBackupFixture(t)

	_, err := svc.RestoreBackup(context.Background(), "", t.TempDir())
	assert.Error(t, err)
}

func TestR2BackupService_ListBackups(t *testing.T) {
	svc, store, _ := newBackupFixture(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	store.objects[archiveName(now.Add(-48*time.Hour))] = []byte("a")
	store.objects[archiveName(now.Add(-2*time.Hour))] = []byte("bb")
	store.objects["riskcycle-backup-garbage.tar.gz"] = []byte("c")

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, int64(2), backups[0].AgeHours)
	assert.Equal(t, int64(2), backups[0].SizeBytes)
	assert.Equal(t, int64(48), backups[1].AgeHours)
}

func TestR2BackupService_RotateOldBackups(t *testing.T) {
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		ages          []int // days
		retentionDays int
		wantDeleted   int
	}{
		{"zero retention keeps everything", []int{1, 40, 50, 60, 70}, 0, 0},
		{"too few to rotate", []int{40, 50, 60}, 30, 0},
		{"deletes only expired beyond minimum", []int{1, 2, 3, 10, 40, 50}, 30, 2},
		{"minimum kept even when all expired", []int{40, 41, 42, 43}, 30, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newBackupFixture(t)
			svc.now = func() time.Time { return now }
			for _, age := range tt.ages {
				store.objects[archiveName(now.AddDate(0, 0, -age))] = []byte("x")
			}

			deleted, err := svc.RotateOldBackups(context.Background(), tt.retentionDays)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDeleted, deleted)
			assert.Len(t, store.keys(), len(tt.ages)-tt.wantDeleted)
		})
	}
}

func TestR2BackupService_RotateContinuesPastDeleteFailure(t *testing.T) {
	svc, store, _ := newBackupFixture(t)
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for _, age := range []int{1, 2, 3, 40, 50} {
		store.objects[archiveName(now.AddDate(0, 0, -age))] = []byte("x")
	}
	store.deleteErr[archiveName(now.AddDate(0, 0, -40))] = errors.New("denied")

	deleted, err := svc.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestR2BackupService_ListFailure(t *testing.T) {
	svc, store, _ := newBackupFixture(t)
	store.failList = errors.New("unreachable")

	_, err := svc.RotateOldBackups(context.Background(), 30)
	assert.Error(t, err)
}

func TestNewR2Client_RequiresCredentials(t *testing.T) {
	tests := []struct {
		name    string
		account string
		key     string
		secret  string
		bucket  string
	}{
		{"no account", "", "k", "s", "b"},
		{"no key", "acct", "", "s", "b"},
		{"no secret", "acct", "k", "", "b"},
		{"no bucket", "acct", "k", "s", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewR2Client(tt.account, tt.key, tt.secret, tt.bucket, zerolog.Nop())
			assert.ErrorIs(t, err, ErrMissingCredentials)
		})
	}
}

func TestNewR2Client_Configured(t *testing.T) {
	client, err := NewR2Client("acct", "key", "secret", "bucket", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "bucket", client.Bucket())
}

func TestBackupJob_UploadsAndRotates(t *testing.T) {
	svc, store, _ := newBackupFixture(t)
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	for _, age := range []int{1, 2, 3, 60} {
		store.objects[archiveName(now.AddDate(0, 0, -age))] = []byte("x")
	}

	job := NewBackupJob(svc, 30, zerolog.Nop())
	assert.Equal(t, "backup", job.Name())
	require.NoError(t, job.Run(context.Background()))

	keys := store.keys()
	assert.Len(t, keys, 4)
	assert.Contains(t, keys, archiveName(now))
	assert.NotContains(t, keys, archiveName(now.AddDate(0, 0, -60)))
}

func TestBackupJob_RotationFailureIsNotFatal(t *testing.T) {
	svc, store, _ := newBackupFixture(t)
	store.failList = errors.New("unreachable")

	job := NewBackupJob(svc, 30, zerolog.Nop())
	assert.NoError(t, job.Run(context.Background()))
	assert.Len(t, store.keys(), 1)
}
