package backup

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/localrivet/datadumper/internal/config"
	"github.com/localrivet/datadumper/internal/metrics"
	"github.com/localrivet/datadumper/internal/rotation"
	"github.com/localrivet/datadumper/internal/storage"
	"github.com/localrivet/datadumper/pkg/database"
	"github.com/localrivet/datadumper/pkg/manifest"
)

func createShopDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE audit (user_id INTEGER)`,
		`INSERT INTO users VALUES (1, 'Ann'), (2, 'Bob')`,
		`INSERT INTO audit VALUES (1)`,
		`CREATE VIEW named AS SELECT name FROM users`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	return path
}

func testConfig(dbPath string) *config.Config {
	return &config.Config{
		Database:    config.DatabaseConfig{Type: "sqlite", Path: dbPath},
		Compression: "gzip",
		Retention:   config.RetentionConfig{Daily: 7, Weekly: 4, Monthly: 6},
		Backup:      config.BackupConfig{RetryAttempts: 1, VerifyAfterBackup: true},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, store storage.Backend) *Engine {
	t.Helper()
	e := NewEngine(cfg, store, nil, discardLogger())
	e.now = func() time.Time { return time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC) }
	e.retry = fastRetry(cfg.Backup.RetryAttempts)
	return e
}

func TestEngine_Run_SQLite(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t, testConfig(createShopDB(t)), store)
	e.SetMetrics(metrics.New("test"))
	ctx := context.Background()

	result, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.ID != "dump_20240305_020000" {
		t.Errorf("ID = %v, want dump_20240305_020000", result.ID)
	}
	if result.Database != "shop.db" {
		t.Errorf("Database = %v, want shop.db", result.Database)
	}
	if result.Tables != 2 || result.Views != 1 || result.Rows != 3 {
		t.Errorf("contents = %d tables, %d views, %d rows, want 2/1/3", result.Tables, result.Views, result.Rows)
	}
	if !result.Verified {
		t.Errorf("Verified = false, VerifyError = %v", result.VerifyError)
	}
	if result.Tier != rotation.Daily {
		t.Errorf("Tier = %v, want daily", result.Tier)
	}
	if !strings.HasPrefix(result.Checksum, "sha256:") {
		t.Errorf("Checksum = %v", result.Checksum)
	}

	obj, err := store.Stat(ctx, "dump_20240305_020000.sql.gz")
	if err != nil {
		t.Fatalf("dump not stored: %v", err)
	}
	if obj.Size != result.CompressedSize {
		t.Errorf("stored size = %d, want %d", obj.Size, result.CompressedSize)
	}

	m, err := e.GetDump(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetDump() error: %v", err)
	}
	if m.Dump.Compression != "gzip" || m.Dump.Checksum != result.Checksum {
		t.Errorf("manifest dump info = %+v", m.Dump)
	}
	if m.Database.Driver != "sqlite" || m.Database.Host != "local" {
		t.Errorf("manifest database = %+v", m.Database)
	}
	if m.DataFile() != "dump_20240305_020000.sql.gz" {
		t.Errorf("DataFile() = %v", m.DataFile())
	}
	if m.Type != "daily" || m.Retention.KeepUntil.IsZero() {
		t.Errorf("retention = %v/%v", m.Type, m.Retention)
	}

	dumps, err := e.ListDumps(ctx)
	if err != nil || len(dumps) != 1 {
		t.Errorf("ListDumps() = %d dumps, %v, want 1", len(dumps), err)
	}
	if e.LastRun().IsZero() || e.LastError() != nil {
		t.Errorf("LastRun/LastError = %v/%v", e.LastRun(), e.LastError())
	}
}

func TestEngine_RunWith_Overrides(t *testing.T) {
	store := newMockStorage()
	e := newTestEngine(t, testConfig(createShopDB(t)), store)

	result, err := e.RunWith(context.Background(), map[string]any{
		"compress":       "none",
		"no_data":        true,
		"exclude_tables": []string{"audit"},
	})
	if err != nil {
		t.Fatalf("RunWith() error: %v", err)
	}

	if result.Rows != 0 || result.Tables != 1 {
		t.Errorf("Rows/Tables = %d/%d, want 0/1", result.Rows, result.Tables)
	}
	keys := store.keys()
	want := []string{"dump_20240305_020000.meta.json", "dump_20240305_020000.sql"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("stored keys = %v, want %v", keys, want)
	}
}

func TestEngine_Run_InvalidOverride(t *testing.T) {
	e := newTestEngine(t, testConfig(createShopDB(t)), newMockStorage())

	if _, err := e.RunWith(context.Background(), map[string]any{"compress": "rar"}); err == nil {
		t.Error("RunWith() expected error for unknown compression")
	}
	if e.LastError() == nil {
		t.Error("LastError() = nil after failed run")
	}
}

func TestEngine_Run_ConnectRetries(t *testing.T) {
	cfg := testConfig("unused")
	cfg.Backup.RetryAttempts = 3
	e := newTestEngine(t, cfg, newMockStorage())

	calls := 0
	e.connect = func(context.Context) (database.Driver, error) {
		calls++
		return nil, errors.New("dial tcp: connection refused")
	}

	result, err := e.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if calls != 3 {
		t.Errorf("connect calls = %d, want 3", calls)
	}
	if result.Error == nil || !strings.Contains(result.Error.Error(), "failed to connect") {
		t.Errorf("result.Error = %v", result.Error)
	}
}

func TestEngine_Run_UploadFailure(t *testing.T) {
	store := newMockStorage()
	store.uploadErr = errBoom
	e := newTestEngine(t, testConfig(createShopDB(t)), store)

	if _, err := e.Run(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("Run() error = %v, want %v", err, errBoom)
	}
	if len(store.keys()) != 0 {
		t.Errorf("stored keys = %v, want none", store.keys())
	}
}

func TestEngine_Run_AlreadyRunning(t *testing.T) {
	e := newTestEngine(t, testConfig("unused"), newMockStorage())
	e.running = true

	if _, err := e.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Run() error = %v, want ErrAlreadyRunning", err)
	}
	if !e.Running() {
		t.Error("Running() = false, a concurrent run must not reset the flag")
	}
}

func TestEngine_GetDump_NotFound(t *testing.T) {
	e := newTestEngine(t, testConfig("unused"), newMockStorage())

	if _, err := e.GetDump(context.Background(), "dump_missing"); !errors.Is(err, ErrDumpNotFound) {
		t.Errorf("GetDump() error = %v, want ErrDumpNotFound", err)
	}
}

func TestEngine_ListDumps_SkipsBrokenManifests(t *testing.T) {
	store := newMockStorage()
	storeDump(store, "dump_1", ".sql", []byte(validScript), time.Now())
	store.put("dump_2.meta.json", []byte("{not json"))
	store.put("notes.txt", []byte("ignored"))
	e := newTestEngine(t, testConfig("unused"), store)

	dumps, err := e.ListDumps(context.Background())
	if err != nil {
		t.Fatalf("ListDumps() error: %v", err)
	}
	if len(dumps) != 1 || dumps[0].ID != "dump_1" {
		t.Errorf("ListDumps() = %v, want [dump_1]", dumps)
	}
}

func TestEngine_Cleanup(t *testing.T) {
	store := newMockStorage()
	base := time.Date(2024, 1, 10, 2, 0, 0, 0, time.UTC) // Wednesday
	for i := 0; i < 4; i++ {
		ts := base.AddDate(0, 0, i)
		storeDump(store, manifest.GenerateID(ts), ".sql", []byte(validScript), ts)
	}

	cfg := testConfig("unused")
	cfg.Retention = config.RetentionConfig{Daily: 2}
	e := newTestEngine(t, cfg, store)
	e.SetMetrics(metrics.New("test"))

	deleted, err := e.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	dumps, _ := e.ListDumps(context.Background())
	if len(dumps) != 2 {
		t.Fatalf("remaining dumps = %d, want 2", len(dumps))
	}
	for _, key := range store.keys() {
		if strings.Contains(key, "20240110") || strings.Contains(key, "20240111") {
			t.Errorf("expired file %s still stored", key)
		}
	}
}

func TestEngine_Cleanup_KeepsManifestWhenDataDeleteFails(t *testing.T) {
	store := newMockStorage()
	base := time.Date(2024, 1, 10, 2, 0, 0, 0, time.UTC)
	old := storeDump(store, manifest.GenerateID(base), ".sql", []byte(validScript), base)
	newer := base.AddDate(0, 0, 1)
	storeDump(store, manifest.GenerateID(newer), ".sql", []byte(validScript), newer)
	store.deleteErr[old.DataFile()] = errBoom

	cfg := testConfig("unused")
	cfg.Retention = config.RetentionConfig{Daily: 1}
	e := newTestEngine(t, cfg, store)

	deleted, err := e.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
	if _, err := e.GetDump(context.Background(), old.ID); err != nil {
		t.Errorf("manifest of undeleted dump removed: %v", err)
	}
}

func TestEngine_Verify(t *testing.T) {
	store := newMockStorage()
	storeDump(store, "dump_1", ".sql", []byte(validScript), time.Now())
	e := newTestEngine(t, testConfig("unused"), store)

	result, err := e.Verify(context.Background(), "dump_1")
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !result.Valid {
		t.Errorf("Verify() errors = %v", result.Errors)
	}

	if _, err := e.Verify(context.Background(), "dump_2"); !errors.Is(err, ErrDumpNotFound) {
		t.Errorf("Verify() missing error = %v, want ErrDumpNotFound", err)
	}
}
