// Package restore replays a stored dump into a database.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/localrivet/datadumper/internal/config"
	"github.com/localrivet/datadumper/internal/metrics"
	"github.com/localrivet/datadumper/internal/notify"
	"github.com/localrivet/datadumper/internal/storage"
	"github.com/localrivet/datadumper/pkg/database"
	"github.com/localrivet/datadumper/pkg/dialect"
	"github.com/localrivet/datadumper/pkg/dumper"
	"github.com/localrivet/datadumper/pkg/manifest"
	"github.com/localrivet/datadumper/pkg/option"
)

var (
	ErrDumpNotFound     = errors.New("dump not found")
	ErrNoDumpFile       = errors.New("no dump file listed in manifest")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrConfirmRequired  = errors.New("restoring over the source database requires force")
	ErrDialectMismatch  = errors.New("dump was taken from a different database type")
)

type Engine struct {
	cfg      *config.Config
	storage  storage.Backend
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	connect func(ctx context.Context, cfg database.Config) (database.Driver, error)
	now     func() time.Time
}

func NewEngine(cfg *config.Config, store storage.Backend, notifier *notify.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		storage:  store,
		notifier: notifier,
		logger:   logger,
		connect:  connectDatabase,
		now:      time.Now,
	}
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

type Options struct {
	DumpID string
	// TargetDB replaces the configured database name, or the file path for
	// SQLite. Empty means the configured database itself.
	TargetDB       string
	DryRun         bool
	Force          bool // allow restoring over the configured database or across dialects
	VerifyChecksum bool
	// Values override the configured restore options for this run.
	Values map[string]any
}

type Result struct {
	DumpID        string
	TargetDB      string
	Success       bool
	ChecksumValid bool
	Statements    int64
	TablesCreated int
	RowsInserted  int64
	Duration      time.Duration
	Snapshot      string // copy of a SQLite target taken before the restore
	Error         error
}

func connectDatabase(ctx context.Context, cfg database.Config) (database.Driver, error) {
	driver, err := database.NewDriver(cfg)
	if err != nil {
		return nil, err
	}
	if err := driver.Connect(ctx); err != nil {
		return nil, err
	}
	return driver, nil
}

func (e *Engine) Restore(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{DumpID: opts.DumpID, TargetDB: opts.TargetDB}

	e.logger.Info("starting restore", "dump_id", opts.DumpID, "target_db", opts.TargetDB, "dry_run", opts.DryRun)

	if err := e.restore(ctx, opts, result); err != nil {
		result.Error = err
		e.logger.Error("restore failed", "dump_id", opts.DumpID, "error", err)
		if !opts.DryRun {
			if e.metrics != nil {
				e.metrics.RecordFailure(metrics.OpRestore)
			}
			e.notifier.NotifyFailure(ctx, opts.DumpID, true, err)
		}
		return result, err
	}
	return result, nil
}

func (e *Engine) restore(ctx context.Context, opts Options, result *Result) error {
	m, err := e.loadManifest(ctx, opts.DumpID)
	if err != nil {
		return err
	}

	file := m.DataFile()
	if file == "" {
		return ErrNoDumpFile
	}

	target, err := TargetConfig(e.cfg, opts.TargetDB)
	if err != nil {
		return err
	}
	result.TargetDB = targetName(target)

	if opts.TargetDB == "" && !opts.Force && !opts.DryRun {
		return ErrConfirmRequired
	}
	if m.Database.Driver != "" && !opts.Force {
		dumped, derr := dialect.ParseKind(m.Database.Driver)
		restoring, rerr := dialect.ParseKind(target.Type)
		if derr == nil && rerr == nil && dumped != restoring {
			return fmt.Errorf("%w: %s dump into %s", ErrDialectMismatch, dumped, restoring)
		}
	}

	opt, err := e.restoreOptions(opts.Values)
	if err != nil {
		return fmt.Errorf("invalid restore options: %w", err)
	}

	if opts.DryRun {
		if _, err := e.storage.Stat(ctx, file); err != nil {
			return fmt.Errorf("failed to stat dump file: %w", err)
		}
		e.logger.Info("dry run: would restore", "file", file, "target_db", result.TargetDB)
		result.Success = true
		return nil
	}

	start := e.now()

	tmpDir, err := os.MkdirTemp("", "datadumper-restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, path.Base(file))
	if err := e.storage.Download(ctx, file, local); err != nil {
		return fmt.Errorf("failed to download dump: %w", err)
	}

	if opts.VerifyChecksum || e.cfg.Backup.VerifyChecksum {
		if err := e.verifyChecksum(local, m, result); err != nil {
			return err
		}
	}

	driver, err := e.connect(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to connect to target database: %w", err)
	}
	defer driver.Close()

	if snap, ok := driver.(interface{ Snapshot() (string, error) }); ok {
		result.Snapshot, err = snap.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to snapshot target database: %w", err)
		}
		if result.Snapshot != "" {
			e.logger.Info("saved target snapshot", "path", result.Snapshot)
		}
	}

	importer, err := dumper.NewImporter(driver, opt, e.logger)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.Subscribe(importer.Events())
	}
	if err := importer.Process(ctx, local); err != nil {
		stats := importer.Stats()
		result.Statements = stats.Statements
		return fmt.Errorf("import failed after %d statement(s): %w", stats.Statements, err)
	}

	stats := importer.Stats()
	result.Statements = stats.Statements
	result.TablesCreated = stats.TablesCreated
	result.RowsInserted = stats.RowsInserted
	result.Duration = e.now().Sub(start)
	result.Success = true

	e.logger.Info("restore completed",
		"dump_id", m.ID,
		"target_db", result.TargetDB,
		"statements", result.Statements,
		"tables", result.TablesCreated,
		"rows", result.RowsInserted,
		"duration", result.Duration,
	)

	if e.metrics != nil {
		e.metrics.RecordRestoreSuccess(result.Duration, result.Statements)
	}
	e.notifier.NotifyRestore(ctx, notify.Summary{
		DumpID:     m.ID,
		Database:   result.TargetDB,
		Duration:   result.Duration,
		Tables:     result.TablesCreated,
		Rows:       result.RowsInserted,
		Statements: result.Statements,
	})
	return nil
}

func (e *Engine) loadManifest(ctx context.Context, id string) (*manifest.Manifest, error) {
	r, err := e.storage.Read(ctx, manifest.Path(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return manifest.Parse(data)
}

func (e *Engine) verifyChecksum(local string, m *manifest.Manifest, result *Result) error {
	if m.Dump.Checksum == "" {
		e.logger.Warn("no checksum in manifest, skipping verification", "dump_id", m.ID)
		return nil
	}

	sum, err := manifest.CalculateChecksum(local)
	if err != nil {
		return err
	}
	if sum != m.Dump.Checksum {
		e.logger.Error("checksum verification failed", "expected", m.Dump.Checksum, "actual", sum)
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, m.Dump.Checksum, sum)
	}

	result.ChecksumValid = true
	e.logger.Info("checksum verified", "dump_id", m.ID)
	return nil
}

func (e *Engine) restoreOptions(values map[string]any) (*option.Option, error) {
	merged := maps.Clone(e.cfg.Restore)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, values)
	return option.New(merged)
}

// TargetConfig returns the connection settings for restoring into target,
// a database name or a SQLite file path. A DSN or URL keeps its credentials
// and only has the database swapped. An empty target is the configured
// database.
func TargetConfig(c *config.Config, target string) (database.Config, error) {
	cfg := c.Database.Driver()
	if target == "" {
		return cfg, nil
	}

	switch c.Kind() {
	case dialect.SQLite:
		cfg.Path = target
		cfg.Name = ""
		cfg.Create = true
	case dialect.MySQL:
		cfg.Name = target
		if cfg.URL != "" {
			mc, err := mysql.ParseDSN(cfg.URL)
			if err != nil {
				return cfg, fmt.Errorf("invalid mysql dsn: %w", err)
			}
			mc.DBName = target
			cfg.URL = mc.FormatDSN()
		}
	case dialect.Postgres:
		cfg.Name = target
		if cfg.URL != "" {
			u, err := url.Parse(cfg.URL)
			if err != nil {
				return cfg, fmt.Errorf("invalid postgres url: %w", err)
			}
			u.Path = "/" + target
			cfg.URL = u.String()
		}
	}
	return cfg, nil
}

func targetName(cfg database.Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	if cfg.Name != "" {
		return cfg.Name
	}
	if mc, err := mysql.ParseDSN(cfg.URL); err == nil && mc.DBName != "" {
		return mc.DBName
	}
	if u, err := url.Parse(cfg.URL); err == nil {
		return path.Base(u.Path)
	}
	return ""
}
