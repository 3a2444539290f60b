// Package backup takes dumps of the configured database, stores them with
// a manifest and prunes them by retention policy.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/datadumper/internal/config"
	"github.com/localrivet/datadumper/internal/metrics"
	"github.com/localrivet/datadumper/internal/notify"
	"github.com/localrivet/datadumper/internal/rotation"
	"github.com/localrivet/datadumper/internal/storage"
	"github.com/localrivet/datadumper/pkg/compress"
	"github.com/localrivet/datadumper/pkg/database"
	"github.com/localrivet/datadumper/pkg/dumper"
	"github.com/localrivet/datadumper/pkg/manifest"
	"github.com/localrivet/datadumper/pkg/option"
)

var (
	ErrAlreadyRunning = errors.New("a dump is already running")
	ErrDumpNotFound   = errors.New("dump not found")
)

type Engine struct {
	cfg      *config.Config
	storage  storage.Backend
	rotator  *rotation.Rotator
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	retry    RetryConfig

	connect func(ctx context.Context) (database.Driver, error)
	now     func() time.Time

	mu        sync.Mutex
	running   bool
	lastRun   time.Time
	lastError error
}

func NewEngine(cfg *config.Config, store storage.Backend, notifier *notify.Notifier, logger *slog.Logger) *Engine {
	policy := rotation.NewPolicy(
		cfg.Retention.Daily,
		cfg.Retention.Weekly,
		cfg.Retention.Monthly,
		cfg.Retention.MaxAgeDays,
	)

	retry := DefaultRetryConfig()
	if cfg.Backup.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Backup.RetryAttempts
	}

	e := &Engine{
		cfg:      cfg,
		storage:  store,
		rotator:  rotation.NewRotator(policy),
		notifier: notifier,
		logger:   logger,
		retry:    retry,
		now:      time.Now,
	}
	e.connect = e.connectDatabase
	return e
}

// SetMetrics makes every run report to m.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

type Result struct {
	ID             string
	Timestamp      time.Time
	Database       string
	Size           int64
	CompressedSize int64
	Duration       time.Duration
	Checksum       string
	Tables         int
	Views          int
	Rows           int64
	Tier           rotation.Tier
	Verified       bool  // the stored dump was read back and parsed
	VerifyError    error // why verification failed
	Error          error
}

func (e *Engine) connectDatabase(ctx context.Context) (database.Driver, error) {
	driver, err := database.NewDriver(e.cfg.Database.Driver())
	if err != nil {
		return nil, err
	}
	if err := driver.Connect(ctx); err != nil {
		return nil, err
	}
	return driver, nil
}

// dumpOptions merges per-run overrides over the configured dump section.
// The configured compression applies unless the overrides name one.
func (e *Engine) dumpOptions(overrides map[string]any) (*option.Option, error) {
	values := maps.Clone(e.cfg.Dump)
	if values == nil {
		values = map[string]any{}
	}
	values["compress"] = e.cfg.Compression
	maps.Copy(values, overrides)
	return option.New(values)
}

// Run takes a dump with the configured options.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	return e.RunWith(ctx, nil)
}

// RunWith takes a dump with overrides applied on top of the configured
// dump options. Only one dump runs at a time.
func (e *Engine) RunWith(ctx context.Context, overrides map[string]any) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := e.now()
	result := &Result{
		ID:        manifest.GenerateID(start),
		Timestamp: start,
	}

	if err := e.run(ctx, result, overrides); err != nil {
		result.Error = err
		e.handleError(ctx, result)
		return result, err
	}

	e.mu.Lock()
	e.lastRun = start
	e.lastError = nil
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordDumpSuccess(result.Duration, result.CompressedSize)
	}
	e.notifier.NotifyDump(ctx, notify.Summary{
		DumpID:   result.ID,
		Database: result.Database,
		Size:     result.CompressedSize,
		Duration: result.Duration,
		Tables:   result.Tables,
		Rows:     result.Rows,
	})
	return result, nil
}

func (e *Engine) run(ctx context.Context, result *Result, overrides map[string]any) error {
	opt, err := e.dumpOptions(overrides)
	if err != nil {
		return fmt.Errorf("invalid dump options: %w", err)
	}
	kind, err := compress.ParseKind(opt.Compress)
	if err != nil {
		return err
	}

	e.logger.Info("starting dump", "id", result.ID, "db_type", e.cfg.Database.Type, "compression", kind)

	driver, err := WithRetry(ctx, e.retry, e.logger, "connect", func() (database.Driver, error) {
		return e.connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer driver.Close()
	result.Database = driver.Name()

	version, err := driver.Version(ctx)
	if err != nil {
		e.logger.Warn("failed to get database version", "error", err)
		version = "unknown"
	}

	tmpDir, err := os.MkdirTemp("", "datadumper-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	key := result.ID + compress.Extension(kind)
	dumpFile := filepath.Join(tmpDir, key)

	exporter, err := dumper.NewExporter(driver, opt, e.logger)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.Subscribe(exporter.Events())
	}
	if err := exporter.Process(ctx, dumpFile); err != nil {
		return fmt.Errorf("database dump failed: %w", err)
	}

	stats := exporter.Stats()
	result.Size = stats.Bytes
	result.Tables = stats.Tables
	result.Views = stats.Views
	result.Rows = stats.Rows

	info, err := os.Stat(dumpFile)
	if err != nil {
		return fmt.Errorf("failed to stat dump file: %w", err)
	}
	result.CompressedSize = info.Size()

	result.Checksum, err = manifest.CalculateChecksum(dumpFile)
	if err != nil {
		return err
	}

	if err := e.storage.Upload(ctx, key, dumpFile); err != nil {
		return fmt.Errorf("failed to write dump to storage: %w", err)
	}

	result.Duration = e.now().Sub(result.Timestamp)

	m := manifest.New(result.ID, manifest.DatabaseInfo{
		Name:    driver.Name(),
		Host:    driver.Host(),
		Version: version,
		Driver:  driver.Type(),
	}, result.Timestamp)
	m.Dump.Compression = string(kind)
	m.SetDumpInfo(result.Size, result.CompressedSize, result.Duration, result.Checksum)
	m.SetContents(result.Tables, result.Views, result.Rows)
	keepUntil, tier := e.rotator.Retention(result.Timestamp)
	m.SetRetention(keepUntil, string(tier))
	result.Tier = tier
	m.AddFile(key)
	m.AddFile(manifest.Path(result.ID))

	if err := e.writeManifest(ctx, m); err != nil {
		if derr := e.storage.Delete(context.WithoutCancel(ctx), key); derr != nil {
			e.logger.Warn("failed to remove dump without manifest", "key", key, "error", derr)
		}
		return err
	}

	if e.cfg.Backup.VerifyAfterBackup {
		e.verify(ctx, m, result)
	}

	e.logger.Info("dump completed",
		"id", result.ID,
		"tables", result.Tables,
		"rows", result.Rows,
		"size", result.Size,
		"compressed_size", result.CompressedSize,
		"duration", result.Duration,
		"tier", tier,
		"verified", result.Verified,
	)
	return nil
}

func (e *Engine) writeManifest(ctx context.Context, m *manifest.Manifest) error {
	data, err := m.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}
	if err := e.storage.Write(ctx, manifest.Path(m.ID), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (e *Engine) verify(ctx context.Context, m *manifest.Manifest, result *Result) {
	e.logger.Info("verifying dump", "id", m.ID)

	vr, err := NewValidator(e.storage, e.logger).Validate(ctx, m)
	switch {
	case err != nil:
		result.VerifyError = err
	case !vr.Valid:
		result.VerifyError = fmt.Errorf("%s", strings.Join(vr.Errors, "; "))
	default:
		result.Verified = true
		e.logger.Info("dump verified", "id", m.ID, "statements", vr.Statements)
		return
	}

	e.logger.Error("dump verification failed", "id", m.ID, "error", result.VerifyError)
	e.notifier.NotifyFailure(ctx, m.ID, false, fmt.Errorf("dump verification failed: %w", result.VerifyError))
}

// Cleanup deletes the files of every dump the retention policy no longer
// keeps and refreshes the storage gauges.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	e.logger.Info("running dump cleanup")

	dumps, err := e.ListDumps(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list dumps: %w", err)
	}

	deleted := 0
	for _, m := range e.rotator.Expired(dumps) {
		e.logger.Info("deleting expired dump", "id", m.ID, "timestamp", m.Timestamp)

		// The manifest goes last so a partial delete is retried next time.
		files := append([]string{m.DataFile()}, manifest.Path(m.ID))
		failed := false
		for _, file := range files {
			if file == "" {
				continue
			}
			if err := e.storage.Delete(ctx, file); err != nil {
				e.logger.Warn("failed to delete dump file", "file", file, "error", err)
				failed = true
				break
			}
		}
		if !failed {
			deleted++
		}
	}

	e.updateStorageMetrics(ctx)
	e.logger.Info("cleanup completed", "deleted", deleted)
	return deleted, nil
}

func (e *Engine) updateStorageMetrics(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	objects, err := e.storage.List(ctx, "")
	if err != nil {
		e.logger.Warn("failed to list storage for metrics", "error", err)
		return
	}
	var total int64
	dumps := 0
	for _, obj := range objects {
		total += obj.Size
		if strings.HasSuffix(obj.Key, manifest.Suffix) {
			dumps++
		}
	}
	e.metrics.SetStorageUsed(total, dumps)
}

// ListDumps returns the manifests in storage, newest first. Unreadable
// manifests are logged and skipped.
func (e *Engine) ListDumps(ctx context.Context) ([]*manifest.Manifest, error) {
	objects, err := e.storage.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var dumps []*manifest.Manifest
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, manifest.Suffix) {
			continue
		}
		m, err := ReadManifest(ctx, e.storage, obj.Key)
		if err != nil {
			e.logger.Warn("failed to read manifest", "key", obj.Key, "error", err)
			continue
		}
		dumps = append(dumps, m)
	}
	slices.SortFunc(dumps, func(a, b *manifest.Manifest) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return dumps, nil
}

func (e *Engine) GetDump(ctx context.Context, id string) (*manifest.Manifest, error) {
	m, err := ReadManifest(ctx, e.storage, manifest.Path(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, id)
	}
	return m, err
}

// Verify validates a stored dump by ID.
func (e *Engine) Verify(ctx context.Context, id string) (*ValidationResult, error) {
	m, err := e.GetDump(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewValidator(e.storage, e.logger).Validate(ctx, m)
}

// ReadManifest loads and parses the manifest stored at key.
func ReadManifest(ctx context.Context, store storage.Backend, key string) (*manifest.Manifest, error) {
	r, err := store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return manifest.Parse(data)
}

func (e *Engine) LastRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// Running reports whether a dump is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) handleError(ctx context.Context, result *Result) {
	e.mu.Lock()
	e.lastError = result.Error
	e.mu.Unlock()

	e.logger.Error("dump failed", "id", result.ID, "error", result.Error)
	if e.metrics != nil {
		e.metrics.RecordFailure(metrics.OpDump)
	}
	e.notifier.NotifyFailure(ctx, result.ID, false, result.Error)
}
