package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/localrivet/datadumper/pkg/dialect"
)

type SQLiteDriver struct {
	path   string
	create bool
	db     *sql.DB
}

func NewSQLiteDriver(cfg Config) (*SQLiteDriver, error) {
	path := cfg.Path
	if path == "" {
		path = cfg.Name
	}

	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	return &SQLiteDriver{
		path:   path,
		create: cfg.Create,
	}, nil
}

func (s *SQLiteDriver) Type() string {
	return "sqlite"
}

func (s *SQLiteDriver) Kind() dialect.Kind {
	return dialect.SQLite
}

func (s *SQLiteDriver) Connect(ctx context.Context) error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if !s.create {
			return fmt.Errorf("sqlite database file not found: %s", s.path)
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteDriver) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDriver) Version(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("database not connected")
	}

	var version string
	err := s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to get sqlite version: %w", err)
	}

	return version, nil
}

func (s *SQLiteDriver) DB() *sql.DB {
	return s.db
}

// Name is the database file name without its directory.
func (s *SQLiteDriver) Name() string {
	return filepath.Base(s.path)
}

func (s *SQLiteDriver) Host() string {
	return "local"
}

func (s *SQLiteDriver) Path() string {
	return s.path
}

// Snapshot copies the database file aside so a restore can be rolled back
// by hand. It returns the copy's path, or "" when there was nothing to copy.
func (s *SQLiteDriver) Snapshot() (string, error) {
	src, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open source database: %w", err)
	}
	defer src.Close()

	if fi, err := src.Stat(); err == nil && fi.Size() == 0 {
		return "", nil
	}

	dest := s.path + ".bak"
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("failed to copy database: %w", err)
	}
	return dest, out.Sync()
}
