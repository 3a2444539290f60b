package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"

	"github.com/localrivet/datadumper/pkg/dialect"
)

type PostgresDriver struct {
	cfg Config
	db  *sql.DB
}

func NewPostgresDriver(cfg Config) (*PostgresDriver, error) {
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres url: %w", err)
		}
		if cfg.Name == "" {
			cfg.Name = strings.TrimPrefix(u.Path, "/")
		}
		if cfg.Host == "" {
			cfg.Host = u.Hostname()
		}
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	return &PostgresDriver{
		cfg: cfg,
	}, nil
}

func (p *PostgresDriver) Type() string {
	return "postgres"
}

func (p *PostgresDriver) Kind() dialect.Kind {
	return dialect.Postgres
}

func (p *PostgresDriver) ConnectionString() string {
	if p.cfg.URL != "" {
		return p.cfg.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.cfg.User, p.cfg.Password),
		Host:     fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port),
		Path:     "/" + p.cfg.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (p *PostgresDriver) Connect(ctx context.Context) error {
	db, err := sql.Open("postgres", p.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	p.db = db
	return nil
}

func (p *PostgresDriver) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresDriver) Version(ctx context.Context) (string, error) {
	if p.db == nil {
		return "", fmt.Errorf("database not connected")
	}

	var version string
	err := p.db.QueryRowContext(ctx, "SELECT version()").Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to get postgres version: %w", err)
	}

	parts := strings.Fields(version)
	if len(parts) >= 2 {
		return parts[1], nil
	}
	return version, nil
}

func (p *PostgresDriver) DB() *sql.DB {
	return p.db
}

func (p *PostgresDriver) Name() string {
	return p.cfg.Name
}

func (p *PostgresDriver) Host() string {
	return p.cfg.Host
}

func (p *PostgresDriver) Config() Config {
	return p.cfg
}
