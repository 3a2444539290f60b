package database

import (
	"fmt"

	"github.com/localrivet/datadumper/pkg/dialect"
)

func NewDriver(cfg Config) (Driver, error) {
	if cfg.Type == "" {
		cfg.Type = string(dialect.MySQL)
	}
	kind, err := dialect.ParseKind(cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	switch kind {
	case dialect.MySQL:
		return NewMySQLDriver(cfg)
	case dialect.Postgres:
		return NewPostgresDriver(cfg)
	case dialect.SQLite:
		return NewSQLiteDriver(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
