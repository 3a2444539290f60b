// Package database opens the connections a dump is taken from or
// restored into.
package database

import (
	"context"
	"database/sql"

	"github.com/localrivet/datadumper/pkg/dialect"
)

// Driver is a connectable database. A connected Driver satisfies
// dumper.Source.
type Driver interface {
	Type() string
	Kind() dialect.Kind
	Connect(ctx context.Context) error
	Close() error
	Version(ctx context.Context) (string, error)
	DB() *sql.DB
	Name() string
	Host() string
}

type Config struct {
	Type     string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	URL      string
	Path     string // For SQLite file path

	// Create lets a SQLite target be created when the file is missing.
	Create bool
}
