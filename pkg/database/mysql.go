package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/localrivet/datadumper/pkg/dialect"
)

type MySQLDriver struct {
	cfg *mysql.Config
	db  *sql.DB
}

// NewMySQLDriver builds the connection settings from cfg. A URL is taken
// as a go-sql-driver DSN and wins over the individual fields.
func NewMySQLDriver(cfg Config) (*MySQLDriver, error) {
	if cfg.URL != "" {
		mc, err := mysql.ParseDSN(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		return &MySQLDriver{cfg: mc}, nil
	}

	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = cfg.Name
	return &MySQLDriver{cfg: mc}, nil
}

func (m *MySQLDriver) Type() string {
	return "mysql"
}

func (m *MySQLDriver) Kind() dialect.Kind {
	return dialect.MySQL
}

// DSN renders the connection string handed to sql.Open.
func (m *MySQLDriver) DSN() string {
	return m.cfg.FormatDSN()
}

func (m *MySQLDriver) Connect(ctx context.Context) error {
	connector, err := mysql.NewConnector(m.cfg)
	if err != nil {
		return fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m.db = db
	return nil
}

func (m *MySQLDriver) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *MySQLDriver) Version(ctx context.Context) (string, error) {
	if m.db == nil {
		return "", fmt.Errorf("database not connected")
	}

	var version string
	if err := m.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to get mysql version: %w", err)
	}
	return version, nil
}

func (m *MySQLDriver) DB() *sql.DB {
	return m.db
}

func (m *MySQLDriver) Name() string {
	return m.cfg.DBName
}

func (m *MySQLDriver) Host() string {
	if m.cfg.Net == "unix" {
		return "localhost"
	}
	host, _, err := net.SplitHostPort(m.cfg.Addr)
	if err != nil {
		return m.cfg.Addr
	}
	return host
}
