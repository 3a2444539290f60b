//go:build integration

package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/localrivet/datadumper/pkg/dumper"
	"github.com/localrivet/datadumper/pkg/option"
)

func createTestSQLiteDB(t *testing.T, path string) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to create SQLite database: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			age INTEGER
		);
		CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			product TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price REAL NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);
		CREATE VIEW order_totals AS
			SELECT u.name, SUM(o.quantity * o.price) AS total
			FROM users u JOIN orders o ON o.user_id = u.id
			GROUP BY u.name;
		INSERT INTO users (name, email, age) VALUES
			('Alice', 'alice@example.com', 30),
			('Bob', 'bob@example.com', 25),
			('Charlie', 'charlie@example.com', 35);
		INSERT INTO orders (user_id, product, quantity, price) VALUES
			(1, 'Widget', 5, 9.99),
			(1, 'Gadget', 2, 24.99),
			(2, 'Widget', 10, 9.99),
			(3, 'Gizmo', 1, 149.99);
	`)
	if err != nil {
		t.Fatalf("Failed to setup test data: %v", err)
	}
}

func connect(t *testing.T, cfg Config) Driver {
	t.Helper()
	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("NewDriver() error: %v", err)
	}
	if err := driver.Connect(context.Background()); err != nil {
		t.Skipf("%s not available: %v", cfg.Type, err)
	}
	t.Cleanup(func() { driver.Close() })
	return driver
}

func exportImport(t *testing.T, src, dst Driver, dump string, opts map[string]any) {
	t.Helper()
	ctx := context.Background()

	opt, err := option.New(opts)
	if err != nil {
		t.Fatalf("option.New() error: %v", err)
	}
	exp, err := dumper.NewExporter(src, opt, nil)
	if err != nil {
		t.Fatalf("NewExporter() error: %v", err)
	}
	if err := exp.Process(ctx, dump); err != nil {
		t.Fatalf("Export error: %v", err)
	}

	imp, err := dumper.NewImporter(dst, opt.Clone(), nil)
	if err != nil {
		t.Fatalf("NewImporter() error: %v", err)
	}
	if err := imp.Process(ctx, dump); err != nil {
		t.Fatalf("Import error: %v", err)
	}
}

func TestSQLiteDriver_Integration_ExportAndImport(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "source.db")
	createTestSQLiteDB(t, srcPath)

	src := connect(t, Config{Type: "sqlite", Path: srcPath})
	dst := connect(t, Config{Type: "sqlite", Path: filepath.Join(tmpDir, "restored.db"), Create: true})

	exportImport(t, src, dst, filepath.Join(tmpDir, "source.sql.zst"), map[string]any{
		"compress":                   "zstd",
		"disable_foreign_keys_check": true,
	})

	var userCount, orderCount int
	if err := dst.DB().QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
		t.Fatalf("Failed to count users: %v", err)
	}
	if userCount != 3 {
		t.Errorf("Expected 3 users, got %d", userCount)
	}
	if err := dst.DB().QueryRow("SELECT COUNT(*) FROM orders").Scan(&orderCount); err != nil {
		t.Fatalf("Failed to count orders: %v", err)
	}
	if orderCount != 4 {
		t.Errorf("Expected 4 orders, got %d", orderCount)
	}

	var total float64
	if err := dst.DB().QueryRow("SELECT total FROM order_totals WHERE name = 'Bob'").Scan(&total); err != nil {
		t.Fatalf("Failed to query restored view: %v", err)
	}
	if math.Abs(total-99.9) > 1e-9 {
		t.Errorf("order_totals(Bob) = %v, want 99.9", total)
	}
}

func TestSQLiteDriver_Integration_LargeDataset(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "large.db")

	db, err := sql.Open("sqlite", srcPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE events (id INTEGER PRIMARY KEY, payload TEXT)"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tx, _ := db.Begin()
	for i := range 10000 {
		if _, err := tx.Exec("INSERT INTO events (payload) VALUES (?)", fmt.Sprintf("event-%05d", i)); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	db.Close()

	src := connect(t, Config{Type: "sqlite", Path: srcPath})
	dst := connect(t, Config{Type: "sqlite", Path: filepath.Join(tmpDir, "copy.db"), Create: true})

	dump := filepath.Join(tmpDir, "large.sql.gz")
	exportImport(t, src, dst, dump, map[string]any{"compress": "gzip", "net_buffer_length": 16384})

	info, err := os.Stat(dump)
	if err != nil {
		t.Fatalf("Failed to stat dump: %v", err)
	}
	t.Logf("Compressed dump size: %d bytes", info.Size())

	var count int
	if err := dst.DB().QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("Failed to count events: %v", err)
	}
	if count != 10000 {
		t.Errorf("Expected 10000 events, got %d", count)
	}
}

// MySQL and PostgreSQL run only when a server is reachable through
// TEST_MYSQL_DSN or TEST_PG_URL.
func TestServerDrivers_Integration_ExportAndImport(t *testing.T) {
	servers := []struct {
		name string
		env  string
		typ  string
	}{
		{"mysql", "TEST_MYSQL_DSN", "mysql"},
		{"postgres", "TEST_PG_URL", "postgres"},
	}

	for _, s := range servers {
		t.Run(s.name, func(t *testing.T) {
			url := os.Getenv(s.env)
			if url == "" {
				t.Skipf("%s not set", s.env)
			}
			driver := connect(t, Config{Type: s.typ, URL: url})
			ctx := context.Background()

			if _, err := driver.DB().ExecContext(ctx, "DROP TABLE IF EXISTS dd_items"); err != nil {
				t.Fatalf("drop: %v", err)
			}
			if _, err := driver.DB().ExecContext(ctx, "CREATE TABLE dd_items (id INTEGER PRIMARY KEY, name VARCHAR(50))"); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := driver.DB().ExecContext(ctx, "INSERT INTO dd_items VALUES (1, 'it''s'), (2, NULL)"); err != nil {
				t.Fatalf("insert: %v", err)
			}

			exportImport(t, driver, driver, filepath.Join(t.TempDir(), "server.sql"), map[string]any{
				"include_tables": []string{"dd_items"},
				"add_drop_table": true,
			})

			var name string
			if err := driver.DB().QueryRowContext(ctx, "SELECT name FROM dd_items WHERE id = 1").Scan(&name); err != nil {
				t.Fatalf("select: %v", err)
			}
			if name != "it's" {
				t.Errorf("name = %q, want %q", name, "it's")
			}
		})
	}
}
