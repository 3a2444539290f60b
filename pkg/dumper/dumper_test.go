package dumper

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/datadumper/pkg/dialect"
	"github.com/localrivet/datadumper/pkg/option"
)

type testSource struct {
	db      *sql.DB
	kind    dialect.Kind
	name    string
	version string
}

func (s *testSource) DB() *sql.DB        { return s.db }
func (s *testSource) Kind() dialect.Kind { return s.kind }
func (s *testSource) Name() string       { return s.name }
func (s *testSource) Host() string       { return "localhost" }

func (s *testSource) Version(context.Context) (string, error) {
	if s.version == "" {
		return "test", nil
	}
	return s.version, nil
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func mustOption(t *testing.T, values map[string]any) *option.Option {
	t.Helper()
	o, err := option.New(values)
	require.NoError(t, err)
	return o
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
}

func dumpPath(t *testing.T, name string) string {
	return filepath.Join(t.TempDir(), name)
}
