// Package dialect generates the database-specific SQL a dump is made of.
//
// An Adapter knows how to enumerate objects, how to fetch and rewrite their
// definitions, and which session statements bracket a dump or a restore.
// Capabilities a database lacks return an empty string and are skipped by
// the caller.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/localrivet/datadumper/pkg/option"
)

// Kind identifies a supported database.
type Kind string

const (
	MySQL    Kind = "mysql"
	SQLite   Kind = "sqlite"
	Postgres Kind = "postgres"
)

// ParseKind maps a driver or configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgsql", "pg":
		return Postgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAdapter, name)
	}
}

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx adapters use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Row is one metadata row keyed by column name. NULL reads as "".
type Row map[string]string

// Column describes a table column as the exporter needs it.
type Column struct {
	Name       string
	SQLType    string
	Type       string
	Length     string
	Attributes string
	Numeric    bool
	Blob       bool
	Virtual    bool

	// Literal columns are selected as ready SQL literals that keep the
	// stored value's type.
	Literal bool
}

// Adapter produces dialect-specific SQL.
type Adapter interface {
	Kind() Kind

	QuoteIdentifier(name string) string
	QuoteString(s string) string
	HexLiteral(hex string) string
	InitCommands() []string

	ShowTables(database string) string
	ShowViews(database string) string
	ShowTriggers(database string) string
	ShowProcedures(database string) string
	ShowFunctions(database string) string
	ShowEvents(database string) string
	ShowColumns(table string) string

	ShowCreateTable(table string) string
	ShowCreateView(view string) string
	ShowCreateTrigger(trigger string) string
	ShowCreateProcedure(procedure string) string
	ShowCreateFunction(function string) string
	ShowCreateEvent(event string) string

	CreateTable(row Row) (string, error)
	CreateView(row Row) (string, error)
	CreateTrigger(row Row) (string, error)
	CreateProcedure(row Row) (string, error)
	CreateFunction(row Row) (string, error)
	CreateEvent(row Row) (string, error)

	ShowIndexes(table string) string
	ShowForeignKeys(table string) string
	ShowSequences(table string) string
	CreateIndex(row Row) (string, error)
	CreateForeignKey(row Row) (string, error)
	ResetSequence(table, column string) string

	ParseColumn(row Row) Column
	SelectColumn(col Column, hexBlob bool) string
	StandInTable(view string, cols []Column) string

	DatabaseHeader(database string) string
	CreateDatabase(ctx context.Context, database string) (string, error)
	DropDatabase(database string) string
	DropTable(table string) string
	DropView(view string) string
	DropStandIn(view string) string
	DropTrigger(trigger string) string

	BackupParameters() string
	RestoreParameters() string

	SetupTransaction() string
	StartTransaction() string
	CommitTransaction() string
	LockTable(ctx context.Context, table string) error
	UnlockTable(ctx context.Context, table string) error

	StartAddLockTable(table string) string
	EndAddLockTable(table string) string
	StartDisableKeys(table string) string
	EndDisableKeys(table string) string
	StartDisableAutocommit() string
	EndDisableAutocommit() string
	ForeignKeyChecks(enabled bool) string

	InsertPrefix(ignore bool) string
	InsertSuffix(ignore bool) string
}

type constructor func(q Querier, opt *option.Option) Adapter

var registry = map[Kind]constructor{
	MySQL:    func(q Querier, opt *option.Option) Adapter { return NewMySQL(q, opt) },
	SQLite:   func(q Querier, opt *option.Option) Adapter { return NewSQLite(q, opt) },
	Postgres: func(q Querier, opt *option.Option) Adapter { return NewPostgres(q, opt) },
}

// Supported reports whether an adapter exists for kind.
func Supported(kind Kind) error {
	if _, ok := registry[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidAdapter, kind)
	}
	return nil
}

// New returns the adapter for kind bound to q.
func New(kind Kind, q Querier, opt *option.Option) (Adapter, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAdapter, kind)
	}
	if opt == nil {
		opt = option.Default()
	}
	return ctor(q, opt), nil
}

// FetchRows runs query and returns every row keyed by column name.
func FetchRows(ctx context.Context, q Querier, query string) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i].String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FetchFirstColumn runs query and returns the first column of every row.
func FetchFirstColumn(ctx context.Context, q Querier, query string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals[0].String)
	}
	return out, rows.Err()
}

// field returns row[key] or a missing-field error naming what was read.
func field(row Row, key, object string) (string, error) {
	v, ok := row[key]
	if !ok {
		return "", &MissingFieldError{Object: object, Field: key}
	}
	return v, nil
}

// standIn renders a placeholder table with the view's column layout.
func standIn(quote func(string) string, view string, cols []Column, ifNotExists string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(ifNotExists)
	b.WriteString(quote(view))
	b.WriteString(" (\n")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(quote(c.Name))
		b.WriteString(" ")
		b.WriteString(c.SQLType)
		b.WriteString("\n")
	}
	b.WriteString(");\n\n")
	return b.String()
}

// splitColumnType breaks "varchar(255) unsigned" into type, length and
// attributes.
func splitColumnType(sqlType string) (typ, length, attrs string) {
	parts := strings.SplitN(strings.TrimSpace(sqlType), " ", 2)
	head := parts[0]
	if len(parts) > 1 {
		attrs = parts[1]
	}
	if i := strings.Index(head, "("); i > 0 {
		typ = head[:i]
		length = strings.TrimSuffix(head[i+1:], ")")
		return strings.ToLower(typ), length, attrs
	}
	return strings.ToLower(head), "", attrs
}
