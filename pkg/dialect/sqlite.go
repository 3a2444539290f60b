package dialect

import (
	"regexp"
	"strings"

	"github.com/localrivet/datadumper/pkg/option"
)

var sqliteCreateTableRE = regexp.MustCompile(`(?i)^CREATE TABLE\s+(?:IF NOT EXISTS\s+)?`)

var sqliteNewlines = strings.NewReplacer("\r", "'||char(13)||'", "\n", "'||char(10)||'")

// SQLiteAdapter reads definitions from sqlite_master. SQLite has no stored
// routines or events, so those capabilities stay at their Base defaults.
type SQLiteAdapter struct {
	Base
}

func NewSQLite(q Querier, opt *option.Option) *SQLiteAdapter {
	return &SQLiteAdapter{Base{q: q, opt: opt}}
}

func (a *SQLiteAdapter) Kind() Kind { return SQLite }

func (a *SQLiteAdapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString keeps line breaks out of the literal so every statement line
// stays free of raw newlines inside values.
func (a *SQLiteAdapter) QuoteString(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if strings.ContainsAny(s, "\r\n") {
		s = sqliteNewlines.Replace(s)
	}
	return "'" + s + "'"
}

func (a *SQLiteAdapter) HexLiteral(hex string) string { return "X'" + hex + "'" }

func (a *SQLiteAdapter) ShowTables(string) string {
	return "SELECT tbl_name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY tbl_name"
}

func (a *SQLiteAdapter) ShowViews(string) string {
	return "SELECT tbl_name FROM sqlite_master WHERE type='view' ORDER BY tbl_name"
}

func (a *SQLiteAdapter) ShowTriggers(string) string {
	return "SELECT name FROM sqlite_master WHERE type='trigger' ORDER BY name"
}

func (a *SQLiteAdapter) ShowColumns(table string) string {
	return "PRAGMA table_xinfo(" + a.QuoteIdentifier(table) + ")"
}

func (a *SQLiteAdapter) ShowCreateTable(table string) string {
	return "SELECT tbl_name AS 'Table', sql AS 'Create Table' FROM sqlite_master " +
		"WHERE type='table' AND tbl_name=" + a.QuoteString(table)
}

func (a *SQLiteAdapter) ShowCreateView(view string) string {
	return "SELECT tbl_name AS 'View', sql AS 'Create View' FROM sqlite_master " +
		"WHERE type='view' AND tbl_name=" + a.QuoteString(view)
}

func (a *SQLiteAdapter) ShowCreateTrigger(trigger string) string {
	return "SELECT name AS 'Trigger', sql AS 'SQL Original Statement' FROM sqlite_master " +
		"WHERE type='trigger' AND name=" + a.QuoteString(trigger)
}

func (a *SQLiteAdapter) ShowIndexes(table string) string {
	return "SELECT name AS 'Index', sql AS 'Create Index' FROM sqlite_master " +
		"WHERE type='index' AND sql IS NOT NULL AND tbl_name=" + a.QuoteString(table) + " ORDER BY name"
}

func (a *SQLiteAdapter) CreateIndex(row Row) (string, error) {
	stmt, err := field(row, "Create Index", "index")
	if err != nil {
		return "", err
	}
	return stmt + ";\n\n", nil
}

func (a *SQLiteAdapter) CreateTable(row Row) (string, error) {
	stmt, err := field(row, "Create Table", "table")
	if err != nil {
		return "", err
	}
	if a.opt.IfNotExists {
		stmt = sqliteCreateTableRE.ReplaceAllString(stmt, "CREATE TABLE IF NOT EXISTS ")
	}
	return stmt + ";\n\n", nil
}

func (a *SQLiteAdapter) CreateView(row Row) (string, error) {
	stmt, err := field(row, "Create View", "view")
	if err != nil {
		return "", err
	}
	return stmt + ";\n\n", nil
}

// CreateTrigger wraps the body in a client-side delimiter block since
// trigger bodies carry their own statement terminators.
func (a *SQLiteAdapter) CreateTrigger(row Row) (string, error) {
	stmt, err := field(row, "SQL Original Statement", "trigger")
	if err != nil {
		return "", err
	}
	return "DELIMITER ;;\n" + stmt + ";;\nDELIMITER ;\n\n", nil
}

// ParseColumn reads a PRAGMA table_xinfo row. Affinity follows SQLite's
// declared-type rules, but a value's storage class can differ from its
// column's affinity, so values are always selected as literals.
func (a *SQLiteAdapter) ParseColumn(row Row) Column {
	col := Column{Name: row["name"], SQLType: row["type"], Literal: true}
	col.Type, col.Length, col.Attributes = splitColumnType(col.SQLType)

	upper := strings.ToUpper(col.SQLType)
	switch {
	case strings.Contains(upper, "BLOB"):
		col.Blob = true
	case strings.Contains(upper, "INT"),
		strings.Contains(upper, "REAL"),
		strings.Contains(upper, "FLOA"),
		strings.Contains(upper, "DOUB"),
		strings.Contains(upper, "NUMERIC"),
		strings.Contains(upper, "DECIMAL"):
		col.Numeric = true
	}
	col.Virtual = row["hidden"] == "2" || row["hidden"] == "3"
	return col
}

// SelectColumn reads the value through quote(), which renders integers,
// reals, text and blobs (as X'..') in their own storage class.
func (a *SQLiteAdapter) SelectColumn(col Column, _ bool) string {
	name := a.QuoteIdentifier(col.Name)
	return "quote(" + name + ") AS " + name
}

func (a *SQLiteAdapter) StandInTable(view string, cols []Column) string {
	return standIn(a.QuoteIdentifier, view, cols, "IF NOT EXISTS ")
}

func (a *SQLiteAdapter) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + a.QuoteIdentifier(table) + ";\n"
}

func (a *SQLiteAdapter) DropView(view string) string {
	return "DROP VIEW IF EXISTS " + a.QuoteIdentifier(view) + ";\n"
}

func (a *SQLiteAdapter) DropStandIn(view string) string {
	return "DROP TABLE IF EXISTS " + a.QuoteIdentifier(view) + ";\n"
}

func (a *SQLiteAdapter) DropTrigger(trigger string) string {
	return "DROP TRIGGER IF EXISTS " + a.QuoteIdentifier(trigger) + ";\n"
}

func (a *SQLiteAdapter) BackupParameters() string { return "PRAGMA foreign_keys=OFF;\n\n" }

func (a *SQLiteAdapter) RestoreParameters() string { return "PRAGMA foreign_keys=ON;\n" }

func (a *SQLiteAdapter) StartTransaction() string { return "BEGIN EXCLUSIVE" }

func (a *SQLiteAdapter) CommitTransaction() string { return "COMMIT" }

func (a *SQLiteAdapter) StartDisableAutocommit() string { return "BEGIN TRANSACTION;\n" }

func (a *SQLiteAdapter) EndDisableAutocommit() string { return "COMMIT;\n" }

func (a *SQLiteAdapter) ForeignKeyChecks(enabled bool) string {
	if enabled {
		return "PRAGMA foreign_keys = ON"
	}
	return "PRAGMA foreign_keys = OFF"
}

func (a *SQLiteAdapter) InsertPrefix(ignore bool) string {
	if ignore {
		return "INSERT OR IGNORE INTO"
	}
	return "INSERT INTO"
}
