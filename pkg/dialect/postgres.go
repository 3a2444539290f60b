package dialect

import (
	"regexp"
	"slices"
	"strings"

	"github.com/lib/pq"

	"github.com/localrivet/datadumper/pkg/option"
)

var pgCreateTableRE = regexp.MustCompile(`^CREATE TABLE\s+(?:IF NOT EXISTS\s+)?`)

var pgEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `''`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\x00", "",
)

var (
	pgNumericTypes = []string{
		"smallint", "integer", "bigint", "real", "double precision", "numeric",
		"decimal", "smallserial", "serial", "bigserial", "oid",
	}
	pgBlobTypes = []string{"bytea"}
)

// pgCreateTableQuery rebuilds a table definition from the catalog, since
// PostgreSQL has no SHOW CREATE TABLE. Sequence-backed defaults become
// serial types so the dump does not depend on sequences existing; their
// positions are restored by ResetSequence after the data.
const pgCreateTableQuery = `SELECT c.relname AS "Table",
 'CREATE TABLE ' || quote_ident(c.relname) || E' (\n  ' ||
 string_agg(
  quote_ident(a.attname) || ' ' ||
  CASE
   WHEN pg_get_expr(d.adbin, d.adrelid) LIKE 'nextval(%' THEN
    CASE a.atttypid WHEN 20 THEN 'bigserial' WHEN 21 THEN 'smallserial' ELSE 'serial' END
   ELSE format_type(a.atttypid, a.atttypmod)
  END ||
  CASE WHEN a.attnotnull THEN ' NOT NULL' ELSE '' END ||
  CASE
   WHEN a.attidentity = 'a' THEN ' GENERATED ALWAYS AS IDENTITY'
   WHEN a.attidentity = 'd' THEN ' GENERATED BY DEFAULT AS IDENTITY'
   WHEN a.attgenerated = 's' THEN ' GENERATED ALWAYS AS (' || pg_get_expr(d.adbin, d.adrelid) || ') STORED'
   WHEN d.adbin IS NOT NULL AND pg_get_expr(d.adbin, d.adrelid) NOT LIKE 'nextval(%' THEN ' DEFAULT ' || pg_get_expr(d.adbin, d.adrelid)
   ELSE ''
  END,
  E',\n  ' ORDER BY a.attnum) ||
 COALESCE((SELECT E',\n  ' || string_agg('CONSTRAINT ' || quote_ident(con.conname) || ' ' || pg_get_constraintdef(con.oid), E',\n  ' ORDER BY con.conname)
   FROM pg_constraint con WHERE con.conrelid = c.oid AND con.contype IN ('p', 'u', 'c', 'x')), '') ||
 E'\n)' AS "Create Table"
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped
LEFT JOIN pg_attrdef d ON d.adrelid = c.oid AND d.adnum = a.attnum
WHERE n.nspname = current_schema() AND c.relkind IN ('r', 'p') AND c.relname = `

// PostgresAdapter covers the current schema of a PostgreSQL database.
// Foreign keys are left out of table definitions and added once every
// table exists, so tables restore in any order.
type PostgresAdapter struct {
	Base
}

func NewPostgres(q Querier, opt *option.Option) *PostgresAdapter {
	return &PostgresAdapter{Base{q: q, opt: opt}}
}

func (a *PostgresAdapter) Kind() Kind { return Postgres }

func (a *PostgresAdapter) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (a *PostgresAdapter) QuoteString(s string) string {
	if !strings.ContainsAny(s, "\\\n\r\t\x00") {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	return "E'" + pgEscaper.Replace(s) + "'"
}

func (a *PostgresAdapter) HexLiteral(hex string) string {
	return "decode('" + hex + "', 'hex')"
}

func (a *PostgresAdapter) InitCommands() []string {
	cmds := []string{"SET client_encoding TO " + a.QuoteString(a.opt.DefaultCharacterSet)}
	if !a.opt.SkipTzUTC {
		cmds = append(cmds, "SET TIME ZONE 'UTC'")
	}
	return cmds
}

func (a *PostgresAdapter) ShowTables(string) string {
	return "SELECT table_name FROM information_schema.tables " +
		"WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name"
}

func (a *PostgresAdapter) ShowViews(string) string {
	return "SELECT table_name FROM information_schema.views " +
		"WHERE table_schema = current_schema() ORDER BY table_name"
}

func (a *PostgresAdapter) ShowTriggers(string) string {
	return "SELECT DISTINCT t.tgname FROM pg_trigger t " +
		"JOIN pg_class c ON c.oid = t.tgrelid " +
		"JOIN pg_namespace n ON n.oid = c.relnamespace " +
		"WHERE NOT t.tgisinternal AND n.nspname = current_schema() ORDER BY t.tgname"
}

func (a *PostgresAdapter) ShowProcedures(string) string {
	return "SELECT DISTINCT routine_name FROM information_schema.routines " +
		"WHERE routine_schema = current_schema() AND routine_type = 'PROCEDURE' ORDER BY routine_name"
}

func (a *PostgresAdapter) ShowFunctions(string) string {
	return "SELECT DISTINCT routine_name FROM information_schema.routines " +
		"WHERE routine_schema = current_schema() AND routine_type = 'FUNCTION' ORDER BY routine_name"
}

func (a *PostgresAdapter) ShowColumns(table string) string {
	return `SELECT a.attname AS "Field", format_type(a.atttypid, a.atttypmod) AS "Type", ` +
		`a.attgenerated::text AS "Extra" FROM pg_attribute a ` +
		"JOIN pg_class c ON c.oid = a.attrelid " +
		"JOIN pg_namespace n ON n.oid = c.relnamespace " +
		"WHERE n.nspname = current_schema() AND c.relname = " + a.QuoteString(table) +
		" AND a.attnum > 0 AND NOT a.attisdropped ORDER BY a.attnum"
}

func (a *PostgresAdapter) ShowCreateTable(table string) string {
	return pgCreateTableQuery + a.QuoteString(table) + "\nGROUP BY c.oid, c.relname"
}

func (a *PostgresAdapter) ShowCreateView(view string) string {
	return `SELECT c.relname AS "View", 'CREATE VIEW ' || quote_ident(c.relname) || E' AS\n' || ` +
		`pg_get_viewdef(c.oid, true) AS "Create View" FROM pg_class c ` +
		"JOIN pg_namespace n ON n.oid = c.relnamespace " +
		"WHERE n.nspname = current_schema() AND c.relkind = 'v' AND c.relname = " + a.QuoteString(view)
}

// ShowCreateTrigger returns one row per table carrying a trigger of that
// name, since trigger names are only unique per table.
func (a *PostgresAdapter) ShowCreateTrigger(trigger string) string {
	return `SELECT t.tgname AS "Trigger", pg_get_triggerdef(t.oid) AS "SQL Original Statement" ` +
		"FROM pg_trigger t JOIN pg_class c ON c.oid = t.tgrelid " +
		"JOIN pg_namespace n ON n.oid = c.relnamespace " +
		"WHERE NOT t.tgisinternal AND n.nspname = current_schema() AND t.tgname = " + a.QuoteString(trigger) +
		" ORDER BY c.relname"
}

func (a *PostgresAdapter) ShowCreateProcedure(procedure string) string {
	return a.showRoutine("Procedure", procedure, "p")
}

func (a *PostgresAdapter) ShowCreateFunction(function string) string {
	return a.showRoutine("Function", function, "f")
}

// showRoutine returns every overload of the routine.
func (a *PostgresAdapter) showRoutine(label, name, kind string) string {
	return `SELECT p.proname AS "` + label + `", pg_get_functiondef(p.oid) AS "Create ` + label + `" ` +
		"FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace " +
		"WHERE n.nspname = current_schema() AND p.prokind = '" + kind + "' AND p.proname = " + a.QuoteString(name) +
		" ORDER BY p.oid"
}

// ShowIndexes lists indexes that no table constraint owns.
func (a *PostgresAdapter) ShowIndexes(table string) string {
	return `SELECT i.indexname AS "Index", i.indexdef AS "Create Index" FROM pg_indexes i ` +
		"JOIN pg_class ic ON ic.relname = i.indexname " +
		"JOIN pg_namespace n ON n.oid = ic.relnamespace AND n.nspname = i.schemaname " +
		"WHERE i.schemaname = current_schema() AND i.tablename = " + a.QuoteString(table) +
		" AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = ic.oid" +
		" AND con.contype IN ('p', 'u', 'x')) ORDER BY i.indexname"
}

func (a *PostgresAdapter) ShowForeignKeys(table string) string {
	return `SELECT con.conname AS "Constraint", 'ALTER TABLE ' || quote_ident(c.relname) || ` +
		`' ADD CONSTRAINT ' || quote_ident(con.conname) || ' ' || pg_get_constraintdef(con.oid) AS "Create Constraint" ` +
		"FROM pg_constraint con JOIN pg_class c ON c.oid = con.conrelid " +
		"JOIN pg_namespace n ON n.oid = c.relnamespace " +
		"WHERE n.nspname = current_schema() AND con.contype = 'f' AND c.relname = " + a.QuoteString(table) +
		" ORDER BY con.conname"
}

// ShowSequences lists the columns backed by a sequence, serial or identity.
func (a *PostgresAdapter) ShowSequences(table string) string {
	return `SELECT a.attname AS "Column" FROM pg_attribute a ` +
		"JOIN pg_class c ON c.oid = a.attrelid " +
		"JOIN pg_namespace n ON n.oid = c.relnamespace " +
		"WHERE n.nspname = current_schema() AND c.relname = " + a.QuoteString(table) +
		" AND a.attnum > 0 AND NOT a.attisdropped" +
		" AND pg_get_serial_sequence(quote_ident(c.relname), a.attname) IS NOT NULL ORDER BY a.attnum"
}

func (a *PostgresAdapter) CreateIndex(row Row) (string, error) {
	stmt, err := field(row, "Create Index", "index")
	if err != nil {
		return "", err
	}
	return stmt + ";\n", nil
}

func (a *PostgresAdapter) CreateForeignKey(row Row) (string, error) {
	stmt, err := field(row, "Create Constraint", "foreign key")
	if err != nil {
		return "", err
	}
	return stmt + ";\n", nil
}

// ResetSequence moves the column's sequence past the restored rows. An
// empty table leaves the sequence at its start.
func (a *PostgresAdapter) ResetSequence(table, column string) string {
	col := a.QuoteIdentifier(column)
	return "SELECT setval(pg_get_serial_sequence(" + a.QuoteString(a.QuoteIdentifier(table)) + ", " +
		a.QuoteString(column) + "), COALESCE(MAX(" + col + "), 1), MAX(" + col + ") IS NOT NULL) FROM " +
		a.QuoteIdentifier(table) + ";\n"
}

func (a *PostgresAdapter) CreateTable(row Row) (string, error) {
	stmt, err := field(row, "Create Table", "table")
	if err != nil {
		return "", err
	}
	if a.opt.IfNotExists {
		stmt = pgCreateTableRE.ReplaceAllString(stmt, "CREATE TABLE IF NOT EXISTS ")
	}
	return stmt + ";\n\n", nil
}

func (a *PostgresAdapter) CreateView(row Row) (string, error) {
	stmt, err := field(row, "Create View", "view")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(stmt, "; \n") + ";\n\n", nil
}

func (a *PostgresAdapter) CreateTrigger(row Row) (string, error) {
	stmt, err := field(row, "SQL Original Statement", "trigger")
	if err != nil {
		return "", err
	}
	return stmt + ";\n\n", nil
}

func (a *PostgresAdapter) CreateProcedure(row Row) (string, error) {
	return a.createRoutine(row, "Procedure")
}

func (a *PostgresAdapter) CreateFunction(row Row) (string, error) {
	return a.createRoutine(row, "Function")
}

// createRoutine emits the definition inside a delimiter block because
// routine bodies contain their own semicolons.
func (a *PostgresAdapter) createRoutine(row Row, label string) (string, error) {
	stmt, err := field(row, "Create "+label, strings.ToLower(label))
	if err != nil {
		return "", err
	}
	return "DELIMITER ;;\n" + strings.TrimRight(stmt, "\n") + ";;\nDELIMITER ;\n\n", nil
}

func (a *PostgresAdapter) ParseColumn(row Row) Column {
	col := Column{Name: row["Field"], SQLType: row["Type"]}
	base := col.SQLType
	if i := strings.Index(base, "("); i > 0 {
		col.Length = strings.TrimSuffix(base[i+1:], ")")
		if j := strings.Index(col.Length, ")"); j >= 0 {
			col.Attributes = strings.TrimSpace(col.Length[j+1:])
			col.Length = col.Length[:j]
		}
		base = base[:i]
	}
	col.Type = strings.ToLower(strings.TrimSpace(base))
	col.Numeric = slices.Contains(pgNumericTypes, col.Type)
	col.Blob = slices.Contains(pgBlobTypes, col.Type)
	col.Virtual = row["Extra"] == "s" || row["Extra"] == "v"
	return col
}

func (a *PostgresAdapter) SelectColumn(col Column, hexBlob bool) string {
	name := a.QuoteIdentifier(col.Name)
	if col.Blob && hexBlob {
		return "encode(" + name + ", 'hex') AS " + name
	}
	return name
}

func (a *PostgresAdapter) StandInTable(view string, cols []Column) string {
	return standIn(a.QuoteIdentifier, view, cols, "IF NOT EXISTS ")
}

func (a *PostgresAdapter) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + a.QuoteIdentifier(table) + ";\n"
}

func (a *PostgresAdapter) DropView(view string) string {
	return "DROP VIEW IF EXISTS " + a.QuoteIdentifier(view) + ";\n"
}

func (a *PostgresAdapter) DropStandIn(view string) string {
	return "DROP TABLE IF EXISTS " + a.QuoteIdentifier(view) + ";\n"
}

func (a *PostgresAdapter) BackupParameters() string {
	return "SET client_encoding = 'UTF8';\nSET standard_conforming_strings = on;\n\n"
}

func (a *PostgresAdapter) StartTransaction() string {
	return "BEGIN TRANSACTION ISOLATION LEVEL REPEATABLE READ, READ ONLY"
}

func (a *PostgresAdapter) CommitTransaction() string { return "COMMIT" }

func (a *PostgresAdapter) StartDisableAutocommit() string { return "BEGIN;\n" }

func (a *PostgresAdapter) EndDisableAutocommit() string { return "COMMIT;\n" }

func (a *PostgresAdapter) InsertSuffix(ignore bool) string {
	if ignore {
		return " ON CONFLICT DO NOTHING"
	}
	return ""
}
