package dialect

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/localrivet/datadumper/pkg/option"
)

const definerRE = "DEFINER=`(?:[^`]|``)*`@`(?:[^`]|``)*`"

var (
	mysqlAutoIncrementRE = regexp.MustCompile(`(?s)\s?AUTO_INCREMENT=[0-9]+`)
	mysqlCreateTableRE   = regexp.MustCompile(`^CREATE TABLE\s+(?:IF NOT EXISTS\s+)?`)
	mysqlViewRE          = regexp.MustCompile(`^(CREATE(?:\s+ALGORITHM=(?:UNDEFINED|MERGE|TEMPTABLE))?)\s+(?:(` + definerRE + `(?:\s+SQL SECURITY (?:DEFINER|INVOKER))?)\s+)?(VIEW .+)$`)
	mysqlTriggerRE       = regexp.MustCompile(`(?s)^(CREATE)\s+(?:(` + definerRE + `)\s+)?(TRIGGER\s.*)$`)
	mysqlProcedureRE     = regexp.MustCompile(`(?s)^(CREATE)\s+(?:(` + definerRE + `)\s+)?(PROCEDURE\s.*)$`)
	mysqlFunctionRE      = regexp.MustCompile(`(?s)^(CREATE)\s+(?:(` + definerRE + `)\s+)?(FUNCTION\s.*)$`)
	mysqlEventRE         = regexp.MustCompile(`(?s)^(CREATE)\s+(?:(` + definerRE + `)\s+)?(EVENT\s.*)$`)
)

var (
	mysqlNumericTypes = []string{
		"bit", "tinyint", "smallint", "mediumint", "int", "integer", "bigint",
		"real", "double", "float", "decimal", "numeric",
	}
	mysqlBlobTypes = []string{
		"tinyblob", "blob", "mediumblob", "longblob", "binary", "varbinary", "bit",
		"geometry", "point", "linestring", "polygon", "multipoint",
		"multilinestring", "multipolygon", "geometrycollection",
	}
)

// MySQLAdapter targets MySQL and MariaDB, wrapping definitions in
// version-conditional comments the way mysqldump does.
type MySQLAdapter struct {
	Base
}

func NewMySQL(q Querier, opt *option.Option) *MySQLAdapter {
	return &MySQLAdapter{Base{q: q, opt: opt}}
}

func (a *MySQLAdapter) Kind() Kind { return MySQL }

func (a *MySQLAdapter) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var mysqlStringEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
	"'", "\\'",
	"\"", "\\\"",
	"\x1a", "\\Z",
)

func (a *MySQLAdapter) QuoteString(s string) string {
	return "'" + mysqlStringEscaper.Replace(s) + "'"
}

func (a *MySQLAdapter) HexLiteral(hex string) string { return "0x" + hex }

func (a *MySQLAdapter) InitCommands() []string { return a.opt.InitCommands }

func (a *MySQLAdapter) ShowTables(database string) string {
	return "SELECT TABLE_NAME AS tbl_name FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_TYPE='BASE TABLE' AND TABLE_SCHEMA=" + a.QuoteString(database) +
		" ORDER BY TABLE_NAME"
}

func (a *MySQLAdapter) ShowViews(database string) string {
	return "SELECT TABLE_NAME AS tbl_name FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_TYPE='VIEW' AND TABLE_SCHEMA=" + a.QuoteString(database) +
		" ORDER BY TABLE_NAME"
}

func (a *MySQLAdapter) ShowTriggers(database string) string {
	return "SHOW TRIGGERS FROM " + a.QuoteIdentifier(database)
}

func (a *MySQLAdapter) ShowProcedures(database string) string {
	return "SELECT SPECIFIC_NAME AS procedure_name FROM INFORMATION_SCHEMA.ROUTINES " +
		"WHERE ROUTINE_TYPE='PROCEDURE' AND ROUTINE_SCHEMA=" + a.QuoteString(database) +
		" ORDER BY SPECIFIC_NAME"
}

func (a *MySQLAdapter) ShowFunctions(database string) string {
	return "SELECT SPECIFIC_NAME AS function_name FROM INFORMATION_SCHEMA.ROUTINES " +
		"WHERE ROUTINE_TYPE='FUNCTION' AND ROUTINE_SCHEMA=" + a.QuoteString(database) +
		" ORDER BY SPECIFIC_NAME"
}

func (a *MySQLAdapter) ShowEvents(database string) string {
	return "SELECT EVENT_NAME AS event_name FROM INFORMATION_SCHEMA.EVENTS " +
		"WHERE EVENT_SCHEMA=" + a.QuoteString(database) +
		" ORDER BY EVENT_NAME"
}

func (a *MySQLAdapter) ShowColumns(table string) string {
	return "SHOW COLUMNS FROM " + a.QuoteIdentifier(table)
}

func (a *MySQLAdapter) ShowCreateTable(table string) string {
	return "SHOW CREATE TABLE " + a.QuoteIdentifier(table)
}

func (a *MySQLAdapter) ShowCreateView(view string) string {
	return "SHOW CREATE VIEW " + a.QuoteIdentifier(view)
}

func (a *MySQLAdapter) ShowCreateTrigger(trigger string) string {
	return "SHOW CREATE TRIGGER " + a.QuoteIdentifier(trigger)
}

func (a *MySQLAdapter) ShowCreateProcedure(procedure string) string {
	return "SHOW CREATE PROCEDURE " + a.QuoteIdentifier(procedure)
}

func (a *MySQLAdapter) ShowCreateFunction(function string) string {
	return "SHOW CREATE FUNCTION " + a.QuoteIdentifier(function)
}

func (a *MySQLAdapter) ShowCreateEvent(event string) string {
	return "SHOW CREATE EVENT " + a.QuoteIdentifier(event)
}

func (a *MySQLAdapter) CreateTable(row Row) (string, error) {
	stmt, err := field(row, "Create Table", "table")
	if err != nil {
		return "", err
	}
	if a.opt.ResetAutoIncrement {
		stmt = mysqlAutoIncrementRE.ReplaceAllString(stmt, "")
	}
	if a.opt.IfNotExists {
		stmt = mysqlCreateTableRE.ReplaceAllString(stmt, "CREATE TABLE IF NOT EXISTS ")
	}
	return "/*!40101 SET @saved_cs_client     = @@character_set_client */;\n" +
		"/*!40101 SET character_set_client = " + a.opt.DefaultCharacterSet + " */;\n" +
		stmt + ";\n" +
		"/*!40101 SET character_set_client = @saved_cs_client */;\n\n", nil
}

func (a *MySQLAdapter) CreateView(row Row) (string, error) {
	stmt, err := field(row, "Create View", "view")
	if err != nil {
		return "", err
	}
	if m := mysqlViewRE.FindStringSubmatch(stmt); m != nil {
		var b strings.Builder
		b.WriteString("/*!50001 " + m[1] + " */\n")
		if m[2] != "" && !a.opt.SkipDefiner {
			b.WriteString("/*!50013 " + m[2] + " */\n")
		}
		b.WriteString("/*!50001 " + m[3] + " */")
		stmt = b.String()
	}
	return stmt + ";\n\n", nil
}

func (a *MySQLAdapter) CreateTrigger(row Row) (string, error) {
	stmt, err := field(row, "SQL Original Statement", "trigger")
	if err != nil {
		return "", err
	}
	stmt = a.conditional(mysqlTriggerRE, stmt, "50003", "50017")
	return "DELIMITER ;;\n" + stmt + ";;\nDELIMITER ;\n\n", nil
}

func (a *MySQLAdapter) CreateProcedure(row Row) (string, error) {
	stmt, err := field(row, "Create Procedure", "procedure")
	if err != nil {
		return "", err
	}
	name, err := field(row, "Procedure", "procedure")
	if err != nil {
		return "", err
	}
	stmt = a.stripDefiner(mysqlProcedureRE, stmt)
	return "/*!50003 DROP PROCEDURE IF EXISTS " + a.QuoteIdentifier(name) + " */;\n" +
		"/*!40101 SET @saved_cs_client     = @@character_set_client */;\n" +
		"/*!40101 SET character_set_client = " + a.opt.DefaultCharacterSet + " */;\n" +
		"DELIMITER ;;\n" +
		stmt + " ;;\n" +
		"DELIMITER ;\n" +
		"/*!40101 SET character_set_client = @saved_cs_client */;\n\n", nil
}

func (a *MySQLAdapter) CreateFunction(row Row) (string, error) {
	values := make(map[string]string, 5)
	for _, key := range []string{"Function", "Create Function", "character_set_client", "collation_connection", "sql_mode"} {
		v, err := field(row, key, "function")
		if err != nil {
			return "", err
		}
		values[key] = v
	}
	stmt := a.stripDefiner(mysqlFunctionRE, values["Create Function"])
	cs := values["character_set_client"]

	return "/*!50003 DROP FUNCTION IF EXISTS " + a.QuoteIdentifier(values["Function"]) + " */;\n" +
		"/*!40101 SET @saved_cs_client     = @@character_set_client */;\n" +
		"/*!50003 SET @saved_cs_results     = @@character_set_results */;\n" +
		"/*!50003 SET @saved_col_connection = @@collation_connection */;\n" +
		"/*!40101 SET character_set_client = " + cs + " */;\n" +
		"/*!40101 SET character_set_results = " + cs + " */;\n" +
		"/*!50003 SET collation_connection  = " + values["collation_connection"] + " */;\n" +
		"/*!50003 SET @saved_sql_mode       = @@sql_mode */;\n" +
		"/*!50003 SET sql_mode              = '" + values["sql_mode"] + "' */;\n" +
		"/*!50003 SET @saved_time_zone      = @@time_zone */;\n" +
		"/*!50003 SET time_zone             = 'SYSTEM' */;\n" +
		"DELIMITER ;;\n" +
		stmt + " ;;\n" +
		"DELIMITER ;\n" +
		"/*!50003 SET sql_mode              = @saved_sql_mode */;\n" +
		"/*!50003 SET character_set_client  = @saved_cs_client */;\n" +
		"/*!50003 SET character_set_results = @saved_cs_results */;\n" +
		"/*!50003 SET collation_connection  = @saved_col_connection */;\n" +
		"/*!50106 SET TIME_ZONE= @saved_time_zone */;\n\n", nil
}

func (a *MySQLAdapter) CreateEvent(row Row) (string, error) {
	values := make(map[string]string, 3)
	for _, key := range []string{"Event", "Create Event", "sql_mode"} {
		v, err := field(row, key, "event")
		if err != nil {
			return "", err
		}
		values[key] = v
	}
	stmt := a.conditional(mysqlEventRE, values["Create Event"], "50106", "50117")

	return "/*!50106 SET @save_time_zone= @@TIME_ZONE */;\n" +
		"/*!50106 DROP EVENT IF EXISTS " + a.QuoteIdentifier(values["Event"]) + " */;\n" +
		"/*!50003 SET @saved_cs_client      = @@character_set_client */;\n" +
		"/*!50003 SET @saved_cs_results     = @@character_set_results */;\n" +
		"/*!50003 SET @saved_col_connection = @@collation_connection */;\n" +
		"/*!50003 SET character_set_client  = utf8 */;\n" +
		"/*!50003 SET character_set_results = utf8 */;\n" +
		"/*!50003 SET collation_connection  = utf8_general_ci */;\n" +
		"/*!50003 SET @saved_sql_mode       = @@sql_mode */;\n" +
		"/*!50003 SET sql_mode              = '" + values["sql_mode"] + "' */;\n" +
		"/*!50003 SET @saved_time_zone      = @@time_zone */;\n" +
		"/*!50003 SET time_zone             = 'SYSTEM' */;\n" +
		"DELIMITER ;;\n" +
		stmt + " ;;\n" +
		"DELIMITER ;\n" +
		"/*!50003 SET time_zone             = @saved_time_zone */;\n" +
		"/*!50003 SET sql_mode              = @saved_sql_mode */;\n" +
		"/*!50003 SET character_set_client  = @saved_cs_client */;\n" +
		"/*!50003 SET character_set_results = @saved_cs_results */;\n" +
		"/*!50003 SET collation_connection  = @saved_col_connection */;\n" +
		"/*!50106 SET TIME_ZONE= @save_time_zone */;\n\n", nil
}

// conditional splits a CREATE statement into version-gated comments,
// keeping the definer clause unless definers are skipped.
func (a *MySQLAdapter) conditional(re *regexp.Regexp, stmt, version, definerVersion string) string {
	m := re.FindStringSubmatch(stmt)
	if m == nil {
		return stmt
	}
	var b strings.Builder
	b.WriteString("/*!" + version + " " + m[1] + "*/ ")
	if m[2] != "" && !a.opt.SkipDefiner {
		b.WriteString("/*!" + definerVersion + " " + m[2] + "*/ ")
	}
	b.WriteString("/*!" + version + " " + m[3] + " */")
	return b.String()
}

func (a *MySQLAdapter) stripDefiner(re *regexp.Regexp, stmt string) string {
	if !a.opt.SkipDefiner {
		return stmt
	}
	m := re.FindStringSubmatch(stmt)
	if m == nil {
		return stmt
	}
	return m[1] + " " + m[3]
}

func (a *MySQLAdapter) ParseColumn(row Row) Column {
	col := Column{Name: row["Field"], SQLType: row["Type"]}
	col.Type, col.Length, col.Attributes = splitColumnType(col.SQLType)
	col.Numeric = slices.Contains(mysqlNumericTypes, col.Type)
	col.Blob = slices.Contains(mysqlBlobTypes, col.Type)
	extra := strings.ToUpper(row["Extra"])
	col.Virtual = strings.Contains(extra, "VIRTUAL GENERATED") || strings.Contains(extra, "STORED GENERATED")
	return col
}

func (a *MySQLAdapter) SelectColumn(col Column, hexBlob bool) string {
	name := a.QuoteIdentifier(col.Name)
	switch {
	case col.Type == "bit" && hexBlob:
		return "LPAD(HEX(" + name + "),2,'0') AS " + name
	case col.Type == "bit":
		return "CAST(" + name + " AS UNSIGNED) AS " + name
	case col.Type == "double":
		return "CONCAT(" + name + ") AS " + name
	case col.Blob && hexBlob:
		return "HEX(" + name + ") AS " + name
	default:
		return name
	}
}

func (a *MySQLAdapter) StandInTable(view string, cols []Column) string {
	return standIn(a.QuoteIdentifier, view, cols, "IF NOT EXISTS ")
}

func (a *MySQLAdapter) CreateDatabase(ctx context.Context, database string) (string, error) {
	if a.opt.NoCreateDB {
		return "", nil
	}
	charset, err := a.variable(ctx, "character_set_database")
	if err != nil {
		return "", err
	}
	collation, err := a.variable(ctx, "collation_database")
	if err != nil {
		return "", err
	}
	name := a.QuoteIdentifier(database)
	return "CREATE DATABASE /*!32312 IF NOT EXISTS*/ " + name +
		" /*!40100 DEFAULT CHARACTER SET " + charset + " COLLATE " + collation + " */;\n\n" +
		"USE " + name + ";\n\n", nil
}

func (a *MySQLAdapter) variable(ctx context.Context, name string) (string, error) {
	rows, err := FetchRows(ctx, a.q, "SHOW VARIABLES LIKE "+a.QuoteString(name))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("failed to read %s: no rows", name)
	}
	return field(rows[0], "Value", "variable")
}

func (a *MySQLAdapter) DropDatabase(database string) string {
	return "/*!40000 DROP DATABASE IF EXISTS " + a.QuoteIdentifier(database) + "*/;\n\n"
}

func (a *MySQLAdapter) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + a.QuoteIdentifier(table) + ";\n"
}

func (a *MySQLAdapter) DropView(view string) string {
	name := a.QuoteIdentifier(view)
	return "DROP TABLE IF EXISTS " + name + ";\n" +
		"/*!50001 DROP VIEW IF EXISTS " + name + "*/;\n"
}

// DropStandIn removes the placeholder table written for a view.
func (a *MySQLAdapter) DropStandIn(view string) string { return a.DropView(view) }

func (a *MySQLAdapter) DropTrigger(trigger string) string {
	return "DROP TRIGGER IF EXISTS " + a.QuoteIdentifier(trigger) + ";\n"
}

func (a *MySQLAdapter) BackupParameters() string {
	var b strings.Builder
	b.WriteString("/*!40101 SET @OLD_CHARACTER_SET_CLIENT=@@CHARACTER_SET_CLIENT */;\n")
	b.WriteString("/*!40101 SET @OLD_CHARACTER_SET_RESULTS=@@CHARACTER_SET_RESULTS */;\n")
	b.WriteString("/*!40101 SET @OLD_COLLATION_CONNECTION=@@COLLATION_CONNECTION */;\n")
	b.WriteString("/*!40101 SET NAMES " + a.opt.DefaultCharacterSet + " */;\n")
	if !a.opt.SkipTzUTC {
		b.WriteString("/*!40103 SET @OLD_TIME_ZONE=@@TIME_ZONE */;\n")
		b.WriteString("/*!40103 SET TIME_ZONE='+00:00' */;\n")
	}
	if a.opt.NoAutocommit {
		b.WriteString("/*!40101 SET @OLD_AUTOCOMMIT=@@AUTOCOMMIT */;\n")
	}
	b.WriteString("/*!40014 SET @OLD_UNIQUE_CHECKS=@@UNIQUE_CHECKS, UNIQUE_CHECKS=0 */;\n")
	b.WriteString("/*!40014 SET @OLD_FOREIGN_KEY_CHECKS=@@FOREIGN_KEY_CHECKS, FOREIGN_KEY_CHECKS=0 */;\n")
	b.WriteString("/*!40101 SET @OLD_SQL_MODE=@@SQL_MODE, SQL_MODE='NO_AUTO_VALUE_ON_ZERO' */;\n")
	b.WriteString("/*!40111 SET @OLD_SQL_NOTES=@@SQL_NOTES, SQL_NOTES=0 */;\n\n")
	return b.String()
}

func (a *MySQLAdapter) RestoreParameters() string {
	var b strings.Builder
	if !a.opt.SkipTzUTC {
		b.WriteString("/*!40103 SET TIME_ZONE=@OLD_TIME_ZONE */;\n")
	}
	if a.opt.NoAutocommit {
		b.WriteString("/*!40101 SET AUTOCOMMIT=@OLD_AUTOCOMMIT */;\n")
	}
	b.WriteString("/*!40101 SET SQL_MODE=@OLD_SQL_MODE */;\n")
	b.WriteString("/*!40014 SET FOREIGN_KEY_CHECKS=@OLD_FOREIGN_KEY_CHECKS */;\n")
	b.WriteString("/*!40014 SET UNIQUE_CHECKS=@OLD_UNIQUE_CHECKS */;\n")
	b.WriteString("/*!40101 SET CHARACTER_SET_CLIENT=@OLD_CHARACTER_SET_CLIENT */;\n")
	b.WriteString("/*!40101 SET CHARACTER_SET_RESULTS=@OLD_CHARACTER_SET_RESULTS */;\n")
	b.WriteString("/*!40101 SET COLLATION_CONNECTION=@OLD_COLLATION_CONNECTION */;\n")
	b.WriteString("/*!40111 SET SQL_NOTES=@OLD_SQL_NOTES */;\n\n")
	return b.String()
}

func (a *MySQLAdapter) SetupTransaction() string {
	return "SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ"
}

func (a *MySQLAdapter) StartTransaction() string {
	return "START TRANSACTION /*!40100 WITH CONSISTENT SNAPSHOT */"
}

func (a *MySQLAdapter) CommitTransaction() string { return "COMMIT" }

func (a *MySQLAdapter) LockTable(ctx context.Context, table string) error {
	_, err := a.q.ExecContext(ctx, "LOCK TABLES "+a.QuoteIdentifier(table)+" READ LOCAL")
	return err
}

func (a *MySQLAdapter) UnlockTable(ctx context.Context, _ string) error {
	_, err := a.q.ExecContext(ctx, "UNLOCK TABLES")
	return err
}

func (a *MySQLAdapter) StartAddLockTable(table string) string {
	return "LOCK TABLES " + a.QuoteIdentifier(table) + " WRITE;\n"
}

func (a *MySQLAdapter) EndAddLockTable(string) string { return "UNLOCK TABLES;\n" }

func (a *MySQLAdapter) StartDisableKeys(table string) string {
	return "/*!40000 ALTER TABLE " + a.QuoteIdentifier(table) + " DISABLE KEYS */;\n"
}

func (a *MySQLAdapter) EndDisableKeys(table string) string {
	return "/*!40000 ALTER TABLE " + a.QuoteIdentifier(table) + " ENABLE KEYS */;\n"
}

func (a *MySQLAdapter) StartDisableAutocommit() string { return "SET autocommit=0;\n" }

func (a *MySQLAdapter) EndDisableAutocommit() string { return "COMMIT;\n" }

func (a *MySQLAdapter) ForeignKeyChecks(enabled bool) string {
	if enabled {
		return "SET foreign_key_checks = 1"
	}
	return "SET foreign_key_checks = 0"
}

func (a *MySQLAdapter) InsertPrefix(ignore bool) string {
	if ignore {
		return "INSERT IGNORE INTO"
	}
	return "INSERT INTO"
}
