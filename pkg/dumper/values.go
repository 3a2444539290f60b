package dumper

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/localrivet/datadumper/pkg/dialect"
)

// listValues writes the INSERT statements for one table.
//
// With extended inserts, rows are batched into one statement until adding
// the next row would push the line past net_buffer_length; a row that is
// longer than the limit on its own still gets a statement of its own.
func (e *Exporter) listValues(ctx context.Context, table string) (err error) {
	cols, err := e.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	var (
		selectCols []string
		insertCols []string
		valueCols  []dialect.Column
		hasVirtual bool
	)
	for _, c := range cols {
		if c.Virtual {
			hasVirtual = true
			continue
		}
		selectCols = append(selectCols, e.adapter.SelectColumn(c, e.opt.HexBlob))
		insertCols = append(insertCols, e.adapter.QuoteIdentifier(c.Name))
		valueCols = append(valueCols, c)
	}
	if len(valueCols) == 0 {
		e.events.Emit(Event{Name: EventTableExport, Table: table})
		return nil
	}

	query := "SELECT " + strings.Join(selectCols, ",") + " FROM " + e.adapter.QuoteIdentifier(table)
	if where := e.tableWhere(table); where != "" {
		query += " WHERE " + where
	}
	if limit := e.opt.TableLimits[table]; limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	locked, err := e.prepareListValues(ctx, table)
	if err != nil {
		return err
	}
	defer func() {
		if locked {
			if uerr := e.adapter.UnlockTable(context.WithoutCancel(ctx), table); uerr != nil && err == nil {
				err = uerr
			}
		}
	}()

	completeInsert := e.opt.CompleteInsert || hasVirtual
	prefix := e.adapter.InsertPrefix(e.opt.InsertIgnore) + " " + e.adapter.QuoteIdentifier(table)
	if completeInsert {
		prefix += " (" + strings.Join(insertCols, ", ") + ")"
	}
	prefix += " VALUES "
	suffix := e.adapter.InsertSuffix(e.opt.InsertIgnore) + ";\n"

	count, err := e.writeRows(ctx, table, query, valueCols, prefix, suffix)
	if err != nil {
		return err
	}

	if e.opt.DisableKeys {
		if err := e.write(e.adapter.EndDisableKeys(table)); err != nil {
			return err
		}
	}
	if e.opt.AddLocks {
		if err := e.write(e.adapter.EndAddLockTable(table)); err != nil {
			return err
		}
	}
	if e.opt.NoAutocommit {
		if err := e.write(e.adapter.EndDisableAutocommit()); err != nil {
			return err
		}
	}
	if err := e.write("\n"); err != nil {
		return err
	}
	if locked {
		locked = false
		if err := e.adapter.UnlockTable(ctx, table); err != nil {
			return err
		}
	}
	if !e.opt.SkipComments {
		if err := e.write(fmt.Sprintf("-- Dumped table `%s` with %d row(s)\n--\n\n", table, count)); err != nil {
			return err
		}
	}

	e.stats.Rows += count
	e.events.Emit(Event{Name: EventTableExport, Table: table, Rows: count})
	return nil
}

// tableWhere returns the table's own filter, falling back to the global
// where when none or an empty one is set.
func (e *Exporter) tableWhere(table string) string {
	if w := e.opt.TableWheres[table]; w != "" {
		return w
	}
	return e.opt.Where
}

func (e *Exporter) prepareListValues(ctx context.Context, table string) (bool, error) {
	if err := e.comment("Dumping data for table `" + table + "`"); err != nil {
		return false, err
	}
	locked := false
	if e.opt.LockTables && !e.opt.SingleTransaction {
		if err := e.adapter.LockTable(ctx, table); err != nil {
			return false, fmt.Errorf("failed to lock table %q: %w", table, err)
		}
		locked = true
	}
	if e.opt.AddLocks {
		if err := e.write(e.adapter.StartAddLockTable(table)); err != nil {
			return locked, err
		}
	}
	if e.opt.DisableKeys {
		if err := e.write(e.adapter.StartDisableKeys(table)); err != nil {
			return locked, err
		}
	}
	if e.opt.NoAutocommit {
		if err := e.write(e.adapter.StartDisableAutocommit()); err != nil {
			return locked, err
		}
	}
	return locked, nil
}

func (e *Exporter) writeRows(ctx context.Context, table, query string, cols []dialect.Column, prefix, suffix string) (int64, error) {
	rows, err := e.conn.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to read rows of %q: %w", table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	vals := make([]sql.NullString, len(names))
	ptrs := make([]any, len(names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	var (
		line  strings.Builder
		count int64
	)
	flush := func() error {
		if line.Len() == 0 {
			return nil
		}
		line.WriteString(suffix)
		err := e.write(line.String())
		line.Reset()
		return err
	}

	limit := e.opt.NetBufferLength
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return count, err
		}
		row := make(map[string]any, len(names))
		var literals map[string]string
		for i, n := range names {
			switch {
			case !vals[i].Valid:
				row[n] = nil
			case cols[i].Literal:
				if literals == nil {
					literals = make(map[string]string, len(names))
				}
				literals[n] = vals[i].String
				row[n] = vals[i].String
				if e.transform != nil {
					row[n] = decodeLiteral(vals[i].String)
				}
			default:
				row[n] = vals[i].String
			}
		}
		if e.transform != nil {
			row = e.transform(table, row)
		}

		tuple := e.tuple(row, cols, literals)
		count++

		switch {
		case !e.opt.ExtendedInsert:
			line.WriteString(prefix)
			line.WriteString(tuple)
			if err := flush(); err != nil {
				return count, err
			}
		case line.Len() == 0:
			line.WriteString(prefix)
			line.WriteString(tuple)
		case line.Len()+1+len(tuple)+len(suffix) > limit:
			if err := flush(); err != nil {
				return count, err
			}
			line.WriteString(prefix)
			line.WriteString(tuple)
		default:
			line.WriteString(",")
			line.WriteString(tuple)
		}
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	return count, flush()
}

// tuple renders one row. Literal values the transform left untouched are
// written as read; anything else is escaped.
func (e *Exporter) tuple(row map[string]any, cols []dialect.Column, literals map[string]string) string {
	var b strings.Builder
	b.WriteString("(")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(",")
		}
		v := row[c.Name]
		if lit, ok := literals[c.Name]; ok && (e.transform == nil || reflect.DeepEqual(v, decodeLiteral(lit))) {
			b.WriteString(e.literal(lit))
			continue
		}
		b.WriteString(e.escape(v, c))
	}
	b.WriteString(")")
	return b.String()
}

// literal re-quotes text literals so line breaks follow the dialect's
// quoting; numbers, blobs and NULL pass through.
func (e *Exporter) literal(lit string) string {
	if strings.HasPrefix(lit, "'") {
		return e.adapter.QuoteString(unquoteLiteral(lit))
	}
	return lit
}

// decodeLiteral turns an SQL literal into the Go value a transform sees.
func decodeLiteral(lit string) any {
	switch {
	case lit == "NULL":
		return nil
	case strings.HasPrefix(lit, "'"):
		return unquoteLiteral(lit)
	case strings.HasPrefix(lit, "X'") && strings.HasSuffix(lit, "'"):
		b, err := hex.DecodeString(lit[2 : len(lit)-1])
		if err != nil {
			return lit
		}
		return b
	}
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return f
	}
	return lit
}

func unquoteLiteral(lit string) string {
	return strings.ReplaceAll(lit[1:len(lit)-1], "''", "'")
}

// escape renders one value as an SQL literal.
func (e *Exporter) escape(v any, col dialect.Column) string {
	var s string
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		s = x
	case []byte:
		s = string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return e.adapter.QuoteString(strconv.FormatFloat(x, 'g', -1, 64))
		}
		s = strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	default:
		s = fmt.Sprint(x)
	}

	if e.opt.HexBlob && col.Blob {
		if s == "" && col.Type != "bit" {
			return "''"
		}
		return e.adapter.HexLiteral(s)
	}
	if col.Numeric && numericLiteral.MatchString(s) {
		return s
	}
	return e.adapter.QuoteString(s)
}
