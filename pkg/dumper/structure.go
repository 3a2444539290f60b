package dumper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/localrivet/datadumper/pkg/dialect"
)

func (e *Exporter) header(ctx context.Context) string {
	if e.opt.SkipComments {
		return ""
	}
	version, err := e.src.Version(ctx)
	if err != nil {
		e.logger.Debug("failed to read server version", "error", err)
		version = "unknown"
	}

	var b strings.Builder
	b.WriteString("-- datadumper SQL dump\n")
	fmt.Fprintf(&b, "-- Version %s\n--\n", Version)
	fmt.Fprintf(&b, "-- Host: %s    Database: %s\n", e.src.Host(), e.src.Name())
	fmt.Fprintf(&b, "-- Server version: %s    Driver: %s\n", version, e.src.Kind())
	if !e.opt.SkipDumpDate {
		fmt.Fprintf(&b, "-- Date: %s\n", e.now().Format(time.RFC1123Z))
	}
	if e.opt.Message != "" {
		b.WriteString("--\n")
		b.WriteString(e.opt.Message)
		b.WriteString("\n")
	}
	b.WriteString("-- ------------------------------------------------------\n\n")
	return b.String()
}

func (e *Exporter) footer() string {
	if e.opt.SkipComments {
		return ""
	}
	if e.opt.SkipDumpDate {
		return "-- Dump completed\n"
	}
	return "-- Dump completed on: " + e.now().Format(time.RFC1123Z) + "\n"
}

func (e *Exporter) comment(text string) error {
	if e.opt.SkipComments {
		return nil
	}
	return e.write("--\n-- " + text + "\n--\n\n")
}

func (e *Exporter) write(s string) error {
	if s == "" {
		return nil
	}
	n, err := e.out.Write([]byte(s))
	e.stats.Bytes += int64(n)
	return err
}

func (e *Exporter) exec(ctx context.Context, stmt string) error {
	if stmt == "" {
		return nil
	}
	if _, err := e.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%q failed: %w", stmt, err)
	}
	return nil
}

func (e *Exporter) names(ctx context.Context, query string) ([]string, error) {
	if query == "" {
		return nil, nil
	}
	names, err := dialect.FetchFirstColumn(ctx, e.conn, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return names, nil
}

// discover builds the inventory. Literal include-list entries that match
// neither a table nor a view fail the run.
func (e *Exporter) discover(ctx context.Context, sel selection) error {
	db := e.src.Name()

	tables, err := e.names(ctx, e.adapter.ShowTables(db))
	if err != nil {
		return err
	}
	views, err := e.names(ctx, e.adapter.ShowViews(db))
	if err != nil {
		return err
	}

	found := make(map[string]bool, len(tables)+len(views))
	for _, t := range tables {
		found[t] = true
		if (sel.include.Empty() || sel.include.Match(t)) && !sel.exclude.Match(t) {
			e.inv.Tables = append(e.inv.Tables, t)
		}
	}
	for _, v := range views {
		found[v] = true
		if (sel.includeViews.Empty() || sel.includeViews.Match(v)) && !sel.exclude.Match(v) {
			e.inv.Views = append(e.inv.Views, v)
		}
	}

	var missing []string
	for _, name := range sel.include.Literals() {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &TableNotFoundError{Names: missing}
	}

	if !e.opt.SkipTriggers {
		if e.inv.Triggers, err = e.names(ctx, e.adapter.ShowTriggers(db)); err != nil {
			return err
		}
	}
	if e.opt.Routines {
		if e.inv.Procedures, err = e.names(ctx, e.adapter.ShowProcedures(db)); err != nil {
			return err
		}
		if e.inv.Functions, err = e.names(ctx, e.adapter.ShowFunctions(db)); err != nil {
			return err
		}
	}
	if e.opt.Events {
		if e.inv.Events, err = e.names(ctx, e.adapter.ShowEvents(db)); err != nil {
			return err
		}
	}

	e.logger.Debug("inventory built",
		"tables", len(e.inv.Tables),
		"views", len(e.inv.Views),
		"triggers", len(e.inv.Triggers),
		"procedures", len(e.inv.Procedures),
		"functions", len(e.inv.Functions),
		"events", len(e.inv.Events),
	)
	return nil
}

func (e *Exporter) tableColumns(ctx context.Context, table string) ([]dialect.Column, error) {
	if cols, ok := e.columns[table]; ok {
		return cols, nil
	}
	rows, err := dialect.FetchRows(ctx, e.conn, e.adapter.ShowColumns(table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %q: %w", table, err)
	}
	cols := make([]dialect.Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, e.adapter.ParseColumn(r))
	}
	e.columns[table] = cols
	return cols, nil
}

// definitions fetches every row describing an object, or nil when the
// dialect has no query for it or the object vanished.
func (e *Exporter) definitions(ctx context.Context, query, object string) ([]dialect.Row, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := dialect.FetchRows(ctx, e.conn, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition of %s: %w", object, err)
	}
	return rows, nil
}

// definition is definitions limited to the first row.
func (e *Exporter) definition(ctx context.Context, query, object string) (dialect.Row, error) {
	rows, err := e.definitions(ctx, query, object)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// writeDefinitions renders and writes every row query returns.
func (e *Exporter) writeDefinitions(ctx context.Context, query, object string, render func(dialect.Row) (string, error)) error {
	rows, err := e.definitions(ctx, query, object)
	if err != nil {
		return err
	}
	for _, row := range rows {
		stmt, err := render(row)
		if err != nil {
			return err
		}
		if err := e.write(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) exportTables(ctx context.Context, sel selection) error {
	for _, table := range e.inv.Tables {
		if err := e.tableStructure(ctx, table); err != nil {
			return err
		}
		e.stats.Tables++
		if !e.opt.NoData && !sel.noData.Match(table) {
			if err := e.listValues(ctx, table); err != nil {
				return err
			}
			if err := e.resetSequences(ctx, table); err != nil {
				return err
			}
		}
		if !e.opt.NoCreateInfo {
			err := e.writeDefinitions(ctx, e.adapter.ShowIndexes(table), "indexes of table `"+table+"`", e.adapter.CreateIndex)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Exporter) resetSequences(ctx context.Context, table string) error {
	cols, err := e.names(ctx, e.adapter.ShowSequences(table))
	if err != nil {
		return err
	}
	for _, col := range cols {
		if err := e.write(e.adapter.ResetSequence(table, col)); err != nil {
			return err
		}
	}
	return nil
}

// exportForeignKeys adds the foreign keys dialects keep out of table
// definitions, once every table and its rows exist.
func (e *Exporter) exportForeignKeys(ctx context.Context, _ selection) error {
	if e.opt.NoCreateInfo {
		return nil
	}
	for _, table := range e.inv.Tables {
		err := e.writeDefinitions(ctx, e.adapter.ShowForeignKeys(table), "foreign keys of table `"+table+"`", e.adapter.CreateForeignKey)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) tableStructure(ctx context.Context, table string) error {
	if !e.opt.NoCreateInfo {
		row, err := e.definition(ctx, e.adapter.ShowCreateTable(table), "table `"+table+"`")
		if err != nil {
			return err
		}
		if row != nil {
			if err := e.comment("Table structure for table `" + table + "`"); err != nil {
				return err
			}
			if e.opt.AddDropTable {
				if err := e.write(e.adapter.DropTable(table)); err != nil {
					return err
				}
			}
			stmt, err := e.adapter.CreateTable(row)
			if err != nil {
				return err
			}
			if err := e.write(stmt); err != nil {
				return err
			}
		}
	}
	_, err := e.tableColumns(ctx, table)
	return err
}

// exportStandIns writes a placeholder table per view so objects that
// reference a view can be created before the view itself.
func (e *Exporter) exportStandIns(ctx context.Context, _ selection) error {
	if e.opt.NoCreateInfo {
		return nil
	}
	for _, view := range e.inv.Views {
		cols, err := e.tableColumns(ctx, view)
		if err != nil {
			return err
		}
		if err := e.comment("Stand-In structure for view `" + view + "`"); err != nil {
			return err
		}
		if e.opt.AddDropTable {
			if err := e.write(e.adapter.DropView(view)); err != nil {
				return err
			}
		}
		if err := e.write(e.adapter.StandInTable(view, cols)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) exportViews(ctx context.Context, _ selection) error {
	if e.opt.NoCreateInfo {
		return nil
	}
	for _, view := range e.inv.Views {
		if err := e.comment("View structure for view `" + view + "`"); err != nil {
			return err
		}
		row, err := e.definition(ctx, e.adapter.ShowCreateView(view), "view `"+view+"`")
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		if err := e.write(e.adapter.DropStandIn(view)); err != nil {
			return err
		}
		stmt, err := e.adapter.CreateView(row)
		if err != nil {
			return err
		}
		if err := e.write(stmt); err != nil {
			return err
		}
		e.stats.Views++
	}
	return nil
}

type routine struct {
	label  string
	show   func(string) string
	create func(dialect.Row) (string, error)
	drop   func(string) string
}

// exportRoutines writes each named object. A name may resolve to several
// definitions, such as overloaded functions or same-named triggers on
// different tables.
func (e *Exporter) exportRoutines(ctx context.Context, names []string, r routine) (int, error) {
	n := 0
	for _, name := range names {
		rows, err := e.definitions(ctx, r.show(name), r.label+" `"+name+"`")
		if err != nil {
			return n, err
		}
		if len(rows) == 0 {
			continue
		}
		if r.label != "trigger" {
			if err := e.comment("Dumping " + r.label + " `" + name + "` of database '" + e.src.Name() + "'"); err != nil {
				return n, err
			}
		}
		if r.drop != nil {
			if err := e.write(r.drop(name)); err != nil {
				return n, err
			}
		}
		for _, row := range rows {
			stmt, err := r.create(row)
			if err != nil {
				return n, err
			}
			if err := e.write(stmt); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (e *Exporter) exportTriggers(ctx context.Context, _ selection) error {
	r := routine{label: "trigger", show: e.adapter.ShowCreateTrigger, create: e.adapter.CreateTrigger}
	if e.opt.AddDropTrigger {
		r.drop = e.adapter.DropTrigger
	}
	n, err := e.exportRoutines(ctx, e.inv.Triggers, r)
	e.stats.Triggers = n
	return err
}

func (e *Exporter) exportFunctions(ctx context.Context, _ selection) error {
	n, err := e.exportRoutines(ctx, e.inv.Functions, routine{
		label:  "function",
		show:   e.adapter.ShowCreateFunction,
		create: e.adapter.CreateFunction,
	})
	e.stats.Functions = n
	return err
}

func (e *Exporter) exportProcedures(ctx context.Context, _ selection) error {
	n, err := e.exportRoutines(ctx, e.inv.Procedures, routine{
		label:  "procedure",
		show:   e.adapter.ShowCreateProcedure,
		create: e.adapter.CreateProcedure,
	})
	e.stats.Procedures = n
	return err
}

func (e *Exporter) exportEvents(ctx context.Context, _ selection) error {
	n, err := e.exportRoutines(ctx, e.inv.Events, routine{
		label:  "event",
		show:   e.adapter.ShowCreateEvent,
		create: e.adapter.CreateEvent,
	})
	e.stats.Events = n
	return err
}
