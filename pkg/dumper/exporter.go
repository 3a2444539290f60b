package dumper

import (
	"context"
	"database/sql"
	"log/slog"
	"regexp"
	"time"

	"github.com/localrivet/datadumper/pkg/compress"
	"github.com/localrivet/datadumper/pkg/dialect"
	"github.com/localrivet/datadumper/pkg/option"
)

// Version is written into dump headers.
var Version = "dev"

// TransformFunc rewrites a row before it is encoded. Values are strings,
// or nil for NULL. SQLite rows carry int64, float64, string or []byte
// according to each value's storage class.
type TransformFunc func(table string, row map[string]any) map[string]any

// Stats summarizes one export run.
type Stats struct {
	Tables     int
	Views      int
	Triggers   int
	Procedures int
	Functions  int
	Events     int
	Rows       int64
	Bytes      int64
	Duration   time.Duration
}

var numericLiteral = regexp.MustCompile(`^[-+]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][-+]?[0-9]+)?$`)

// Exporter writes a database to a SQL script.
type Exporter struct {
	dumper
	transform TransformFunc
	now       func() time.Time

	conn    *sql.Conn
	adapter dialect.Adapter
	out     compress.Codec
	inv     Inventory
	columns map[string][]dialect.Column
	stats   Stats
}

// NewExporter validates the source dialect and returns an exporter using
// opt. A nil opt means the defaults.
func NewExporter(src Source, opt *option.Option, logger *slog.Logger) (*Exporter, error) {
	d, err := newDumper(src, opt, logger)
	if err != nil {
		return nil, err
	}
	return &Exporter{dumper: d, now: time.Now}, nil
}

// SetTransformTableRow installs a hook applied to every exported row.
func (e *Exporter) SetTransformTableRow(fn TransformFunc) {
	e.transform = fn
}

// SetTableWheres sets per-table filters that override the global where.
func (e *Exporter) SetTableWheres(wheres map[string]string) {
	e.opt.TableWheres = wheres
}

// SetTableLimits caps the number of rows exported per table.
func (e *Exporter) SetTableLimits(limits map[string]int) {
	e.opt.TableLimits = limits
}

// Inventory returns the objects selected by the last run.
func (e *Exporter) Inventory() Inventory { return e.inv }

// Stats returns counters for the last run.
func (e *Exporter) Stats() Stats { return e.stats }

type selection struct {
	include      *Matcher
	exclude      *Matcher
	includeViews *Matcher
	noData       *Matcher
}

func (e *Exporter) selection() (selection, error) {
	var (
		s   selection
		err error
	)
	if s.include, err = NewMatcher(e.opt.IncludeTables); err != nil {
		return s, err
	}
	if s.exclude, err = NewMatcher(e.opt.ExcludeTables); err != nil {
		return s, err
	}
	if s.includeViews, err = NewMatcher(e.opt.IncludeViews); err != nil {
		return s, err
	}
	if s.noData, err = NewMatcher(e.opt.NoDataTables); err != nil {
		return s, err
	}
	return s, nil
}

// Process dumps the source database to dest.
func (e *Exporter) Process(ctx context.Context, dest string) (err error) {
	if dest == "" {
		return ErrNoDestination
	}
	start := e.now()
	e.inv = Inventory{}
	e.columns = make(map[string][]dialect.Column)
	e.stats = Stats{}

	sel, err := e.selection()
	if err != nil {
		return err
	}
	kind, err := compress.ParseKind(e.opt.Compress)
	if err != nil {
		return err
	}
	out, err := compress.New(kind)
	if err != nil {
		return err
	}

	conn, adapter, err := e.pin(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	e.conn, e.adapter = conn, adapter

	if err := out.Open(dest, compress.ModeWrite); err != nil {
		return err
	}
	e.out = out
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	e.logger.Info("starting export",
		"database", e.src.Name(),
		"driver", e.src.Kind(),
		"destination", dest,
		"compression", kind,
	)

	if err := e.write(e.header(ctx)); err != nil {
		return err
	}

	txOpen := false
	if e.opt.SingleTransaction {
		if err := e.exec(ctx, adapter.SetupTransaction()); err != nil {
			return err
		}
		if err := e.exec(ctx, adapter.StartTransaction()); err != nil {
			return err
		}
		txOpen = true
		defer func() {
			if !txOpen {
				return
			}
			if cerr := e.exec(context.WithoutCancel(ctx), adapter.CommitTransaction()); cerr != nil {
				e.logger.Warn("failed to end snapshot transaction", "error", cerr)
			}
		}()
	}

	if err := e.write(adapter.BackupParameters()); err != nil {
		return err
	}
	if e.opt.Databases {
		if !e.opt.SkipComments {
			if err := e.write(adapter.DatabaseHeader(e.src.Name())); err != nil {
				return err
			}
		}
		if e.opt.AddDropDatabase {
			if err := e.write(adapter.DropDatabase(e.src.Name())); err != nil {
				return err
			}
		}
	}

	if err := e.discover(ctx, sel); err != nil {
		return err
	}

	if e.opt.Databases {
		stmt, err := adapter.CreateDatabase(ctx, e.src.Name())
		if err != nil {
			return err
		}
		if err := e.write(stmt); err != nil {
			return err
		}
	}

	steps := []func(context.Context, selection) error{
		e.exportTables,
		e.exportForeignKeys,
		e.exportStandIns,
		e.exportTriggers,
		e.exportFunctions,
		e.exportProcedures,
		e.exportViews,
		e.exportEvents,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx, sel); err != nil {
			return err
		}
	}

	if err := e.write(adapter.RestoreParameters()); err != nil {
		return err
	}
	if txOpen {
		txOpen = false
		if err := e.exec(ctx, adapter.CommitTransaction()); err != nil {
			return err
		}
	}
	if err := e.write(e.footer()); err != nil {
		return err
	}

	e.stats.Duration = e.now().Sub(start)
	e.logger.Info("export completed",
		"database", e.src.Name(),
		"tables", e.stats.Tables,
		"views", e.stats.Views,
		"rows", e.stats.Rows,
		"bytes", e.stats.Bytes,
		"duration", e.stats.Duration,
	)
	return nil
}
