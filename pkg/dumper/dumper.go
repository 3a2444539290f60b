// Package dumper exports a live database to a SQL script and restores
// such scripts back into a database.
//
// Both directions share an Option set, an EventHub and a Source that
// supplies the connection and its dialect. Every run pins a single
// connection so session settings, locks and the snapshot transaction apply
// to all statements of that run.
package dumper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/localrivet/datadumper/pkg/dialect"
	"github.com/localrivet/datadumper/pkg/option"
)

// Source is an open database a dump is read from or restored into.
type Source interface {
	DB() *sql.DB
	Kind() dialect.Kind
	Name() string
	Host() string
	Version(ctx context.Context) (string, error)
}

type dumper struct {
	src    Source
	opt    *option.Option
	events *EventHub
	logger *slog.Logger
}

func newDumper(src Source, opt *option.Option, logger *slog.Logger) (dumper, error) {
	if src == nil || src.DB() == nil {
		return dumper{}, fmt.Errorf("dumper: source is not connected")
	}
	if err := dialect.Supported(src.Kind()); err != nil {
		return dumper{}, err
	}
	if opt == nil {
		opt = option.Default()
	} else {
		opt = opt.Clone()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return dumper{src: src, opt: opt, events: NewEventHub(), logger: logger}, nil
}

func (d *dumper) Events() *EventHub { return d.events }

func (d *dumper) Option() *option.Option { return d.opt }

// SetOptions patches the active options. The caller's Option is never
// modified.
func (d *dumper) SetOptions(values map[string]any) error {
	return d.opt.Set(values)
}

// pin reserves one connection, binds the adapter to it and runs the
// session init commands.
func (d *dumper) pin(ctx context.Context) (*sql.Conn, dialect.Adapter, error) {
	conn, err := d.src.DB().Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reserve connection: %w", err)
	}
	adapter, err := dialect.New(d.src.Kind(), conn, d.opt)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	for _, cmd := range adapter.InitCommands() {
		if _, err := conn.ExecContext(ctx, cmd); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("init command %q failed: %w", cmd, err)
		}
	}
	return conn, adapter, nil
}
