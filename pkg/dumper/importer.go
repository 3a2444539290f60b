package dumper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/localrivet/datadumper/pkg/compress"
	"github.com/localrivet/datadumper/pkg/option"
)

var (
	createTableRE = regexp.MustCompile("(?i)^CREATE\\s+TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?[`\"]?([^`\"\\s(]+)")
	insertIntoRE  = regexp.MustCompile("(?i)^INSERT\\s+(?:IGNORE\\s+|OR\\s+IGNORE\\s+)?INTO\\s+[`\"]?([^`\"\\s(]+)")
)

// ImportStats summarizes one restore run.
type ImportStats struct {
	Statements    int64
	TablesCreated int
	RowsInserted  int64
	Duration      time.Duration
}

// Importer replays a dump script against the target database.
type Importer struct {
	dumper
	now   func() time.Time
	stats ImportStats
}

// NewImporter validates the target dialect and returns an importer using
// opt. A nil opt means the defaults.
func NewImporter(src Source, opt *option.Option, logger *slog.Logger) (*Importer, error) {
	d, err := newDumper(src, opt, logger)
	if err != nil {
		return nil, err
	}
	return &Importer{dumper: d, now: time.Now}, nil
}

// Stats returns counters for the last run.
func (i *Importer) Stats() ImportStats { return i.stats }

// Process restores the dump at path. The codec is chosen from the file
// extension and the script is decompressed next to the source before it
// is executed. The first failing statement stops the run.
func (i *Importer) Process(ctx context.Context, path string) (err error) {
	start := i.now()
	i.stats = ImportStats{}

	kind, err := compress.ForExtension(path)
	if err != nil {
		return err
	}

	plain, err := i.decompress(path, kind)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := os.Remove(plain); rerr != nil && !os.IsNotExist(rerr) {
			i.logger.Warn("failed to remove decompressed dump", "path", plain, "error", rerr)
		}
	}()

	conn, adapter, err := i.pin(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := os.Open(plain)
	if err != nil {
		return fmt.Errorf("%w: %w", compress.ErrReadFailed, err)
	}
	defer f.Close()

	i.logger.Info("starting import",
		"database", i.src.Name(),
		"driver", i.src.Kind(),
		"source", path,
		"compression", kind,
	)

	if i.opt.DisableForeignKeysCheck {
		if stmt := adapter.ForeignKeyChecks(false); stmt != "" {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return &ExecError{Statement: stmt, Err: err}
			}
			defer func() {
				stmt := adapter.ForeignKeyChecks(true)
				if _, ferr := conn.ExecContext(context.WithoutCancel(ctx), stmt); ferr != nil && err == nil {
					err = &ExecError{Statement: stmt, Err: ferr}
				}
			}()
		}
	}

	scanner := NewStatementScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		stmt := scanner.Statement()
		res, err := conn.ExecContext(ctx, stmt)
		if err != nil {
			return &ExecError{Statement: stmt, Err: err}
		}
		i.stats.Statements++
		i.observe(stmt, res)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %w", compress.ErrReadFailed, err)
	}
	if rest := scanner.Pending(); rest != "" {
		i.logger.Warn("dump ends with an unterminated statement", "bytes", len(rest))
	}

	i.stats.Duration = i.now().Sub(start)
	i.logger.Info("import completed",
		"database", i.src.Name(),
		"statements", i.stats.Statements,
		"tables", i.stats.TablesCreated,
		"rows", i.stats.RowsInserted,
		"duration", i.stats.Duration,
	)
	return nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func (i *Importer) observe(stmt string, res rowsAffected) {
	if m := createTableRE.FindStringSubmatch(stmt); m != nil {
		i.stats.TablesCreated++
		i.events.Emit(Event{Name: EventTableCreate, Table: m[1]})
		return
	}
	if m := insertIntoRE.FindStringSubmatch(stmt); m != nil {
		var n int64
		if res != nil {
			n, _ = res.RowsAffected()
		}
		i.stats.RowsInserted += n
		i.events.Emit(Event{Name: EventTableInsert, Table: m[1], Rows: n})
	}
}

// decompress expands path into a timestamped sibling file and returns its
// name. A partial file is removed on failure.
func (i *Importer) decompress(path string, kind compress.Kind) (_ string, err error) {
	codec, err := compress.New(kind)
	if err != nil {
		return "", err
	}
	if err := codec.Open(path, compress.ModeRead); err != nil {
		return "", err
	}
	defer codec.Close()

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if kind == compress.None {
		base += ".sql"
	}
	name := filepath.Join(filepath.Dir(path), i.now().Format("20060102_150405")+"_"+base)

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("%w: %w", compress.ErrFileNotWritable, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", compress.ErrWriteFailed, cerr)
		}
		if err != nil {
			os.Remove(name)
		}
	}()

	if _, err = io.Copy(f, codec); err != nil {
		return "", err
	}
	return name, nil
}
