package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/localrivet/datadumper/internal/restore"
	"github.com/localrivet/datadumper/pkg/compress"
	"github.com/localrivet/datadumper/pkg/database"
	"github.com/localrivet/datadumper/pkg/dumper"
	"github.com/localrivet/datadumper/pkg/option"
)

// optionFlags maps command-line flags onto option keys. Only flags the user
// set are applied, so configured values survive.
type optionFlags struct {
	compress      string
	tables        []string
	excludeTables []string
	noData        bool
	noDataTables  []string
	where         string
	message       string
	addDropTable  bool
	skipTriggers  bool
	set           map[string]string
}

func (o *optionFlags) registerExport(fs *pflag.FlagSet) {
	fs.StringVar(&o.compress, "compress", "", "none, gzip, gzipstream, bzip2 or zstd (default: from file extension)")
	fs.StringSliceVar(&o.tables, "tables", nil, "only dump these tables; /regex/ entries are patterns")
	fs.StringSliceVar(&o.excludeTables, "exclude-tables", nil, "skip these tables; /regex/ entries are patterns")
	fs.BoolVar(&o.noData, "no-data", false, "dump schema only")
	fs.StringSliceVar(&o.noDataTables, "no-data-tables", nil, "dump schema only for these tables")
	fs.StringVar(&o.where, "where", "", "WHERE clause applied to every table")
	fs.StringVar(&o.message, "message", "", "comment written into the dump header")
	fs.BoolVar(&o.addDropTable, "add-drop-table", false, "emit DROP TABLE before each CREATE TABLE")
	fs.BoolVar(&o.skipTriggers, "skip-triggers", false, "do not dump triggers")
	fs.StringToStringVar(&o.set, "set", nil, "any other option as key=value")
}

func (o *optionFlags) values(fs *pflag.FlagSet) map[string]any {
	values := map[string]any{}
	for k, v := range o.set {
		values[k] = v
	}

	changed := func(name string) bool { return fs.Lookup(name) != nil && fs.Changed(name) }
	if changed("compress") {
		values["compress"] = o.compress
	}
	if changed("tables") {
		values["include_tables"] = o.tables
	}
	if changed("exclude-tables") {
		values["exclude_tables"] = o.excludeTables
	}
	if changed("no-data-tables") {
		values["no_data"] = o.noDataTables
	}
	if changed("no-data") {
		values["no_data"] = o.noData
	}
	if changed("where") {
		values["where"] = o.where
	}
	if changed("message") {
		values["message"] = o.message
	}
	if changed("add-drop-table") {
		values["add_drop_table"] = o.addDropTable
	}
	if changed("skip-triggers") {
		values["skip_triggers"] = o.skipTriggers
	}
	return values
}

// exportOptions layers the configured dump section, the codec implied by
// dest and the flags, in that order.
func exportOptions(base map[string]any, defaultCompress, dest string, flags map[string]any) (*option.Option, error) {
	values := maps.Clone(base)
	if values == nil {
		values = map[string]any{}
	}
	values["compress"] = defaultCompress
	if kind, err := compress.ForExtension(dest); err == nil && kind != compress.None {
		values["compress"] = string(kind)
	}
	maps.Copy(values, flags)
	return option.New(values)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func connect(ctx context.Context, dc database.Config) (database.Driver, error) {
	driver, err := database.NewDriver(dc)
	if err != nil {
		return nil, err
	}
	if err := driver.Connect(ctx); err != nil {
		return nil, err
	}
	return driver, nil
}

func exportCmd() *cobra.Command {
	var flags optionFlags

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Dump the configured database to a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			dest := args[0]
			opt, err := exportOptions(cfg.Dump, cfg.Compression, dest, flags.values(cmd.Flags()))
			if err != nil {
				return fmt.Errorf("invalid options: %w", err)
			}

			driver, err := connect(ctx, cfg.Database.Driver())
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer driver.Close()

			exporter, err := dumper.NewExporter(driver, opt, logger)
			if err != nil {
				return err
			}
			exporter.Events().OnTableExport(func(table string, rows int64) {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %-40s %d row(s)\n", table, rows)
			})

			if err := exporter.Process(ctx, dest); err != nil {
				return err
			}

			stats := exporter.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", driver.Name(), dest)
			fmt.Fprintf(cmd.OutOrStdout(), "  Tables: %d, views: %d, rows: %d\n", stats.Tables, stats.Views, stats.Rows)
			fmt.Fprintf(cmd.OutOrStdout(), "  Size: %s\n", formatBytes(stats.Bytes))
			fmt.Fprintf(cmd.OutOrStdout(), "  Duration: %s\n", stats.Duration.Round(time.Millisecond))
			return nil
		},
	}

	flags.registerExport(cmd.Flags())
	return cmd
}

func importCmd() *cobra.Command {
	var (
		target     string
		disableFKs bool
		set        map[string]string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Run a local dump file against the configured database",
		Long: "Run a local dump file against the configured database. The codec is\n" +
			"chosen from the file extension (.sql, .gz, .gzip, .bz2, .bzip2, .zst).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			values := maps.Clone(cfg.Restore)
			if values == nil {
				values = map[string]any{}
			}
			for k, v := range set {
				values[k] = v
			}
			if cmd.Flags().Changed("disable-foreign-keys-check") {
				values["disable_foreign_keys_check"] = disableFKs
			}
			opt, err := option.New(values)
			if err != nil {
				return fmt.Errorf("invalid options: %w", err)
			}

			dc, err := restore.TargetConfig(cfg, target)
			if err != nil {
				return err
			}
			driver, err := connect(ctx, dc)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer driver.Close()

			importer, err := dumper.NewImporter(driver, opt, logger)
			if err != nil {
				return err
			}
			importer.Events().OnTableCreate(func(table string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "  created %s\n", table)
			})

			if err := importer.Process(ctx, args[0]); err != nil {
				return err
			}

			stats := importer.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s\n", args[0], driver.Name())
			fmt.Fprintf(cmd.OutOrStdout(), "  Statements: %d, tables: %d, rows: %d\n",
				stats.Statements, stats.TablesCreated, stats.RowsInserted)
			fmt.Fprintf(cmd.OutOrStdout(), "  Duration: %s\n", stats.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target-db", "", "database name, or file for SQLite, to import into")
	cmd.Flags().BoolVar(&disableFKs, "disable-foreign-keys-check", false, "turn off foreign key checks during the import")
	cmd.Flags().StringToStringVar(&set, "set", nil, "any other option as key=value")
	return cmd
}
