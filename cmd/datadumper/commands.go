package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/localrivet/datadumper/internal/backup"
	"github.com/localrivet/datadumper/internal/config"
	"github.com/localrivet/datadumper/internal/restore"
	"github.com/localrivet/datadumper/pkg/manifest"
)

func dumpEngine() *backup.Engine {
	e := backup.NewEngine(cfg, store, notifier, logger)
	e.SetMetrics(m)
	return e
}

func restoreEngine() *restore.Engine {
	e := restore.NewEngine(cfg, store, notifier, logger)
	e.SetMetrics(m)
	return e
}

func dumpCmd() *cobra.Command {
	var flags optionFlags

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump the configured database to storage now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			result, err := dumpEngine().RunWith(ctx, flags.values(cmd.Flags()))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Dump completed successfully\n")
			fmt.Fprintf(w, "  ID: %s\n", result.ID)
			fmt.Fprintf(w, "  Tables: %d, views: %d, rows: %d\n", result.Tables, result.Views, result.Rows)
			fmt.Fprintf(w, "  Size: %s\n", formatBytes(result.Size))
			fmt.Fprintf(w, "  Compressed: %s\n", formatBytes(result.CompressedSize))
			fmt.Fprintf(w, "  Duration: %s\n", result.Duration.Round(time.Millisecond))
			fmt.Fprintf(w, "  Retention: %s\n", result.Tier)
			if result.VerifyError != nil {
				fmt.Fprintf(w, "  Verification failed: %v\n", result.VerifyError)
			}
			return nil
		},
	}

	flags.registerExport(cmd.Flags())
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored dumps",
		RunE: func(cmd *cobra.Command, args []string) error {
			dumps, err := dumpEngine().ListDumps(context.Background())
			if err != nil {
				return err
			}
			printDumps(cmd.OutOrStdout(), dumps)
			return nil
		},
	}
}

func printDumps(w io.Writer, dumps []*manifest.Manifest) {
	if len(dumps) == 0 {
		fmt.Fprintln(w, "No dumps found")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Date", "Database", "Driver", "Codec", "Size", "Rows", "Type"})
	for _, d := range dumps {
		t.AppendRow(table.Row{
			d.ID,
			d.Timestamp.Format("2006-01-02 15:04"),
			d.Database.Name,
			d.Database.Driver,
			d.Dump.Compression,
			formatBytes(d.Dump.CompressedSize),
			d.Dump.Rows,
			d.Type,
		})
	}
	t.Render()
}

func restoreCmd() *cobra.Command {
	var (
		opts restore.Options
		set  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "restore <dump-id>",
		Short: "Restore a stored dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			opts.DumpID = args[0]
			if len(set) > 0 {
				opts.Values = make(map[string]any, len(set))
				for k, v := range set {
					opts.Values[k] = v
				}
			}

			result, err := restoreEngine().Restore(ctx, opts)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.DryRun {
				fmt.Fprintln(w, "Dry run completed - no changes made")
				return nil
			}
			fmt.Fprintf(w, "Restore completed successfully\n")
			fmt.Fprintf(w, "  Dump: %s\n", result.DumpID)
			fmt.Fprintf(w, "  Target database: %s\n", result.TargetDB)
			fmt.Fprintf(w, "  Statements: %d, tables: %d, rows: %d\n",
				result.Statements, result.TablesCreated, result.RowsInserted)
			if result.Snapshot != "" {
				fmt.Fprintf(w, "  Previous database saved to: %s\n", result.Snapshot)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.TargetDB, "target-db", "", "restore into this database, or file for SQLite")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "check the dump without touching any database")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "allow restoring over the configured database")
	cmd.Flags().BoolVar(&opts.VerifyChecksum, "verify-checksum", false, "compare the checksum before importing")
	cmd.Flags().StringToStringVar(&set, "set", nil, "restore option as key=value")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete dumps outside the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := dumpEngine().Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleanup completed: %d dump(s) deleted\n", count)
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dump-id>",
		Short: "Check a stored dump's integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := dumpEngine().Verify(context.Background(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !result.Valid {
				fmt.Fprintf(w, "Dump %s is INVALID\n", args[0])
				for _, e := range result.Errors {
					fmt.Fprintf(w, "  - %s\n", e)
				}
				return fmt.Errorf("dump validation failed")
			}

			fmt.Fprintf(w, "Dump %s is valid\n", args[0])
			fmt.Fprintf(w, "  File exists: %v\n", result.FileExists)
			fmt.Fprintf(w, "  Size match: %v\n", result.SizeMatch)
			fmt.Fprintf(w, "  Checksum OK: %v\n", result.ChecksumOK)
			fmt.Fprintf(w, "  Statements: %d\n", result.Statements)
			return nil
		},
	}
}

// status summarizes stored dumps against the alert window.
type status struct {
	State      string
	Dumps      int
	TotalBytes int64
	Last       time.Time
}

func summarize(dumps []*manifest.Manifest, c *config.Config, now time.Time) status {
	s := status{Dumps: len(dumps)}
	for _, d := range dumps {
		s.TotalBytes += d.Dump.CompressedSize
		if d.Timestamp.After(s.Last) {
			s.Last = d.Timestamp
		}
	}

	switch {
	case len(dumps) == 0:
		s.State = "warning: no dumps found"
	case now.Sub(s.Last) > c.AlertDuration():
		s.State = "warning: dump overdue"
	default:
		s.State = "healthy"
	}
	return s
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report dump freshness and storage use",
		RunE: func(cmd *cobra.Command, args []string) error {
			dumps, err := dumpEngine().ListDumps(context.Background())
			if err != nil {
				return err
			}

			s := summarize(dumps, cfg, time.Now())
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Status: %s\n", s.State)
			if !s.Last.IsZero() {
				fmt.Fprintf(w, "Last dump: %s\n", s.Last.Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(w, "Total dumps: %d\n", s.Dumps)
			fmt.Fprintf(w, "Storage used: %s\n", formatBytes(s.TotalBytes))
			return nil
		},
	}
}
