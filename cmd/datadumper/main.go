package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/localrivet/datadumper/internal/config"
	"github.com/localrivet/datadumper/internal/metrics"
	"github.com/localrivet/datadumper/internal/notify"
	"github.com/localrivet/datadumper/internal/storage"
)

var (
	version  = "0.1.0"
	cfgFile  string
	verbose  bool
	logLevel = new(slog.LevelVar)
	logger   *slog.Logger
	cfg      *config.Config
	store    storage.Backend
	notifier *notify.Notifier
	m        *metrics.Metrics
)

func main() {
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "datadumper",
		Short:        "Dialect-aware SQL dump and restore",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logLevel.Set(slog.LevelDebug)
			}
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return setup()
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-object progress")

	root.AddCommand(
		exportCmd(),
		importCmd(),
		daemonCmd(),
		dumpCmd(),
		listCmd(),
		restoreCmd(),
		cleanupCmd(),
		verifyCmd(),
		healthCmd(),
	)
	return root
}

func setup() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sc := storage.Config{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path}
	if cfg.Storage.Backend == "s3" {
		sc.S3 = &storage.S3Config{
			Bucket:    cfg.Storage.S3.Bucket,
			Endpoint:  cfg.Storage.S3.Endpoint,
			Region:    cfg.Storage.S3.Region,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			UseSSL:    cfg.Storage.S3.UseSSL,
		}
	}

	store, err = storage.NewFactory().Create(sc)
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}

	notifier = notify.NewNotifier(cfg.Monitoring.WebhookURL, logger)
	m = metrics.New("datadumper")
	return nil
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
