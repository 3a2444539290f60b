package config

import (
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/localrivet/datadumper/pkg/compress"
	"github.com/localrivet/datadumper/pkg/database"
	"github.com/localrivet/datadumper/pkg/dialect"
	"github.com/localrivet/datadumper/pkg/option"
)

const envPrefix = "DATADUMPER_"

type Config struct {
	Database    DatabaseConfig   `yaml:"database"`
	Schedule    string           `yaml:"schedule"`
	Storage     StorageConfig    `yaml:"storage"`
	Retention   RetentionConfig  `yaml:"retention"`
	Compression string           `yaml:"compression"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
	Backup      BackupConfig     `yaml:"backup"`

	// Dump holds exporter options keyed as in option.Option.
	Dump map[string]any `yaml:"dump"`
	// Restore holds importer options.
	Restore map[string]any `yaml:"restore"`
}

type BackupConfig struct {
	VerifyAfterBackup bool `yaml:"verify_after_backup"` // Parse the stored dump back after writing it
	VerifyChecksum    bool `yaml:"verify_checksum"`     // Verify checksum on restore
	RetryAttempts     int  `yaml:"retry_attempts"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	URL      string `yaml:"url"`
	Path     string `yaml:"path"`
}

// Driver returns the connection settings for pkg/database.
func (d DatabaseConfig) Driver() database.Config {
	return database.Config{
		Type:     d.Type,
		Host:     d.Host,
		Port:     d.Port,
		Name:     d.Name,
		User:     d.User,
		Password: d.Password,
		URL:      d.URL,
		Path:     d.Path,
	}
}

type StorageConfig struct {
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RetentionConfig struct {
	Daily      int `yaml:"daily"`
	Weekly     int `yaml:"weekly"`
	Monthly    int `yaml:"monthly"`
	MaxAgeDays int `yaml:"max_age_days"`
}

type MonitoringConfig struct {
	MetricsPort     int    `yaml:"metrics_port"`
	WebhookURL      string `yaml:"webhook_url"`
	AlertAfterHours int    `yaml:"alert_after_hours"`
	HealthPort      int    `yaml:"health_port"`
}

func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Type: "mysql",
			Host: "localhost",
			Port: 3306,
		},
		Schedule:    "0 2 * * *",
		Compression: "gzip",
		Storage: StorageConfig{
			Backend: "local",
			Path:    "/dumps",
		},
		Retention: RetentionConfig{
			Daily:      7,
			Weekly:     4,
			Monthly:    6,
			MaxAgeDays: 90,
		},
		Monitoring: MonitoringConfig{
			MetricsPort:     9090,
			HealthPort:      8080,
			AlertAfterHours: 26,
		},
		Backup: BackupConfig{
			RetryAttempts: 3,
		},
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func env(key string) string {
	return os.Getenv(envPrefix + key)
}

func envInt(key string, dst *int) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envString(key string, dst *string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := env(key); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func (c *Config) loadFromEnv() {
	envString("DB_TYPE", &c.Database.Type)
	envString("DATABASE_URL", &c.Database.URL)
	envString("DB_HOST", &c.Database.Host)
	envString("DB_PATH", &c.Database.Path)
	envInt("DB_PORT", &c.Database.Port)
	envString("DB_NAME", &c.Database.Name)
	envString("DB_USER", &c.Database.User)
	envString("DB_PASSWORD", &c.Database.Password)

	envString("SCHEDULE", &c.Schedule)

	envString("STORAGE_BACKEND", &c.Storage.Backend)
	envString("STORAGE_PATH", &c.Storage.Path)
	envString("S3_BUCKET", &c.Storage.S3.Bucket)
	envString("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	envString("S3_REGION", &c.Storage.S3.Region)
	envString("S3_ACCESS_KEY", &c.Storage.S3.AccessKey)
	envString("S3_SECRET_KEY", &c.Storage.S3.SecretKey)
	envBool("S3_USE_SSL", &c.Storage.S3.UseSSL)

	envInt("KEEP_DAILY", &c.Retention.Daily)
	envInt("KEEP_WEEKLY", &c.Retention.Weekly)
	envInt("KEEP_MONTHLY", &c.Retention.Monthly)
	envInt("MAX_AGE_DAYS", &c.Retention.MaxAgeDays)

	envString("COMPRESSION", &c.Compression)

	envInt("METRICS_PORT", &c.Monitoring.MetricsPort)
	envInt("HEALTH_PORT", &c.Monitoring.HealthPort)
	envString("WEBHOOK_URL", &c.Monitoring.WebhookURL)
	envInt("ALERT_AFTER_HOURS", &c.Monitoring.AlertAfterHours)

	envBool("VERIFY_DUMP", &c.Backup.VerifyAfterBackup)
	envBool("VERIFY_CHECKSUM", &c.Backup.VerifyChecksum)
	envInt("RETRY_ATTEMPTS", &c.Backup.RetryAttempts)
}

func (c *Config) validate() error {
	if c.Database.Type == "" {
		c.Database.Type = string(dialect.MySQL)
	}
	kind, err := dialect.ParseKind(c.Database.Type)
	if err != nil {
		return fmt.Errorf("unsupported database type: %s (supported: mysql, postgres, sqlite)", c.Database.Type)
	}

	switch kind {
	case dialect.MySQL:
		if c.Database.URL == "" && c.Database.Name == "" {
			return fmt.Errorf("database name or DSN is required for MySQL")
		}
	case dialect.Postgres:
		if c.Database.URL == "" && c.Database.Name == "" {
			return fmt.Errorf("database name or URL is required for PostgreSQL")
		}
	case dialect.SQLite:
		if c.Database.Path == "" && c.Database.Name == "" {
			return fmt.Errorf("database path is required for SQLite")
		}
	}

	if c.Storage.Backend != "local" && c.Storage.Backend != "s3" {
		return fmt.Errorf("storage backend must be 'local' or 's3'")
	}

	if c.Storage.Backend == "s3" {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when using S3 storage")
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("S3 access key and secret key are required")
		}
	}

	ck, err := compress.ParseKind(c.Compression)
	if err != nil {
		return fmt.Errorf("invalid compression: %w", err)
	}
	if _, err := compress.New(ck); err != nil {
		return fmt.Errorf("invalid compression: %w", err)
	}
	c.Compression = string(ck)

	if c.Backup.RetryAttempts < 1 {
		return fmt.Errorf("backup retry_attempts must be at least 1")
	}

	if _, err := c.DumpOptions(); err != nil {
		return fmt.Errorf("invalid dump options: %w", err)
	}
	if _, err := c.RestoreOptions(); err != nil {
		return fmt.Errorf("invalid restore options: %w", err)
	}

	return nil
}

// DumpOptions builds exporter options from the dump section. The top-level
// compression setting wins over a compress key in that section.
func (c *Config) DumpOptions() (*option.Option, error) {
	values := maps.Clone(c.Dump)
	if values == nil {
		values = map[string]any{}
	}
	values["compress"] = c.Compression
	return option.New(values)
}

func (c *Config) RestoreOptions() (*option.Option, error) {
	return option.New(c.Restore)
}

func (c *Config) AlertDuration() time.Duration {
	return time.Duration(c.Monitoring.AlertAfterHours) * time.Hour
}

func (c *Config) Kind() dialect.Kind {
	kind, err := dialect.ParseKind(c.Database.Type)
	if err != nil {
		return dialect.MySQL
	}
	return kind
}

func (c *Config) IsSQLite() bool {
	return c.Kind() == dialect.SQLite
}
