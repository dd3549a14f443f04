// Package config loads the gojostore configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/sushant-115/gojostore/pkg/logger"
	"github.com/sushant-115/gojostore/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Store     StoreConfig      `yaml:"store"`
}

// StoreConfig locates store files and configures their maintenance.
type StoreConfig struct {
	// DataDir is where store files named on the command line are resolved.
	DataDir string       `yaml:"data_dir"`
	Backup  BackupConfig `yaml:"backup"`
}

// BackupConfig configures backups and the scheduled jobs.
type BackupConfig struct {
	// Dir receives backup copies.
	Dir string `yaml:"dir"`
	// Schedule is a cron expression (seconds field first) for backing up every
	// open store. Empty disables scheduled backups.
	Schedule string `yaml:"schedule"`
	// CommitSchedule is a cron expression for committing every open store.
	// Empty disables scheduled commits.
	CommitSchedule string `yaml:"commit_schedule"`
	// RateBytesPerSec caps backup read throughput; 0 means unlimited.
	RateBytesPerSec int64 `yaml:"rate_bytes_per_sec"`
	// Compress writes backups as xz streams.
	Compress bool `yaml:"compress"`
}

// CronParser parses the schedules in BackupConfig.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger: logger.Config{Level: "info", Format: "console", OutputFile: "stderr"},
		Telemetry: telemetry.Config{
			Enabled:     false,
			ServiceName: logger.ServiceName,
		},
		Store: StoreConfig{
			DataDir: ".",
			Backup: BackupConfig{
				Dir: "backups",
			},
		},
	}
}

// Load reads the YAML file at path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields that cannot be checked by decoding alone.
func (c Config) Validate() error {
	var errs []error
	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logger: %w", err))
	}
	if c.Store.DataDir == "" {
		errs = append(errs, errors.New("store.data_dir must not be empty"))
	}
	if c.Store.Backup.RateBytesPerSec < 0 {
		errs = append(errs, errors.New("store.backup.rate_bytes_per_sec must not be negative"))
	}
	for field, expr := range map[string]string{
		"store.backup.schedule":        c.Store.Backup.Schedule,
		"store.backup.commit_schedule": c.Store.Backup.CommitSchedule,
	} {
		if expr == "" {
			continue
		}
		if _, err := CronParser.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.PrometheusPort < 0 {
		errs = append(errs, errors.New("telemetry.prometheus_port must not be negative"))
	}
	return errors.Join(errs...)
}
