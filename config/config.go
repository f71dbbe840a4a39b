// Package config loads the field migration system's runtime
// configuration from the environment, one struct per component, the
// way the teacher's appview/config package composes CoreConfig,
// ConsumerConfig and friends into a single top-level Config.
package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// CoreConfig holds the settings every entry point needs regardless of
// which subcommand it's running (spec §0, §3 "Ownership").
type CoreConfig struct {
	DBPath   string `env:"DB_PATH, default=fieldmigrate.db"`
	ACLPath  string `env:"ACL_PATH, default=fieldmigrate_acl.db"`
	LogLevel string `env:"LOG_LEVEL, default=info"`
	Dev      bool   `env:"DEV, default=false"`
}

// QueueConfig tunes the durable job queue (spec §4.5).
type QueueConfig struct {
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT, default=5m"`
	PollInterval      time.Duration `env:"POLL_INTERVAL, default=250ms"`
	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY, default=1s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY, default=16s"`
}

// BackupConfig tunes snapshot/restore behavior (spec §4.3).
type BackupConfig struct {
	// RetentionDays bounds how long a newly written snapshot remains
	// restorable before Sweep may reclaim it (spec §4.3 "default
	// 90-day expiration"). Snapshots already written keep the
	// expiration they were stamped with when this changes.
	RetentionDays int `env:"RETENTION_DAYS, default=90"`
}

// Config is the field migration system's complete runtime
// configuration, loaded once in cmd/fieldmigrate and threaded down
// into every component constructor.
type Config struct {
	Core   CoreConfig   `env:",prefix=FIELDMIGRATE_"`
	Queue  QueueConfig  `env:",prefix=FIELDMIGRATE_QUEUE_"`
	Backup BackupConfig `env:",prefix=FIELDMIGRATE_BACKUP_"`
}

// Load reads Config from the environment, applying defaults for
// anything unset.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
