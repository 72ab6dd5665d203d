// Package config loads the tracker configuration from a YAML file with
// environment overrides. Every key can be set via MATCHSYNC_* variables,
// so a config file is optional for simple setups.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Scope identifies which slice of the source a run tracks. Runs with
// different scopes keep separate snapshots and never contend.
type Scope struct {
	League    string `mapstructure:"league"`
	AgeGroup  string `mapstructure:"age_group"`
	Division  string `mapstructure:"division"`
	DateRange string `mapstructure:"date_range"`
}

// Paths locates the on-disk state: snapshot files, the audit trail
// directory, and the submission outbox database.
type Paths struct {
	StateDir   string `mapstructure:"state_dir"`
	AuditDir   string `mapstructure:"audit_dir"`
	OutboxPath string `mapstructure:"outbox_path"`
}

// Queue configures downstream submission: the division-name to routing-id
// table, per-submission timeout, and worker count.
type Queue struct {
	Divisions     map[string]int `mapstructure:"divisions"`
	SubmitTimeout time.Duration  `mapstructure:"submit_timeout"`
	Workers       int            `mapstructure:"workers"`
}

// Config is the full tracker configuration.
type Config struct {
	Scope Scope `mapstructure:"scope"`
	Paths Paths `mapstructure:"paths"`
	Queue Queue `mapstructure:"queue"`
}

// Load reads configuration from the YAML file at path, if given, then
// applies MATCHSYNC_* environment overrides (env wins over file). An empty
// path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MATCHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults also register the keys so AutomaticEnv can see them.
	v.SetDefault("scope.league", "")
	v.SetDefault("scope.age_group", "")
	v.SetDefault("scope.division", "")
	v.SetDefault("scope.date_range", "")
	v.SetDefault("paths.state_dir", "data/state")
	v.SetDefault("paths.audit_dir", "data/audit")
	v.SetDefault("paths.outbox_path", "data/outbox.db")
	v.SetDefault("queue.submit_timeout", 10*time.Second)
	v.SetDefault("queue.workers", 4)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration for values that would make a
// run misbehave rather than fail cleanly.
func (c *Config) Validate() error {
	if c.Paths.StateDir == "" {
		return fmt.Errorf("config: paths.state_dir must not be empty")
	}
	if c.Paths.AuditDir == "" {
		return fmt.Errorf("config: paths.audit_dir must not be empty")
	}
	if c.Paths.OutboxPath == "" {
		return fmt.Errorf("config: paths.outbox_path must not be empty")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("config: queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.SubmitTimeout <= 0 {
		return fmt.Errorf("config: queue.submit_timeout must be positive, got %s", c.Queue.SubmitTimeout)
	}
	for name, id := range c.Queue.Divisions {
		if id <= 0 {
			return fmt.Errorf("config: queue.divisions[%s] must be a positive routing id, got %d", name, id)
		}
	}
	return nil
}
