// Package config loads the storage lifecycle daemon's configuration,
// grounded on dittofs's pkg/config loader: viper for file/env layering,
// mapstructure for struct decoding with a duration decode hook, and
// go-playground/validator for post-decode validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/AnzeLovse/resolwe/internal/logger"
	"github.com/AnzeLovse/resolwe/internal/telemetry"
	"github.com/AnzeLovse/resolwe/pkg/catalog"
)

// Config is the storage lifecycle daemon's static configuration.
//
// Precedence, highest to lowest: environment variables (STORELIFE_*),
// configuration file, built-in defaults.
type Config struct {
	Logging   LoggingConfig       `mapstructure:"logging" yaml:"logging" validate:"required"`
	Telemetry telemetry.Config    `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Database  DatabaseConfig      `mapstructure:"database" yaml:"database" validate:"required"`
	Sweep     SweepConfig         `mapstructure:"sweep" yaml:"sweep"`
	Backends  []BackendConfigYAML `mapstructure:"backends" yaml:"backends" validate:"required,min=1,dive"`
}

// LoggingConfig controls the global logger (internal/logger).
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address" validate:"required_if=Enabled true"`
}

// DatabaseConfig configures the Postgres catalog connection.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn" validate:"required"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// SweepConfig controls the lifecycle manager's periodic sweep.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"required,gt=0"`
}

// RuleYAML is the YAML shape of a copy or delete rule, including overrides.
type RuleYAML struct {
	Delay             int                         `mapstructure:"delay" yaml:"delay"`
	MinOtherCopies    int                         `mapstructure:"min_other_copies" yaml:"min_other_copies"`
	ProcessType       map[string]RuleOverrideYAML `mapstructure:"process_type" yaml:"process_type"`
	DataSlug          map[string]RuleOverrideYAML `mapstructure:"data_slug" yaml:"data_slug"`
}

// RuleOverrideYAML is one override entry within a RuleYAML.
type RuleOverrideYAML struct {
	Delay          *int `mapstructure:"delay" yaml:"delay"`
	MinOtherCopies *int `mapstructure:"min_other_copies" yaml:"min_other_copies"`
}

// BackendConfigYAML is one backend's full configuration: connection details
// plus its copy/delete policy rules.
type BackendConfigYAML struct {
	Name     string   `mapstructure:"name" yaml:"name" validate:"required"`
	Kind     string   `mapstructure:"kind" yaml:"kind" validate:"required,oneof=local s3 gcs"`
	Priority int      `mapstructure:"priority" yaml:"priority"`
	Copy     RuleYAML `mapstructure:"copy" yaml:"copy"`
	Delete   RuleYAML `mapstructure:"delete" yaml:"delete"`

	// Connection holds backend-kind-specific fields (bucket, base_path,
	// region, endpoint, credentials); kept untyped since its shape varies by
	// Kind, mirroring how dittofs's store.Config discriminates by store type.
	Connection map[string]interface{} `mapstructure:"connection" yaml:"connection"`
}

// ToPolicyRule converts the YAML rule shape into catalog.Rule.
func (r RuleYAML) ToPolicyRule() catalog.Rule {
	rule := catalog.Rule{
		Delay:                r.Delay,
		MinOtherCopies:       r.MinOtherCopies,
		ProcessTypeOverrides: make(map[string]catalog.RuleOverride, len(r.ProcessType)),
		DataSlugOverrides:    make(map[string]catalog.RuleOverride, len(r.DataSlug)),
	}
	for k, v := range r.ProcessType {
		rule.ProcessTypeOverrides[k] = v.toOverride()
	}
	for k, v := range r.DataSlug {
		rule.DataSlugOverrides[k] = v.toOverride()
	}
	return rule
}

func (o RuleOverrideYAML) toOverride() catalog.RuleOverride {
	out := catalog.RuleOverride{}
	if o.Delay != nil {
		out.DelaySet = true
		out.Delay = *o.Delay
	}
	if o.MinOtherCopies != nil {
		out.MinOtherCopiesSet = true
		out.MinOtherCopies = *o.MinOtherCopies
	}
	return out
}

// Default returns the configuration used when no file is found: a single
// local backend, text logging, and a 5-minute sweep.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{Enabled: true, Address: ":9090"},
		Database: DatabaseConfig{DSN: "postgres://localhost:5432/storelife", MaxConns: 10},
		Sweep:    SweepConfig{Interval: 5 * time.Minute},
		Backends: []BackendConfigYAML{
			{Name: "local", Kind: "local", Priority: 0, Connection: map[string]interface{}{"base_path": "/var/lib/storelife/data"}},
		},
	}
}

var validate = validator.New()

// Load reads configuration from configPath (if non-empty) or the default
// search locations and validates the result. Environment variables
// (STORELIFE_*) override keys that the config file sets. When configPath is
// empty and no file is found in the default locations, Load returns
// Default() without applying environment variables or validation; a
// non-empty configPath that cannot be read is an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return Default(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("STORELIFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/storelife")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = 5 * time.Minute
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
}

// LoggerConfig converts the loaded Logging section into internal/logger's
// own Config type.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: logger.Level(c.Logging.Level), Format: logger.Format(c.Logging.Format)}
}
