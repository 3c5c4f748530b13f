// Package config loads the service configuration from a YAML file and
// LENDING_ prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/mcclellann/lendengine/pkg/engine"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. LENDING_DATABASE_PATH.
const EnvPrefix = "LENDING"

// Configuration holds all configuration for the lending service.
type Configuration struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Penalties  PenaltiesConfig  `mapstructure:"penalties"`
	Allocation AllocationConfig `mapstructure:"allocation"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `mapstructure:"level"`      // debug, info, warn, error
	Format     string `mapstructure:"format"`     // json, console
	OutputFile string `mapstructure:"outputFile"` // optional file output
}

// PenaltiesConfig controls the scheduled penalty sweep.
type PenaltiesConfig struct {
	SweepSchedule    string `mapstructure:"sweepSchedule"` // cron spec; empty disables the schedule
	SweepConcurrency int    `mapstructure:"sweepConcurrency"`
}

type AllocationConfig struct {
	Order []string `mapstructure:"order"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("database.path", "./lending.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputFile", "")
	v.SetDefault("penalties.sweepSchedule", "@daily")
	v.SetDefault("penalties.sweepConcurrency", 4)

	order := make([]string, 0, len(engine.DefaultAllocationOrder))
	for _, b := range engine.DefaultAllocationOrder {
		order = append(order, string(b))
	}
	v.SetDefault("allocation.order", order)
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there. An empty path uses defaults and the environment only.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file, %s", err)
		}
	}

	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	return &configuration, nil
}

// Validate checks the values that cannot be checked by decoding alone.
func (c *Configuration) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.Penalties.SweepConcurrency <= 0 {
		return fmt.Errorf("penalties.sweepConcurrency must be positive, got %d", c.Penalties.SweepConcurrency)
	}
	if c.Penalties.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Penalties.SweepSchedule); err != nil {
			return fmt.Errorf("invalid penalties.sweepSchedule %q: %w", c.Penalties.SweepSchedule, err)
		}
	}
	if _, err := c.AllocationOrder(); err != nil {
		return err
	}
	return nil
}

// AllocationOrder returns the configured payment waterfall.
func (c *Configuration) AllocationOrder() ([]models.Bucket, error) {
	order := make([]models.Bucket, 0, len(c.Allocation.Order))
	for _, name := range c.Allocation.Order {
		order = append(order, models.Bucket(strings.ToLower(strings.TrimSpace(name))))
	}
	if err := engine.ValidateOrder(order); err != nil {
		return nil, fmt.Errorf("invalid allocation.order: %w", err)
	}
	return order, nil
}
