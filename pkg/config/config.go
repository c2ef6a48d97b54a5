// Package config holds the configuration of the linkdex service. Values are
// bound by the cmd package with viper and passed explicitly to constructors.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Validatable interface {
	Validate() error
}

type Config struct {
	Store     StoreConfig     `mapstructure:"store" toml:"store"`
	Table     TableConfig     `mapstructure:"table" toml:"table"`
	Retry     RetryConfig     `mapstructure:"retry" toml:"retry"`
	Reporter  ReporterConfig  `mapstructure:"reporter" toml:"reporter"`
	API       APIConfig       `mapstructure:"api" toml:"api"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" toml:"telemetry"`
	LogLevel  string          `mapstructure:"log_level" toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

func (c Config) Validate() error {
	return validateConfig(c)
}

func validateConfig(c any) error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}

// Load decodes the values bound in viper into T and validates them.
func Load[T Validatable]() (T, error) {
	var out T
	if err := viper.Unmarshal(&out); err != nil {
		return out, fmt.Errorf("unable to decode config, %w", err)
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("invalid config, %w", err)
	}
	return out, nil
}

type StoreConfig struct {
	// Bucket names the bucket holding uploaded archives.
	Bucket string `mapstructure:"bucket" toml:"bucket" validate:"required"`
	// Root is the directory that holds one directory per bucket.
	Root string `mapstructure:"root" toml:"root" validate:"required"`
}

type TableConfig struct {
	Driver    string `mapstructure:"driver" toml:"driver" validate:"oneof=sqlite postgres badger datastore"`
	URL       string `mapstructure:"url" toml:"url" validate:"required_unless=Driver datastore"`
	BatchSize int    `mapstructure:"batch_size" toml:"batch_size" validate:"min=1,max=25"`
}

type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries" toml:"max_tries" validate:"min=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" toml:"initial_interval" validate:"gt=0"`
}

type ReporterConfig struct {
	Concurrency int    `mapstructure:"concurrency" toml:"concurrency" validate:"min=1"`
	MaxGroups   int    `mapstructure:"max_groups" toml:"max_groups" validate:"min=0"`
	Order       string `mapstructure:"order" toml:"order" validate:"oneof=count size"`
}

type APIConfig struct {
	Port           int           `mapstructure:"port" flag:"port" toml:"port" validate:"min=1,max=65535"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" toml:"request_timeout" validate:"gt=0"`
	CacheSize      int           `mapstructure:"cache_size" toml:"cache_size" validate:"min=0"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" toml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" toml:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool   `mapstructure:"insecure" toml:"insecure"`
	ServiceName string `mapstructure:"service_name" toml:"service_name"`
}
