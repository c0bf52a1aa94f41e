// Package config loads the application configuration and pipeline job
// files.
//
// Application settings come from defaults, an optional config file and
// PIPELINE_* environment variables, in increasing precedence. Job files are
// YAML or JSON documents checked against an embedded JSON Schema.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"go-etl-pipeline/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// PIPELINE_DATABASE_PATH for database.path.
const EnvPrefix = "PIPELINE"

// Config is the application configuration shared by the CLI and the API
// server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Output     OutputConfig     `mapstructure:"output"`
	Log        LogConfig        `mapstructure:"log"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Validation ValidationConfig `mapstructure:"validation"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig configures the SQLite run store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig configures where runs without an output path write to
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// PipelineConfig holds the default stage budgets. Job files may override
// them per job.
type PipelineConfig struct {
	ExtractTimeout time.Duration `mapstructure:"extract_timeout"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
}

// ValidationConfig tunes the validation engine
type ValidationConfig struct {
	Workers int `mapstructure:"workers"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "pipeline.db")
	v.SetDefault("output.dir", "output")
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("pipeline.extract_timeout", 5*time.Minute)
	v.SetDefault("pipeline.load_timeout", 5*time.Minute)
	v.SetDefault("validation.workers", 4)
}

// New returns a viper instance with defaults and environment binding. When
// configPath is set the file is read as well; its format follows the
// extension (toml, yaml, json).
func New(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}
	return v, nil
}

// Load reads the configuration from defaults, configPath (optional) and
// the environment.
func Load(configPath string) (*Config, error) {
	v, err := New(configPath)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir cannot be empty")
	}
	if c.Validation.Workers < 1 {
		return errors.Newf("validation.workers must be at least 1, got %d", c.Validation.Workers)
	}
	if c.Pipeline.ExtractTimeout < 0 || c.Pipeline.LoadTimeout < 0 {
		return errors.New("pipeline timeouts cannot be negative")
	}
	return nil
}
