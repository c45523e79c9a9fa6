package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DatabaseConfig configures the target database. Path is only used by sqlite;
// host, port and credentials only by mysql and postgres.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
	SSLMode  string `yaml:"sslmode"` // postgres only
}

// APIConfig configures the Top Stories API.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Section string `yaml:"section"`
	Key     string `yaml:"key"`
	Timeout string `yaml:"timeout"`
}

// ParseTimeout returns the request timeout as time.Duration.
func (a APIConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// IngestConfig controls how fetched stories are turned into rows.
type IngestConfig struct {
	// Timezone the stored timestamps are expressed in. Empty means a fixed
	// UTC-05:00 offset.
	Timezone    string `yaml:"timezone"`
	SkipInvalid bool   `yaml:"skip_invalid"`
}

// Location resolves Timezone. Names accepted by time.LoadLocation and fixed
// offsets such as "-05:00" both work.
func (i IngestConfig) Location() (*time.Location, error) {
	if i.Timezone == "" {
		return nil, nil
	}
	if t, err := time.Parse("-07:00", i.Timezone); err == nil {
		_, offset := t.Zone()
		return time.FixedZone(i.Timezone, offset), nil
	}
	loc, err := time.LoadLocation(i.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", i.Timezone, err)
	}
	return loc, nil
}

// ScheduleConfig configures the built-in scheduler used by `run`.
type ScheduleConfig struct {
	Interval string `yaml:"interval"`
}

// ParseInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:  DriverSQLite,
			Path:    "./topstories.db",
			Host:    "127.0.0.1",
			Name:    "NYT_TopStories",
			Charset: "utf8mb4",
			SSLMode: "disable",
		},
		API: APIConfig{
			BaseURL: "https://api.nytimes.com/svc/topstories/v2",
			Section: "home",
			Timeout: "30s",
		},
		Schedule: ScheduleConfig{Interval: "1h"},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate reports settings the pipeline cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.API.Key == "" {
		errs = append(errs, errors.New("api key is not set (NYT_API_KEY)"))
	}
	errs = append(errs, c.ValidateStorage())
	return errors.Join(errs...)
}

// ValidateStorage checks only what reading and writing the database needs.
func (c *Config) ValidateStorage() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database path is required for sqlite"))
		}
	case DriverMySQL, DriverPostgres:
		if c.Database.Name == "" {
			errs = append(errs, errors.New("database name is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if _, err := c.Ingest.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NYT_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("NYT_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("NYT_SECTION"); v != "" {
		cfg.API.Section = v
	}
	if v := os.Getenv("TOPSTORIES_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TOPSTORIES_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TOPSTORIES_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("TOPSTORIES_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("TOPSTORIES_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("TOPSTORIES_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("TOPSTORIES_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("TOPSTORIES_DB_CHARSET"); v != "" {
		cfg.Database.Charset = v
	}
	if v := os.Getenv("TOPSTORIES_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("TOPSTORIES_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TOPSTORIES_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
