package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the coordinatorctl configuration file.
type Config struct {
	Store    string         `yaml:"store"`
	LogLevel string         `yaml:"log_level"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Serve    ServeConfig    `yaml:"serve"`
}

// PostgresConfig configures the postgres store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ServeConfig configures the long-running serve command.
type ServeConfig struct {
	MetricsAddr  string           `yaml:"metrics_addr"`
	PollInterval time.Duration    `yaml:"poll_interval"`
	Schedules    []ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig starts Workflow with Input on every Schedule tick.
type ScheduleConfig struct {
	Name     string         `yaml:"name"`
	Schedule string         `yaml:"schedule"`
	Workflow string         `yaml:"workflow"`
	Input    map[string]any `yaml:"input"`
}

// DefaultConfig returns the in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Store:    StoreMemory,
		LogLevel: "info",
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Serve:    ServeConfig{MetricsAddr: ":9464", PollInterval: time.Second},
	}
}

// LoadConfig reads path over the defaults, then applies COORDINATOR_*
// environment overrides. No file is read when path is empty.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return c, fmt.Errorf("config file %s not found", path)
		case err != nil:
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	c = c.Merge(Config{
		Store:    os.Getenv("COORDINATOR_STORE"),
		LogLevel: os.Getenv("COORDINATOR_LOG_LEVEL"),
		Postgres: PostgresConfig{DSN: os.Getenv("COORDINATOR_POSTGRES_DSN")},
		Redis:    RedisConfig{Addr: os.Getenv("COORDINATOR_REDIS_ADDR")},
	})
	return c, nil
}

// Merge returns c with every non-empty connection field of o applied.
func (c Config) Merge(o Config) Config {
	if o.Store != "" {
		c.Store = strings.ToLower(o.Store)
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Postgres.DSN != "" {
		c.Postgres.DSN = o.Postgres.DSN
	}
	if o.Redis.Addr != "" {
		c.Redis.Addr = o.Redis.Addr
	}
	return c
}

// Validate checks the store selection.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis:
		return nil
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres store requires postgres.dsn or COORDINATOR_POSTGRES_DSN")
		}
		return nil
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
}

// Logger builds the text logger for LogLevel.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
