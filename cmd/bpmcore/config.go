package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xraph/bpmcore"
)

const (
	envConfig     = "BPMCORE_CONFIG"
	envListenAddr = "BPMCORE_LISTEN_ADDR"
	envLogLevel   = "BPMCORE_LOG_LEVEL"
	envStore      = "BPMCORE_STORE"
	envDSN        = "BPMCORE_DSN"
	envRedisURL   = "BPMCORE_REDIS_URL"
)

// Store drivers.
const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

type config struct {
	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`

	Store struct {
		Driver  string `yaml:"driver"`
		DSN     string `yaml:"dsn"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"store"`

	// RedisURL enables the distributed exclusive locker.
	RedisURL string `yaml:"redisURL"`

	JobExecutor bpmcore.Config `yaml:"jobExecutor"`
}

func defaultConfig() config {
	var c config
	c.ListenAddr = ":8080"
	c.LogLevel = "info"
	c.Store.Driver = driverMemory
	c.Store.DSN = "bpmcore.db"
	c.Store.Migrate = true
	c.JobExecutor = bpmcore.DefaultConfig()
	c.JobExecutor.EngineName = "bpmcore"
	return c
}

// loadConfig reads path, if set, on top of the defaults and applies the
// BPMCORE_* environment overrides.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, fmt.Errorf("%w: parse %s: %w", bpmcore.ErrValidation, path, err)
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envStore); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv(envDSN); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv(envRedisURL); v != "" {
		cfg.RedisURL = v
	}
	if err := cfg.JobExecutor.ApplyEnv(); err != nil {
		return config{}, err
	}

	switch cfg.Store.Driver = strings.ToLower(cfg.Store.Driver); cfg.Store.Driver {
	case driverMemory, driverSQLite, driverPostgres:
	default:
		return config{}, fmt.Errorf("%w: unknown store driver %q", bpmcore.ErrValidation, cfg.Store.Driver)
	}
	if err := cfg.JobExecutor.Validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger creates a structured JSON logger writing to w.
func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}
