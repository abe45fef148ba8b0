package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/herald/internal/logging"
)

// Config holds all herald configuration.
// Priority: env vars > settings.yaml > defaults.
type Config struct {
	DBPath         string `yaml:"db_path"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	PoolSize       int    `yaml:"pool_size"`
	TierPolicyPath string `yaml:"tier_policy_path"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(heraldDir(), "herald.db"),
		LogLevel:  "info",
		LogFormat: "text",
		PoolSize:  5,
	}
}

func heraldDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".herald"
	}
	return filepath.Join(home, ".herald")
}

func settingsPath() string {
	if v := os.Getenv("HERALD_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(heraldDir(), "settings.yaml")
}

// loadConfig layers the settings file and the environment over the defaults.
// A missing settings file is not an error; a malformed one is.
func loadConfig() (Config, error) {
	cfg := defaultConfig()

	path := settingsPath()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("HERALD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HERALD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HERALD_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("HERALD_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("HERALD_TIER_POLICY_PATH"); v != "" {
		cfg.TierPolicyPath = v
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return cfg, nil
}

// dbURI turns the configured path into a libsql file URI.
func (c Config) dbURI() string {
	if strings.HasPrefix(c.DBPath, "file:") || strings.Contains(c.DBPath, "://") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger. Correlation IDs carried by the
// context are added to every record.
func newLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var inner slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}
