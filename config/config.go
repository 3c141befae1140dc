// Package config loads application configuration from an optional YAML file,
// a .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDatasetURL is the zipped two-column timestamp/price CSV used when a
// dataset names neither a local file nor a URL.
const DefaultDatasetURL = "https://perp-analysis.s3.amazonaws.com/interview/prices.csv.zip"

// Dataset describes one tick source and the series to derive from it.
type Dataset struct {
	Symbol  string   `yaml:"symbol"`
	CSV     string   `yaml:"csv"`     // local file; takes precedence over URL
	URL     string   `yaml:"url"`     // zipped CSV to download
	Periods []string `yaml:"periods"` // period marks, e.g. ["5m", "1h"]
	Length  int      `yaml:"length"`  // EMA length
}

// Config holds all application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Infrastructure (empty address/path disables the sink)
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
	HTTPAddr      string        `yaml:"http_addr"`
	DataDir       string        `yaml:"data_dir"`
	AlertWebhook  string        `yaml:"alert_webhook"` // refresh failure alerts; empty logs them

	// Pipeline
	ExtraPeriods []string  `yaml:"extra_periods"` // marks added to the default table, e.g. "4h"
	RefreshCron  string    `yaml:"refresh_cron"`  // empty disables scheduled refresh
	Workers      int       `yaml:"workers"`
	Datasets     []Dataset `yaml:"datasets"`
}

// Load reads config from a YAML file (if path is non-empty and exists),
// loads .env if present, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", orDefault(cfg.LogLevel, "info"))
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", orDefault(cfg.HTTPAddr, ":8080"))
	cfg.DataDir = getEnv("DATA_DIR", orDefault(cfg.DataDir, defaultDataDir()))
	cfg.RefreshCron = getEnv("REFRESH_CRON", cfg.RefreshCron)
	cfg.AlertWebhook = getEnv("ALERT_WEBHOOK_URL", cfg.AlertWebhook)

	if v := os.Getenv("REDIS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RedisTTL = d
		} else {
			log.Printf("[config] skipping invalid REDIS_TTL: %q", v)
		}
	}
	if cfg.RedisTTL <= 0 {
		cfg.RedisTTL = 24 * time.Hour
	}

	cfg.Workers = getEnvInt("WORKERS", cfg.Workers)
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	if v := os.Getenv("EXTRA_PERIODS"); v != "" {
		cfg.ExtraPeriods = append(cfg.ExtraPeriods, splitList(v)...)
	}

	if len(cfg.Datasets) == 0 {
		cfg.Datasets = []Dataset{{
			Symbol:  getEnv("SYMBOL", "prices"),
			CSV:     os.Getenv("CSV_PATH"),
			URL:     getEnv("DATASET_URL", DefaultDatasetURL),
			Periods: splitList(getEnv("PERIODS", "5m")),
			Length:  getEnvInt("EMA_LENGTH", 14),
		}}
	}
	for i := range cfg.Datasets {
		ds := &cfg.Datasets[i]
		if ds.Length == 0 {
			ds.Length = 14
		}
		if len(ds.Periods) == 0 {
			ds.Periods = []string{"5m"}
		}
		if ds.CSV == "" && ds.URL == "" {
			ds.URL = DefaultDatasetURL
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Datasets) == 0 {
		return fmt.Errorf("at least one dataset is required")
	}
	seen := make(map[string]bool, len(c.Datasets))
	for i, ds := range c.Datasets {
		if ds.Symbol == "" {
			return fmt.Errorf("datasets[%d].symbol is required", i)
		}
		if seen[ds.Symbol] {
			return fmt.Errorf("datasets[%d].symbol %q is duplicated", i, ds.Symbol)
		}
		seen[ds.Symbol] = true
		if ds.Length <= 0 {
			return fmt.Errorf("datasets[%d].length must be positive", i)
		}
	}
	return nil
}

func defaultDataDir() string {
	return os.TempDir() + string(os.PathSeparator) + "candles_and_ema"
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return n
}
