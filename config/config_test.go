package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LOG_LEVEL", "SQLITE_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_TTL", "HTTP_ADDR",
		"DATA_DIR", "REFRESH_CRON", "WORKERS", "EXTRA_PERIODS", "SYMBOL", "CSV_PATH",
		"DATASET_URL", "PERIODS", "EMA_LENGTH",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != "info" || cfg.Workers != 4 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedisTTL != 24*time.Hour {
		t.Errorf("expected 24h TTL, got %v", cfg.RedisTTL)
	}
	if len(cfg.Datasets) != 1 {
		t.Fatalf("expected default dataset, got %d", len(cfg.Datasets))
	}
	ds := cfg.Datasets[0]
	if ds.Symbol != "prices" || ds.URL != DefaultDatasetURL || ds.Length != 14 || ds.Periods[0] != "5m" {
		t.Errorf("unexpected default dataset: %+v", ds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
sqlite_path: data/series.db
redis_addr: localhost:6379
refresh_cron: "0 */5 * * * *"
extra_periods: ["4h"]
datasets:
  - symbol: btc
    csv: btc.csv
    periods: ["1m", "4h"]
    length: 9
  - symbol: eth
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("WORKERS", "2")
	t.Setenv("EXTRA_PERIODS", "15m, 2h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SQLitePath != "data/series.db" {
		t.Errorf("sqlite path: %q", cfg.SQLitePath)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("env should override yaml, got %q", cfg.RedisAddr)
	}
	if cfg.Workers != 2 {
		t.Errorf("workers: %d", cfg.Workers)
	}
	if len(cfg.ExtraPeriods) != 3 || cfg.ExtraPeriods[2] != "2h" {
		t.Errorf("extra periods: %v", cfg.ExtraPeriods)
	}
	if len(cfg.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Datasets))
	}
	if cfg.Datasets[0].Length != 9 || cfg.Datasets[0].CSV != "btc.csv" || cfg.Datasets[0].URL != "" {
		t.Errorf("btc dataset: %+v", cfg.Datasets[0])
	}
	if cfg.Datasets[1].Length != 14 || cfg.Datasets[1].URL != DefaultDatasetURL {
		t.Errorf("eth dataset defaults not applied: %+v", cfg.Datasets[1])
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("datasets: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Datasets: []Dataset{{Symbol: "a", Length: 3}, {Symbol: "a", Length: 3}}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected duplicate symbol error")
	}
	cfg = &Config{Datasets: []Dataset{{Symbol: "", Length: 3}}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing symbol error")
	}
	cfg = &Config{Datasets: []Dataset{{Symbol: "a", Length: 0}}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected length error")
	}
	if err := (&Config{}).Validate(); err == nil {
		t.Error("expected empty datasets error")
	}
}
