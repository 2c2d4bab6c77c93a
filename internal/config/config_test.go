package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
instrument:
  symbol: TEST-SIM
  tick_size: 0.01
  base_increment: 0.0001
  min_notional: 0.50
  initial_cash: 1000

strategy:
  default_order_size: 10
  base_max_ticks_away: 15
  order_ttl: 120s
  min_replace_interval: 2s

risk:
  max_position: 100
  max_daily_loss: 200
  max_orders_per_second: 20
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ParsesDurationsAndNumbers(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Instrument.Symbol != "TEST-SIM" {
		t.Errorf("symbol = %q", cfg.Instrument.Symbol)
	}
	if cfg.Strategy.OrderTTL != 120*time.Second {
		t.Errorf("order_ttl = %v, want 120s", cfg.Strategy.OrderTTL)
	}
	if cfg.Strategy.MinReplaceInterval != 2*time.Second {
		t.Errorf("min_replace_interval = %v, want 2s", cfg.Strategy.MinReplaceInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected the minimal config to validate, got %v", err)
	}
}

func TestValidate_RefusesMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing symbol", func(c *Config) { c.Instrument.Symbol = "" }},
		{"zero tick size", func(c *Config) { c.Instrument.TickSize = 0 }},
		{"zero order size", func(c *Config) { c.Strategy.DefaultOrderSize = 0 }},
		{"zero max position", func(c *Config) { c.Risk.MaxPosition = 0 }},
		{"zero daily loss", func(c *Config) { c.Risk.MaxDailyLoss = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalYAML))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected Validate to refuse the config")
			}
		})
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestLoad_EnvOverridesPersistDir(t *testing.T) {
	t.Setenv("MM_PERSIST_DIR", "/tmp/override")
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingestion.PersistDir != "/tmp/override" {
		t.Errorf("persist_dir = %q, want the MM_PERSIST_DIR override", cfg.Ingestion.PersistDir)
	}
}
