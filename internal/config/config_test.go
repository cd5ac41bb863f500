package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
trigger:
  pair:
    base: BTC
    quote: USD
  update_threshold: 2.5
  poll_interval: 30s
  update_interval: 1h
  start_delay: 5s
oracle:
  account: "0x0000000000000000000000000000000000000001"
  rpc_url: http://localhost:8545
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Trigger.UpdateThreshold != 2.5 {
		t.Fatalf("threshold not decoded: %v", cfg.Trigger.UpdateThreshold)
	}
	if cfg.Trigger.PollInterval != 30*time.Second || cfg.Trigger.UpdateInterval != time.Hour {
		t.Fatalf("durations not decoded: %+v", cfg.Trigger)
	}
	if cfg.Trigger.StartDelay != 5*time.Second || cfg.Trigger.TickTimeout != 0 {
		t.Fatalf("start delay or tick timeout not decoded: %+v", cfg.Trigger)
	}
	if cfg.RateAPI.Provider != "cryptocompare" {
		t.Fatalf("expected default provider, got %q", cfg.RateAPI.Provider)
	}
	if cfg.Oracle.ReceiptTimeout != 2*time.Minute {
		t.Fatalf("expected default receipt timeout, got %v", cfg.Oracle.ReceiptTimeout)
	}
	if cfg.PollExceedsUpdateInterval() {
		t.Fatal("30s poll should not exceed 1h update interval")
	}
}

func TestLoadMissingPolicyIsConfigError(t *testing.T) {
	body := `
oracle:
  account: "0x01"
trigger:
  poll_interval: 1s
  update_interval: 1m
`
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatal("missing threshold should fail")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if cfgErr.Field != "trigger.update_threshold" {
		t.Fatalf("unexpected field %q", cfgErr.Field)
	}
	if !errors.Is(err, ErrMissing) {
		t.Fatal("missing value should wrap ErrMissing")
	}
}

func TestValidateOrder(t *testing.T) {
	base := func() Config {
		return Config{
			Oracle:  OracleConfig{Account: "0x01"},
			Trigger: TriggerConfig{Pair: PairConfig{Base: "BTC"}, UpdateThreshold: 1, PollInterval: time.Second, UpdateInterval: time.Minute},
			Export:  ExportConfig{MaxDataPoints: 10},
		}
	}

	cases := map[string]func(*Config){
		"oracle.account":              func(c *Config) { c.Oracle.Account = "" },
		"trigger.update_interval":     func(c *Config) { c.Trigger.UpdateInterval = 0 },
		"trigger.poll_interval":       func(c *Config) { c.Trigger.PollInterval = -time.Second },
		"trigger.pair.base":           func(c *Config) { c.Trigger.Pair.Base = "" },
		"alerting.telegram.chat_id":   func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true, BotToken: "t"} },
		"trigger.tick_timeout":        func(c *Config) { c.Trigger.TickTimeout = -1 },
		"trigger.start_delay":          func(c *Config) { c.Trigger.StartDelay = -1 },
		"export.max_data_points":      func(c *Config) { c.Export.MaxDataPoints = 0 },
		"trigger.update_threshold":    func(c *Config) { c.Trigger.UpdateThreshold = -1 },
		"alerting.telegram.bot_token": func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true} },
	}

	for field, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		err := cfg.Validate()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Field != field {
			t.Fatalf("%s: expected ConfigError for field, got %v", field, err)
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 50}}
	if cfg.ResolveMaxPoints(0) != 50 || cfg.ResolveMaxPoints(7) != 7 {
		t.Fatal("override resolution incorrect")
	}
}
