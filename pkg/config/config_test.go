package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
environment: test
taapi:
  secret: sk-test
`

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Server.Port != 8080 {
		t.Errorf("server.port default = %d, want 8080", c.Server.Port)
	}
	if c.Backend.Type != "none" {
		t.Errorf("backend.type default = %q, want none", c.Backend.Type)
	}
	if c.Taapi.BaseURL != "https://api.taapi.io" {
		t.Errorf("taapi.base_url default = %q", c.Taapi.BaseURL)
	}
	if c.Taapi.Exchange != "binance" {
		t.Errorf("taapi.exchange default = %q", c.Taapi.Exchange)
	}
	if c.Taapi.MinDelay != 1200*time.Millisecond {
		t.Errorf("taapi.min_delay default = %v", c.Taapi.MinDelay)
	}
	if c.Taapi.BreakerMaxErrors != 5 || c.Taapi.BreakerResetAfter != 5*time.Minute {
		t.Errorf("breaker defaults = %v / %v", c.Taapi.BreakerMaxErrors, c.Taapi.BreakerResetAfter)
	}
	if c.Taapi.CapabilityTTL != 24*time.Hour {
		t.Errorf("capability_ttl default = %v", c.Taapi.CapabilityTTL)
	}
	if c.Log.Level != "info" || c.Log.Format != "json" {
		t.Errorf("log defaults = %s/%s", c.Log.Level, c.Log.Format)
	}
}

func TestLoadFullConfig(t *testing.T) {
	body := `
environment: production
server:
  port: 9090
  read_timeout: 10s
backend:
  type: kafka
  batch_size: 50
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: indicators
taapi:
  secret: sk-prod
  exchange: kraken
  symbols: ["BTC/USDT", "ETH/USDT"]
  intervals: ["1h", "4h"]
  min_delay: 2s
  cache_ttl: 90s
  breaker_max_errors: 8
  breaker_reset_window: 10m
cache:
  redis:
    enabled: true
    addr: localhost:6379
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 9090 || c.Server.ReadTimeout != 10*time.Second {
		t.Errorf("server = %+v", c.Server)
	}
	if len(c.Kafka.Brokers) != 2 || c.Kafka.Topic != "indicators" {
		t.Errorf("kafka = %+v", c.Kafka)
	}
	if c.Taapi.Exchange != "kraken" || c.Taapi.CacheTTL != 90*time.Second {
		t.Errorf("taapi = %+v", c.Taapi)
	}
	if c.Taapi.BreakerMaxErrors != 8 || c.Taapi.BreakerResetAfter != 10*time.Minute {
		t.Errorf("breaker = %v / %v", c.Taapi.BreakerMaxErrors, c.Taapi.BreakerResetAfter)
	}
	if !c.Cache.Redis.Enabled || c.Cache.Redis.Addr != "localhost:6379" {
		t.Errorf("redis = %+v", c.Cache.Redis)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing environment",
			body: "taapi:\n  secret: sk\n",
			want: "environment",
		},
		{
			name: "missing secret",
			body: "environment: test\n",
			want: "taapi.secret",
		},
		{
			name: "bad backend",
			body: "environment: test\nbackend:\n  type: s3\ntaapi:\n  secret: sk\n",
			want: "backend.type",
		},
		{
			name: "kafka without brokers",
			body: "environment: test\nbackend:\n  type: kafka\ntaapi:\n  secret: sk\n",
			want: "kafka.brokers",
		},
		{
			name: "clickhouse without host",
			body: "environment: test\nbackend:\n  type: clickhouse\ntaapi:\n  secret: sk\n",
			want: "clickhouse.host",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing file must error")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("TAAPI_SECRET", "sk-env")
	t.Setenv("BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("KAFKA_TOPIC", "env-topic")
	t.Setenv("SYMBOLS", "BTC/USDT,SOL/USDT")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := LoadWithEnv(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if c.Taapi.Secret != "sk-env" {
		t.Errorf("secret override = %q", c.Taapi.Secret)
	}
	if c.Backend.Type != "kafka" || len(c.Kafka.Brokers) != 2 || c.Kafka.Topic != "env-topic" {
		t.Errorf("kafka overrides = %+v / %+v", c.Backend, c.Kafka)
	}
	if len(c.Taapi.Symbols) != 2 || c.Taapi.Symbols[1] != "SOL/USDT" {
		t.Errorf("symbols override = %v", c.Taapi.Symbols)
	}
	if !c.Cache.Redis.Enabled || c.Cache.Redis.Addr != "redis:6379" {
		t.Errorf("redis override = %+v", c.Cache.Redis)
	}
}
