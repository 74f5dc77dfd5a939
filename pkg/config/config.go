package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Taapi struct {
		Secret            string        `yaml:"secret"`
		BaseURL           string        `yaml:"base_url"`
		Exchange          string        `yaml:"exchange"`
		Symbols           []string      `yaml:"symbols"`
		Intervals         []string      `yaml:"intervals"`
		RequestTimeout    time.Duration `yaml:"request_timeout"`
		MinDelay          time.Duration `yaml:"min_delay"`
		RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
		CacheTTL          time.Duration `yaml:"cache_ttl"`
		BreakerMaxErrors  float64       `yaml:"breaker_max_errors"`
		BreakerResetAfter time.Duration `yaml:"breaker_reset_window"`
		BatchSize         int           `yaml:"batch_size"`
		BatchDelay        time.Duration `yaml:"batch_delay"`
		CapabilityTTL     time.Duration `yaml:"capability_ttl"`
		PrefetchInterval  time.Duration `yaml:"prefetch_interval"`
	} `yaml:"taapi"`
	Cache struct {
		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("TAAPI_SECRET"); v != "" {
		c.Taapi.Secret = v
	}
	if v := os.Getenv("TAAPI_BASE_URL"); v != "" {
		c.Taapi.BaseURL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Taapi.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Enabled = true
		c.Cache.Redis.Addr = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "none"
	}
	if c.Backend.BatchSize == 0 {
		c.Backend.BatchSize = 100
	}
	if c.Backend.BatchTimeout == 0 {
		c.Backend.BatchTimeout = 2 * time.Second
	}
	if c.Taapi.BaseURL == "" {
		c.Taapi.BaseURL = "https://api.taapi.io"
	}
	if c.Taapi.Exchange == "" {
		c.Taapi.Exchange = "binance"
	}
	if c.Taapi.RequestTimeout == 0 {
		c.Taapi.RequestTimeout = 15 * time.Second
	}
	if c.Taapi.MinDelay == 0 {
		c.Taapi.MinDelay = 1200 * time.Millisecond
	}
	if c.Taapi.RateLimitCooldown == 0 {
		c.Taapi.RateLimitCooldown = time.Minute
	}
	if c.Taapi.CacheTTL == 0 {
		c.Taapi.CacheTTL = time.Minute
	}
	if c.Taapi.BreakerMaxErrors == 0 {
		c.Taapi.BreakerMaxErrors = 5
	}
	if c.Taapi.BreakerResetAfter == 0 {
		c.Taapi.BreakerResetAfter = 5 * time.Minute
	}
	if c.Taapi.BatchDelay == 0 {
		c.Taapi.BatchDelay = 300 * time.Millisecond
	}
	if c.Taapi.CapabilityTTL == 0 {
		c.Taapi.CapabilityTTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Backend.Type {
	case "kafka", "clickhouse", "none":
	default:
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'none', got '%s'", c.Backend.Type)
	}
	if c.Taapi.Secret == "" {
		return fmt.Errorf("taapi.secret is required")
	}
	if c.Backend.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when backend.type is kafka")
	}
	if c.Backend.Type == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when backend.type is clickhouse")
	}
	return nil
}
