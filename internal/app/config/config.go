package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/kinsumer/internal/app/pipeline"
	"github.com/ghalamif/kinsumer/internal/ports"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Stream     StreamConfig     `yaml:"stream"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

type StreamConfig struct {
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
	// Endpoint overrides the service endpoint, e.g. a local emulator.
	Endpoint string `yaml:"endpoint"`
}

type ConsumerConfig struct {
	// Name identifies this consumer's checkpoints in shared stores.
	Name              string             `yaml:"name"`
	StartIteratorType ports.IteratorType `yaml:"start_iterator_type"`
	ReadLimit         int                `yaml:"read_limit"`
	PollInterval      time.Duration      `yaml:"poll_interval"`
	MonitorInterval   time.Duration      `yaml:"monitor_interval"`
	Overhang          OverhangConfig     `yaml:"overhang"`
	Bucket            BucketConfig       `yaml:"bucket"`
	Retry             RetryConfig        `yaml:"retry"`
}

type OverhangConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold time.Duration `yaml:"threshold"`
}

type BucketConfig struct {
	SizeLimit  int `yaml:"size_limit"`
	CountLimit int `yaml:"count_limit"`
}

type RetryConfig struct {
	Strategy    string        `yaml:"strategy"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

type CheckpointConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	ConnString  string `yaml:"conn_string"`
	Table       string `yaml:"table"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills unset fields with defaults and validates the result. Load
// calls it; programmatic configs must call it before use.
func (c *Config) Normalize() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Stream.Region == "" {
		c.Stream.Region = "ap-south-1"
	}
	if c.Consumer.StartIteratorType == "" {
		c.Consumer.StartIteratorType = ports.IteratorTrimHorizon
	}
	if c.Consumer.ReadLimit == 0 {
		c.Consumer.ReadLimit = 50
	}
	if c.Consumer.PollInterval == 0 {
		c.Consumer.PollInterval = time.Second
	}
	if c.Consumer.MonitorInterval == 0 {
		c.Consumer.MonitorInterval = time.Hour
	}
	if c.Consumer.Overhang.Threshold == 0 {
		c.Consumer.Overhang.Threshold = 30 * time.Second
	}
	if c.Consumer.Bucket.SizeLimit == 0 {
		c.Consumer.Bucket.SizeLimit = 10_000
	}
	if c.Consumer.Bucket.CountLimit == 0 {
		c.Consumer.Bucket.CountLimit = 120
	}
	if c.Consumer.Retry.Strategy == "" {
		c.Consumer.Retry.Strategy = pipeline.RetryFixed
	}
	if c.Consumer.Retry.MaxInterval == 0 {
		c.Consumer.Retry.MaxInterval = time.Minute
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = BackendMemory
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "./data/checkpoints.json"
	}
	if c.Checkpoint.Table == "" {
		c.Checkpoint.Table = "kinsumer_checkpoints"
	}
	if c.Checkpoint.RedisPrefix == "" {
		c.Checkpoint.RedisPrefix = "kinsumer"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Stream.Name == "" {
		return fmt.Errorf("stream.name is required")
	}
	switch c.Consumer.StartIteratorType {
	case ports.IteratorTrimHorizon, ports.IteratorLatest:
	default:
		return fmt.Errorf("consumer.start_iterator_type must be %s or %s, got %q",
			ports.IteratorTrimHorizon, ports.IteratorLatest, c.Consumer.StartIteratorType)
	}
	if c.Consumer.ReadLimit < 1 || c.Consumer.ReadLimit > 10_000 {
		return fmt.Errorf("consumer.read_limit must be between 1 and 10000, got %d", c.Consumer.ReadLimit)
	}
	if c.Consumer.PollInterval < 0 || c.Consumer.MonitorInterval < 0 || c.Consumer.Overhang.Threshold < 0 {
		return fmt.Errorf("consumer intervals must be positive")
	}
	if c.Consumer.Bucket.SizeLimit < 1 || c.Consumer.Bucket.CountLimit < 1 {
		return fmt.Errorf("consumer.bucket limits must be positive")
	}
	if _, err := c.RetryPolicy(); err != nil {
		return fmt.Errorf("consumer.retry: %w", err)
	}

	switch c.Checkpoint.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required for the file backend")
		}
	case BackendPostgres:
		if c.Checkpoint.ConnString == "" {
			return fmt.Errorf("checkpoint.conn_string is required for the postgres backend")
		}
	case BackendRedis:
		if c.Checkpoint.RedisURL == "" {
			return fmt.Errorf("checkpoint.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not one of memory, file, postgres, redis", c.Checkpoint.Backend)
	}

	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}

// Policy maps the consumer section onto the worker thresholds.
func (c *Config) Policy() ports.Policy {
	return ports.Policy{
		StartIteratorType: c.Consumer.StartIteratorType,
		ReadLimit:         c.Consumer.ReadLimit,
		PollInterval:      c.Consumer.PollInterval,
		MonitorInterval:   c.Consumer.MonitorInterval,
		OverhangEnabled:   c.Consumer.Overhang.Enabled,
		OverhangThreshold: c.Consumer.Overhang.Threshold,
		BucketSizeLimit:   c.Consumer.Bucket.SizeLimit,
		BucketCountLimit:  c.Consumer.Bucket.CountLimit,
	}
}

func (c *Config) RetryPolicy() (ports.RetryPolicy, error) {
	r := c.Consumer.Retry
	return pipeline.NewRetryPolicy(r.Strategy, c.Consumer.PollInterval, r.MaxInterval, r.MaxAttempts)
}
