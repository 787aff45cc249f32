package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded from a YAML file
// with environment variable overrides for deployment-specific values.
type Config struct {
	HTTP  HTTPConfig  `yaml:"http"`
	DB    DBConfig    `yaml:"db"`
	NATS  NATSConfig  `yaml:"nats"`
	Auth  AuthConfig  `yaml:"auth"`
	Feeds FeedsConfig `yaml:"feeds"`
}

// HTTPConfig holds the read API listener settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// NATSConfig holds the event bus connection settings.
type NATSConfig struct {
	Endpoint string `yaml:"endpoint"`
	Stream   string `yaml:"stream"`
}

// AuthConfig holds bearer token validation settings for the read API.
type AuthConfig struct {
	HS256Secret string `yaml:"hs256_secret"`
	DevMode     bool   `yaml:"dev_mode"`
}

// FeedsConfig groups the feed pipeline settings.
type FeedsConfig struct {
	Limits     LimitsConfig     `yaml:"limits"`
	Processing ProcessingConfig `yaml:"processing"`
	Messaging  MessagingConfig  `yaml:"messaging"`
}

// LimitsConfig holds read-path page sizes.
type LimitsConfig struct {
	User int `yaml:"user"`
}

// ProcessingConfig holds the task processor knobs.
type ProcessingConfig struct {
	BatchSize             int `yaml:"batch_size"`
	IntervalSeconds       int `yaml:"interval_seconds"`
	VisibilityTimeoutSecs int `yaml:"visibility_timeout_seconds"`
}

// Interval is the processor tick cadence.
func (p ProcessingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// VisibilityTimeout is how long a claimed task stays invisible to other workers.
func (p ProcessingConfig) VisibilityTimeout() time.Duration {
	return time.Duration(p.VisibilityTimeoutSecs) * time.Second
}

// MessagingConfig holds the two durable consumer definitions.
type MessagingConfig struct {
	Message   ConsumerConfig `yaml:"message"`
	TopicUser ConsumerConfig `yaml:"topic_user"`
}

// ConsumerConfig defines one durable pull consumer on the stream.
type ConsumerConfig struct {
	Subjects []string `yaml:"subjects"`
	Consumer string   `yaml:"consumer"`
}

// Load reads configuration from the YAML file at path (if it exists),
// applies environment overrides, then fills in defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.DB.Endpoint == "" {
		return nil, fmt.Errorf("db.endpoint is required (or DATABASE_URL)")
	}
	if cfg.NATS.Endpoint == "" {
		return nil, fmt.Errorf("nats.endpoint is required (or NATS_URL)")
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DB.Endpoint = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.Endpoint = v
	}
	if v := os.Getenv("NATS_STREAM"); v != "" {
		cfg.NATS.Stream = v
	}
	if v := os.Getenv("JWT_HS256_SECRET"); v != "" {
		cfg.Auth.HS256Secret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "messaging"
	}
	if cfg.Feeds.Limits.User <= 0 {
		cfg.Feeds.Limits.User = 25
	}
	if cfg.Feeds.Processing.BatchSize <= 0 {
		cfg.Feeds.Processing.BatchSize = 10
	}
	if cfg.Feeds.Processing.IntervalSeconds <= 0 {
		cfg.Feeds.Processing.IntervalSeconds = 3
	}
	// Must exceed the worst-case single-task execution time; otherwise a
	// leased task can be claimed twice.
	if cfg.Feeds.Processing.VisibilityTimeoutSecs <= 0 {
		cfg.Feeds.Processing.VisibilityTimeoutSecs = 5
	}
	if len(cfg.Feeds.Messaging.Message.Subjects) == 0 {
		cfg.Feeds.Messaging.Message.Subjects = []string{"messaging.message.>"}
	}
	if cfg.Feeds.Messaging.Message.Consumer == "" {
		cfg.Feeds.Messaging.Message.Consumer = "feeds-message"
	}
	if len(cfg.Feeds.Messaging.TopicUser.Subjects) == 0 {
		cfg.Feeds.Messaging.TopicUser.Subjects = []string{"messaging.topic_user.>"}
	}
	if cfg.Feeds.Messaging.TopicUser.Consumer == "" {
		cfg.Feeds.Messaging.TopicUser.Consumer = "feeds-topic-user"
	}
}
