// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Parliament ParliamentConfig `mapstructure:"parliament"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Scan       ScanConfig       `mapstructure:"scan"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// ParliamentConfig configures the upstream Parliament API clients.
type ParliamentConfig struct {
	HansardBase    string `mapstructure:"hansard_base"`
	WrittenQSBase  string `mapstructure:"written_qs_base"`
	MotionsBase    string `mapstructure:"motions_base"`
	BillsBase      string `mapstructure:"bills_base"`
	DivisionsBase  string `mapstructure:"divisions_base"`
	MembersBase    string `mapstructure:"members_base"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	MaxPages       int    `mapstructure:"max_pages"`
}

// RateLimitConfig governs the per-host request throttle.
type RateLimitConfig struct {
	PerHostMax int     `mapstructure:"per_host_max"`
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
}

// ClassifierConfig configures the language-model classification client.
type ClassifierConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScanConfig governs run admission and pipeline fan-out.
type ScanConfig struct {
	MaxConcurrentRuns     int `mapstructure:"max_concurrent_runs"`
	KeywordConcurrency    int `mapstructure:"keyword_concurrency"`
	ClassifierConcurrency int `mapstructure:"classifier_concurrency"`
	QueueSize             int `mapstructure:"queue_size"`
}

// PubSubConfig holds metadata for run-finished notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARLSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("parliament.timeout_seconds", 30)
	v.SetDefault("parliament.max_retries", 3)
	v.SetDefault("parliament.max_pages", 10)
	v.SetDefault("rate_limit.per_host_max", 2)
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("classifier.model", "claude-haiku-4-5-20251001")
	v.SetDefault("classifier.timeout_seconds", 60)
	v.SetDefault("scan.max_concurrent_runs", 2)
	v.SetDefault("scan.keyword_concurrency", 12)
	v.SetDefault("scan.classifier_concurrency", 10)
	v.SetDefault("scan.queue_size", 256)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Parliament.TimeoutSeconds <= 0 {
		return fmt.Errorf("parliament.timeout_seconds must be > 0")
	}
	if c.RateLimit.PerHostMax <= 0 {
		return fmt.Errorf("rate_limit.per_host_max must be > 0")
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be > 0")
	}
	if c.Scan.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("scan.max_concurrent_runs must be > 0")
	}
	if c.Classifier.APIKey == "" {
		return fmt.Errorf("classifier.api_key must be set")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// ParliamentTimeout converts the configured timeout into a duration.
func (c Config) ParliamentTimeout() time.Duration {
	return time.Duration(c.Parliament.TimeoutSeconds) * time.Second
}

// ClassifierTimeout converts the configured timeout into a duration.
func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// DBConnLifetime converts the configured pool lifetime into a duration.
func (c Config) DBConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMinute) * time.Minute
}
