package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string         `mapstructure:"env"`
	Region   RegionConfig   `mapstructure:"region"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Producer ProducerConfig `mapstructure:"producer"`
	Checker  CheckerConfig  `mapstructure:"checker"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Server   ServerConfig   `mapstructure:"server"`
}

type RegionConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Streams  StreamsConfig `mapstructure:"streams"`
}

type StreamsConfig struct {
	Checks string `mapstructure:"checks"`
	Status string `mapstructure:"status"`
}

type PostgresConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	ConnMaxLifetimeSec int    `mapstructure:"conn_max_lifetime_sec"`
}

type ProducerConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
}

type CheckerConfig struct {
	Consumer        string `mapstructure:"consumer"`
	Group           string `mapstructure:"group"`
	BatchSize       int64  `mapstructure:"batch_size"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec"`
	ProbeTimeoutSec int    `mapstructure:"probe_timeout_sec"`
	Retries         int    `mapstructure:"retries"`
	RetryDelayMs    int    `mapstructure:"retry_delay_ms"`
	ClaimEvery      int    `mapstructure:"claim_every"`
	ClaimMinIdleSec int    `mapstructure:"claim_min_idle_sec"`
	MaxDeliveries   int64  `mapstructure:"max_deliveries"`
}

type IngestConfig struct {
	Consumer        string `mapstructure:"consumer"`
	Group           string `mapstructure:"group"`
	BatchSize       int64  `mapstructure:"batch_size"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec"`
}

type AnalyzerConfig struct {
	Consumer        string       `mapstructure:"consumer"`
	Group           string       `mapstructure:"group"`
	BatchSize       int64        `mapstructure:"batch_size"`
	PollIntervalSec int          `mapstructure:"poll_interval_sec"`
	HistoryLimit    int          `mapstructure:"history_limit"`
	OpenAI          OpenAIConfig `mapstructure:"openai"`
}

type OpenAIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type ServerConfig struct {
	HealthPort string `mapstructure:"health_port"`
}

func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("local")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("env", "local")

	// Region defaults
	viper.SetDefault("region.id", "us-east-1")
	viper.SetDefault("region.name", "US East 1")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.streams.checks", "upwatch:checks")
	viper.SetDefault("redis.streams.status", "upwatch:status")

	// Postgres defaults
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "upwatch")
	viper.SetDefault("postgres.password", "upwatch")
	viper.SetDefault("postgres.database", "upwatch")
	viper.SetDefault("postgres.ssl_mode", "disable")
	viper.SetDefault("postgres.max_conns", 10)
	viper.SetDefault("postgres.min_conns", 2)
	viper.SetDefault("postgres.conn_max_lifetime_sec", 3600)

	// Producer defaults
	viper.SetDefault("producer.interval_sec", 180)

	// Checker defaults
	viper.SetDefault("checker.consumer", "")
	viper.SetDefault("checker.group", "website-checkers")
	viper.SetDefault("checker.batch_size", 5)
	viper.SetDefault("checker.poll_interval_sec", 2)
	viper.SetDefault("checker.probe_timeout_sec", 5)
	viper.SetDefault("checker.retries", 3)
	viper.SetDefault("checker.retry_delay_ms", 1000)
	viper.SetDefault("checker.claim_every", 10)
	viper.SetDefault("checker.claim_min_idle_sec", 60)
	viper.SetDefault("checker.max_deliveries", 5)

	// Ingest defaults
	viper.SetDefault("ingest.consumer", "")
	viper.SetDefault("ingest.group", "status-processors")
	viper.SetDefault("ingest.batch_size", 100)
	viper.SetDefault("ingest.poll_interval_sec", 120)

	// Analyzer defaults
	viper.SetDefault("analyzer.consumer", "")
	viper.SetDefault("analyzer.group", "ai-analyzer")
	viper.SetDefault("analyzer.batch_size", 10)
	viper.SetDefault("analyzer.poll_interval_sec", 5)
	viper.SetDefault("analyzer.history_limit", 10)
	viper.SetDefault("analyzer.openai.base_url", "https://api.openai.com")
	viper.SetDefault("analyzer.openai.api_key", "")
	viper.SetDefault("analyzer.openai.model", "gpt-4")
	viper.SetDefault("analyzer.openai.timeout_sec", 30)

	// Server defaults
	viper.SetDefault("server.health_port", "8081")
}

// ConsumerName returns the configured consumer identity or generates a
// unique one so two unconfigured replicas never shadow each other.
func ConsumerName(configured, prefix string) string {
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func (c *Config) GetProducerInterval() time.Duration {
	return time.Duration(c.Producer.IntervalSec) * time.Second
}

func (c *Config) GetCheckerPollInterval() time.Duration {
	return time.Duration(c.Checker.PollIntervalSec) * time.Second
}

func (c *Config) GetProbeTimeout() time.Duration {
	return time.Duration(c.Checker.ProbeTimeoutSec) * time.Second
}

func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Checker.RetryDelayMs) * time.Millisecond
}

func (c *Config) GetClaimMinIdle() time.Duration {
	return time.Duration(c.Checker.ClaimMinIdleSec) * time.Second
}

func (c *Config) GetIngestPollInterval() time.Duration {
	return time.Duration(c.Ingest.PollIntervalSec) * time.Second
}

func (c *Config) GetAnalyzerPollInterval() time.Duration {
	return time.Duration(c.Analyzer.PollIntervalSec) * time.Second
}

func (c *Config) GetOpenAITimeout() time.Duration {
	return time.Duration(c.Analyzer.OpenAI.TimeoutSec) * time.Second
}

func (c *Config) GetConnMaxLifetime() time.Duration {
	return time.Duration(c.Postgres.ConnMaxLifetimeSec) * time.Second
}
