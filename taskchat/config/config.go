package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/taskchat/taskchat"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`     // "libsql" or "sqlite" (pure Go)
	DSN          string `mapstructure:"dsn"`        // file:path.db or libsql://host
	AuthToken    string `mapstructure:"auth_token"` // remote libsql only
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ServerConfig stores HTTP binding settings.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LLMConfig selects and configures the decision provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // "anthropic" | "openai"
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`

	// Anthropic via AWS Bedrock
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// HarnessConfig stores orchestration loop settings.
type HarnessConfig struct {
	// Loop bounds
	MaxRounds        int `mapstructure:"max_rounds"`         // Decide/ExecuteOperations round trips
	MaxMessageLength int `mapstructure:"max_message_length"` // inbound message bound, in characters

	// History window
	HistoryLimit       int `mapstructure:"history_limit"`        // most recent messages loaded
	HistoryTokenBudget int `mapstructure:"history_token_budget"` // estimated tokens kept

	// Timeouts
	DecisionTimeout      time.Duration `mapstructure:"decision_timeout"`
	DecisionRetryBackoff time.Duration `mapstructure:"decision_retry_backoff"`
	ToolTimeout          time.Duration `mapstructure:"tool_timeout"`
	PersistTimeout       time.Duration `mapstructure:"persist_timeout"`

	// Performance
	ToolConcurrency int `mapstructure:"tool_concurrency"` // max concurrent operations per step

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// RateLimitConfig stores per-user admission settings.
type RateLimitConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Backend       string `mapstructure:"backend"` // "memory" | "sql" | "bolt"
	PerMinute     int    `mapstructure:"per_minute"`
	PerHour       int    `mapstructure:"per_hour"`
	Shards        int    `mapstructure:"shards"`    // memory backend lock stripes
	Capacity      int    `mapstructure:"capacity"`  // memory backend tracked users
	BoltPath      string `mapstructure:"bolt_path"` // bolt backend counter file
	PruneSchedule string `mapstructure:"prune_schedule"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.SetEnvPrefix(internal.DefaultEnvPrefix)
	viper.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. rate_limit.per_minute becomes TASKCHAT_RATE_LIMIT_PER_MINUTE
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment apply.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	AppConfig = cfg

	return &AppConfig, nil
}

func setDefaults() {
	viper.SetDefault("database.driver", internal.DefaultDatabaseDriver)
	viper.SetDefault("database.dsn", internal.DefaultDatabaseDSN)
	viper.SetDefault("database.auth_token", "")
	viper.SetDefault("database.max_open_conns", 10)

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.jwt_secret", "")
	viper.SetDefault("server.request_timeout", "60s")

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.use_bedrock", false)
	viper.SetDefault("llm.aws_region", "")
	viper.SetDefault("llm.aws_profile", "")

	viper.SetDefault("harness.max_rounds", 5)
	viper.SetDefault("harness.max_message_length", 10000)
	viper.SetDefault("harness.history_limit", 20)
	viper.SetDefault("harness.history_token_budget", 4000)
	viper.SetDefault("harness.decision_timeout", "30s")
	viper.SetDefault("harness.decision_retry_backoff", "250ms")
	viper.SetDefault("harness.tool_timeout", "10s")
	viper.SetDefault("harness.persist_timeout", "5s")
	viper.SetDefault("harness.tool_concurrency", 5)
	viper.SetDefault("harness.enable_tracing", true)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.backend", "memory")
	viper.SetDefault("rate_limit.per_minute", 20)
	viper.SetDefault("rate_limit.per_hour", 100)
	viper.SetDefault("rate_limit.shards", 32)
	viper.SetDefault("rate_limit.capacity", 100000)
	viper.SetDefault("rate_limit.bolt_path", filepath.Join(internal.DefaultConfigPath, "ratelimit.bolt"))
	viper.SetDefault("rate_limit.prune_schedule", "@every 10m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
}

// Watch re-reads the config file on change and hands the decoded result to onChange.
// Decode failures are reported through onError and the previous config stays in effect.
func Watch(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		AppConfig = cfg
		onChange(&cfg)
	})
	viper.WatchConfig()
}
