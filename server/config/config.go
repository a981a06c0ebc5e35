package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Blobs     BlobsConfig     `yaml:"blobs"`
	Cache     CacheConfig     `yaml:"cache"`
	History   HistoryConfig   `yaml:"history"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig selects the backing store holding the raw record collections.
type StorageConfig struct {
	Driver       string           `yaml:"driver"` // clickhouse, sqlite
	PageSize     int              `yaml:"page_size"`
	ReadyTimeout time.Duration    `yaml:"ready_timeout"`
	ClickHouse   ClickHouseConfig `yaml:"clickhouse"`
	SQLite       SQLiteConfig     `yaml:"sqlite"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// BlobsConfig points at the MinIO bucket holding screenshot payloads.
// An empty endpoint disables the blob store; payloads are then read inline.
type BlobsConfig struct {
	Endpoint          string `yaml:"endpoint"`
	AccessKey         string `yaml:"access_key"`
	SecretKey         string `yaml:"secret_key"`
	UseSSL            bool   `yaml:"use_ssl"`
	ScreenshotsBucket string `yaml:"screenshots_bucket"`
}

type CacheConfig struct {
	Driver string        `yaml:"driver"` // none, memory, redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HistoryConfig struct {
	Driver string `yaml:"driver"` // none, sqlite, postgres
	DSN    string `yaml:"dsn"`
}

type CryptoConfig struct {
	KeyHex string `yaml:"key_hex"`
}

type OracleConfig struct {
	Enabled             bool          `yaml:"enabled"`
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Model               string        `yaml:"model"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRecords          int           `yaml:"max_records"`
	AnalysisTemperature float32       `yaml:"analysis_temperature"`
	AnalysisMaxTokens   int           `yaml:"analysis_max_tokens"`
	ChatTemperature     float32       `yaml:"chat_temperature"`
	ChatMaxTokens       int           `yaml:"chat_max_tokens"`
}

type SessionsConfig struct {
	GapThresholdSeconds float64 `yaml:"gap_threshold_seconds"`
}

// AnalyticsConfig keeps the distribution window and the default chart window
// independent of each other.
type AnalyticsConfig struct {
	DistributionWindowDays int `yaml:"distribution_window_days"`
	DefaultChartDays       int `yaml:"default_chart_days"`
	MaxChartDays           int `yaml:"max_chart_days"`
}

type TelemetryConfig struct {
	Metrics     bool   `yaml:"metrics"`
	Tracing     bool   `yaml:"tracing"`
	TraceOutput string `yaml:"trace_output"`
}

// GapThreshold returns the session gap as a duration.
func (s SessionsConfig) GapThreshold() time.Duration {
	return time.Duration(s.GapThresholdSeconds * float64(time.Second))
}

// Key decodes the hex-encoded AES-256 key.
func (c CryptoConfig) Key() ([]byte, error) {
	key, err := hex.DecodeString(c.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: want 32 bytes, got %d", len(key))
	}
	return key, nil
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Defaults returns a config with every non-secret field populated.
func Defaults() *Config {
	cfg := &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 5000, Mode: "dev"},
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "data/office-insight.db"},
		},
		Cache:   CacheConfig{Driver: "memory"},
		History: HistoryConfig{Driver: "none"},
		Oracle: OracleConfig{
			Enabled: true,
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama3-8b-8192",
		},
		Sessions: SessionsConfig{GapThresholdSeconds: 1.5},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.PageSize <= 0 {
		c.Storage.PageSize = 500
	}
	if c.Storage.ReadyTimeout <= 0 {
		c.Storage.ReadyTimeout = 10 * time.Second
	}
	if c.Storage.ClickHouse.Port == 0 {
		c.Storage.ClickHouse.Port = 9000
	}
	if c.Storage.ClickHouse.Database == "" {
		c.Storage.ClickHouse.Database = "monitoring"
	}
	if c.Blobs.ScreenshotsBucket == "" {
		c.Blobs.ScreenshotsBucket = "screenshots"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = 60 * time.Second
	}
	if c.Oracle.MaxRecords <= 0 {
		c.Oracle.MaxRecords = 500
	}
	if c.Oracle.AnalysisTemperature == 0 {
		c.Oracle.AnalysisTemperature = 0.5
	}
	if c.Oracle.AnalysisMaxTokens == 0 {
		c.Oracle.AnalysisMaxTokens = 4000
	}
	if c.Oracle.ChatTemperature == 0 {
		c.Oracle.ChatTemperature = 0.3
	}
	if c.Oracle.ChatMaxTokens == 0 {
		c.Oracle.ChatMaxTokens = 1000
	}
	if c.Sessions.GapThresholdSeconds <= 0 {
		c.Sessions.GapThresholdSeconds = 1.5
	}
	if c.Analytics.DistributionWindowDays <= 0 {
		c.Analytics.DistributionWindowDays = 7
	}
	if c.Analytics.DefaultChartDays <= 0 {
		c.Analytics.DefaultChartDays = 7
	}
	if c.Analytics.MaxChartDays <= 0 {
		c.Analytics.MaxChartDays = 365
	}
}

// Validate checks the externally supplied values the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Crypto.Key(); err != nil {
		errs = append(errs, fmt.Errorf("crypto.key_hex: %w", err))
	}
	switch c.Storage.Driver {
	case "clickhouse":
		if c.Storage.ClickHouse.Host == "" {
			errs = append(errs, errors.New("storage.clickhouse.host is required"))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch c.Cache.Driver {
	case "", "none", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver))
	}
	switch c.History.Driver {
	case "", "none":
	case "sqlite", "postgres":
		if c.History.DSN == "" {
			errs = append(errs, fmt.Errorf("history.dsn is required for driver %q", c.History.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("history.driver: unknown driver %q", c.History.Driver))
	}
	if c.Oracle.Enabled {
		if c.Oracle.APIKey == "" {
			errs = append(errs, errors.New("oracle.api_key is required when oracle is enabled"))
		}
		if c.Oracle.Model == "" {
			errs = append(errs, errors.New("oracle.model is required when oracle is enabled"))
		}
	}
	return errors.Join(errs...)
}
