package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"depthbook/internal/exchange"
	"depthbook/internal/factory"
	"depthbook/internal/feed"
	"depthbook/internal/pressure"
	"depthbook/internal/types"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	LogLevel  string           `yaml:"log_level"`
	LogFormat string           `yaml:"log_format"`
	HTTP      HTTPConfig       `yaml:"http"`
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Book      BookConfig       `yaml:"book"`
	Pressure  pressure.Config  `yaml:"pressure"`
	Reconnect ReconnectConfig  `yaml:"reconnect"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	App       AppConfig        `yaml:"app"`
}

// HTTPConfig holds the local API listener settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ExchangeConfig names one pipeline started at boot
type ExchangeConfig struct {
	Name   exchange.ExchangeName `yaml:"name"`
	Symbol string                `yaml:"symbol"`
}

// BookConfig holds per-pipeline book settings
type BookConfig struct {
	Depth              int `yaml:"depth"`
	SnapshotLimit      int `yaml:"snapshot_limit"`
	EmissionRateMs     int `yaml:"emission_rate_ms"`
	MaxBufferedUpdates int `yaml:"max_buffered_updates"`
}

// ReconnectConfig holds the supervisor retry policy
type ReconnectConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms"`
	Jitter            float64 `yaml:"jitter"`
}

// KafkaConfig enables the pressure report sink when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether the sink should run
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// AppConfig holds general application configuration
type AppConfig struct {
	LogInterval time.Duration   `yaml:"log_interval"`
	DefaultTick types.TickLevel `yaml:"default_tick"`
}

// Default returns the default configuration for BTCUSDT on Binance Futures
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		HTTP: HTTPConfig{
			Addr: ":8086",
		},
		Exchanges: []ExchangeConfig{
			{
				Name:   exchange.Binancef,
				Symbol: "BTCUSDT",
			},
		},
		Book: BookConfig{
			Depth:              50,
			SnapshotLimit:      1000,
			EmissionRateMs:     100,
			MaxBufferedUpdates: 1000,
		},
		Pressure: pressure.DefaultConfig(),
		Reconnect: ReconnectConfig{
			MaxAttempts:       5,
			InitialBackoffMs:  1000,
			BackoffMultiplier: 2,
			MaxBackoffMs:      30000,
		},
		Kafka: KafkaConfig{
			Topic: "depthbook.pressure",
		},
		App: AppConfig{
			LogInterval: 10 * time.Second,
			DefaultTick: types.Tick1,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the process environment
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for values the pipelines cannot run with
func (c Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}
	for i, ex := range c.Exchanges {
		if !factory.ValidateExchangeName(string(ex.Name)) {
			errs = append(errs, fmt.Errorf("exchanges[%d]: unsupported exchange %q (supported: %s)", i, ex.Name, supportedList()))
		}
		if strings.TrimSpace(ex.Symbol) == "" {
			errs = append(errs, fmt.Errorf("exchanges[%d]: symbol is required", i))
		}
	}
	if c.Book.Depth <= 0 {
		errs = append(errs, errors.New("book.depth must be positive"))
	}
	if c.Book.SnapshotLimit <= 0 {
		errs = append(errs, errors.New("book.snapshot_limit must be positive"))
	}
	if c.Book.EmissionRateMs < 0 {
		errs = append(errs, errors.New("book.emission_rate_ms must not be negative"))
	}
	if err := c.Pressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pressure: %w", err))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	if c.Reconnect.InitialBackoffMs <= 0 || c.Reconnect.MaxBackoffMs < c.Reconnect.InitialBackoffMs {
		errs = append(errs, errors.New("reconnect: need 0 < initial_backoff_ms <= max_backoff_ms"))
	}
	if c.Reconnect.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("reconnect.backoff_multiplier must be at least 1"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, errors.New("reconnect.jitter must be in [0, 1)"))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if !types.IsValidTickLevel(c.App.DefaultTick) {
		errs = append(errs, fmt.Errorf("app.default_tick: unsupported tick %g", float64(c.App.DefaultTick)))
	}
	return errors.Join(errs...)
}

func supportedList() string {
	names := factory.GetSupportedExchanges()
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = string(name)
	}
	return strings.Join(out, ", ")
}

// FeedOptions converts the book and reconnect sections for the registry
func (c Config) FeedOptions(logger *logrus.Entry) feed.Options {
	opts := feed.DefaultOptions()
	opts.Depth = c.Book.Depth
	opts.SnapshotLimit = c.Book.SnapshotLimit
	opts.MaxBufferedUpdates = c.Book.MaxBufferedUpdates
	opts.EmissionInterval = millis(c.Book.EmissionRateMs)
	opts.Reconnect = feed.ReconnectPolicy{
		MaxAttempts:    c.Reconnect.MaxAttempts,
		InitialBackoff: millis(c.Reconnect.InitialBackoffMs),
		Multiplier:     c.Reconnect.BackoffMultiplier,
		MaxBackoff:     millis(c.Reconnect.MaxBackoffMs),
		Jitter:         c.Reconnect.Jitter,
	}
	opts.Logger = logger
	return opts
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// NewLogger builds the process logger
func NewLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
