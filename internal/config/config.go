package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBSource string
	Port     string
	Env      string
	LogLevel slog.Level

	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	BidMaxAttempts  int
	SweepInterval   time.Duration
	EventBuffer     int
	DefaultCurrency string
}

// fileConfig mirrors the optional YAML file named by CONFIG_FILE.
type fileConfig struct {
	Server struct {
		Port     string `yaml:"port"`
		Env      string `yaml:"environment"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Bidding struct {
		MaxAttempts     int    `yaml:"max_attempts"`
		SweepInterval   string `yaml:"sweep_interval"`
		EventBuffer     int    `yaml:"event_buffer"`
		DefaultCurrency string `yaml:"default_currency"`
	} `yaml:"bidding"`
}

// Load reads configuration from, in increasing precedence: defaults, the YAML
// file at CONFIG_FILE, a .env file, and the process environment.
// An empty DB_SOURCE selects the in-memory store.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:            "8080",
		Env:             "development",
		LogLevel:        slog.LevelInfo,
		KafkaTopic:      "auction-events",
		BidMaxAttempts:  5,
		SweepInterval:   time.Second,
		EventBuffer:     1024,
		DefaultCurrency: "INR",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.DBSource = envOrDefault("DB_SOURCE", cfg.DBSource)
	cfg.Port = envOrDefault("SERVER_PORT", cfg.Port)
	cfg.Env = envOrDefault("ENVIRONMENT", cfg.Env)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.DefaultCurrency = strings.ToUpper(envOrDefault("DEFAULT_CURRENCY", cfg.DefaultCurrency))

	var err error
	if cfg.BidMaxAttempts, err = envInt("BID_MAX_ATTEMPTS", cfg.BidMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.EventBuffer, err = envInt("EVENT_BUFFER", cfg.EventBuffer); err != nil {
		return nil, err
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if cfg.SweepInterval, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("SWEEP_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	if cfg.BidMaxAttempts < 1 {
		return nil, fmt.Errorf("BID_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.Port != "" {
		c.Port = f.Server.Port
	}
	if f.Server.Env != "" {
		c.Env = f.Server.Env
	}
	if f.Server.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(f.Server.LogLevel)); err != nil {
			return fmt.Errorf("parse config file: log_level: %w", err)
		}
	}
	if f.Dependencies.PostgresURL != "" {
		c.DBSource = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		c.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		c.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaTopic != "" {
		c.KafkaTopic = f.Dependencies.KafkaTopic
	}
	if f.Bidding.MaxAttempts > 0 {
		c.BidMaxAttempts = f.Bidding.MaxAttempts
	}
	if f.Bidding.SweepInterval != "" {
		d, err := time.ParseDuration(f.Bidding.SweepInterval)
		if err != nil {
			return fmt.Errorf("parse config file: sweep_interval: %w", err)
		}
		c.SweepInterval = d
	}
	if f.Bidding.EventBuffer > 0 {
		c.EventBuffer = f.Bidding.EventBuffer
	}
	if f.Bidding.DefaultCurrency != "" {
		c.DefaultCurrency = strings.ToUpper(f.Bidding.DefaultCurrency)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func envCSV(name string, fallback []string) []string {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(value, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
