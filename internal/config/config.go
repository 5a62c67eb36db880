package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxBatchSize is the largest number of writes one atomic unit may carry.
const MaxBatchSize = 500

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Migration MigrationConfig `yaml:"migration"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// ExecutorConfig bounds the retries of an approval that lost a conflict.
type ExecutorConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type SweepConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
}

type MigrationConfig struct {
	BatchSize int `yaml:"batch_size"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Password:        "password",
			Name:            "transfers",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			ConnMaxLifetime: 10 * time.Minute,
		},
		Redis: RedisConfig{Channel: "transfer_events"},
		Executor: ExecutorConfig{
			MaxRetries:     3,
			InitialBackoff: 20 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
		},
		Sweep: SweepConfig{
			StaleAfter: 72 * time.Hour,
			BatchSize:  100,
		},
		Migration: MigrationConfig{BatchSize: MaxBatchSize},
		LogLevel:  "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", cfg.Redis.Channel)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.Executor.MaxRetries, err = getEnvInt("EXECUTOR_MAX_RETRIES", cfg.Executor.MaxRetries); err != nil {
		return err
	}
	if cfg.Sweep.StaleAfter, err = getEnvDuration("SWEEP_STALE_AFTER", cfg.Sweep.StaleAfter); err != nil {
		return err
	}
	if cfg.Sweep.Interval, err = getEnvDuration("SWEEP_INTERVAL", cfg.Sweep.Interval); err != nil {
		return err
	}
	if cfg.Sweep.BatchSize, err = getEnvInt("SWEEP_BATCH_SIZE", cfg.Sweep.BatchSize); err != nil {
		return err
	}
	if cfg.Migration.BatchSize, err = getEnvInt("MIGRATION_BATCH_SIZE", cfg.Migration.BatchSize); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries must not be negative")
	}
	if c.Sweep.StaleAfter <= 0 {
		return fmt.Errorf("sweep.stale_after must be positive")
	}
	if c.Sweep.BatchSize <= 0 || c.Sweep.BatchSize > MaxBatchSize {
		return fmt.Errorf("sweep.batch_size must be between 1 and %d", MaxBatchSize)
	}
	if c.Migration.BatchSize <= 0 || c.Migration.BatchSize > MaxBatchSize {
		return fmt.Errorf("migration.batch_size must be between 1 and %d", MaxBatchSize)
	}
	return nil
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv fetches environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
