// Package config loads the Kestrel configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// fileConfig is the YAML shape. Component sections are flattened here and
// copied into the domain config structs after parsing.
type fileConfig struct {
	Server struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		ReadTimeout  int    `yaml:"read_timeout"`
		WriteTimeout int    `yaml:"write_timeout"`
	} `yaml:"server"`
	Database struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
		Postgres   struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"database"`
	Cache struct {
		Type          string `yaml:"type"`
		LocalMaxSize  int    `yaml:"local_max_size"`
		LocalTTL      int    `yaml:"local_ttl"` // seconds
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
	} `yaml:"cache"`
	EventBus struct {
		Type              string `yaml:"type"`
		ChannelBufferSize int    `yaml:"channel_buffer_size"`
		NATSUrl           string `yaml:"nats_url"`
		NATSToken         string `yaml:"nats_token"`
	} `yaml:"event_bus"`
	Scorer struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"scorer"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
	AsyncWorker bool `yaml:"async_worker"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides. A missing file is not an error: defaults apply.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		applyFile(cfg, &fc)
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *domain.Config, fc *fileConfig) {
	if fc.Server.Host != "" {
		cfg.Server.Host = fc.Server.Host
	}
	if fc.Server.Port != 0 {
		cfg.Server.Port = fc.Server.Port
	}
	if fc.Server.ReadTimeout != 0 {
		cfg.Server.ReadTimeout = fc.Server.ReadTimeout
	}
	if fc.Server.WriteTimeout != 0 {
		cfg.Server.WriteTimeout = fc.Server.WriteTimeout
	}

	if fc.Database.Driver != "" {
		cfg.Repository.Driver = fc.Database.Driver
	}
	if fc.Database.SQLitePath != "" {
		cfg.Repository.SQLitePath = fc.Database.SQLitePath
	}
	if fc.Database.Postgres.Host != "" {
		cfg.Repository.PostgresHost = fc.Database.Postgres.Host
	}
	if fc.Database.Postgres.Port != 0 {
		cfg.Repository.PostgresPort = fc.Database.Postgres.Port
	}
	if fc.Database.Postgres.User != "" {
		cfg.Repository.PostgresUser = fc.Database.Postgres.User
	}
	if fc.Database.Postgres.Password != "" {
		cfg.Repository.PostgresPassword = fc.Database.Postgres.Password
	}
	if fc.Database.Postgres.DBName != "" {
		cfg.Repository.PostgresDB = fc.Database.Postgres.DBName
	}
	if fc.Database.Postgres.SSLMode != "" {
		cfg.Repository.PostgresSSLMode = fc.Database.Postgres.SSLMode
	}

	if fc.Cache.Type != "" {
		cfg.Cache.Type = fc.Cache.Type
	}
	if fc.Cache.LocalMaxSize != 0 {
		cfg.Cache.LocalMaxSize = fc.Cache.LocalMaxSize
	}
	if fc.Cache.LocalTTL != 0 {
		cfg.Cache.LocalTTL = time.Duration(fc.Cache.LocalTTL) * time.Second
	}
	if fc.Cache.RedisAddr != "" {
		cfg.Cache.RedisAddr = fc.Cache.RedisAddr
	}
	if fc.Cache.RedisPassword != "" {
		cfg.Cache.RedisPassword = fc.Cache.RedisPassword
	}
	if fc.Cache.RedisDB != 0 {
		cfg.Cache.RedisDB = fc.Cache.RedisDB
	}

	if fc.EventBus.Type != "" {
		cfg.EventBus.Type = fc.EventBus.Type
	}
	if fc.EventBus.ChannelBufferSize != 0 {
		cfg.EventBus.ChannelBufferSize = fc.EventBus.ChannelBufferSize
	}
	if fc.EventBus.NATSUrl != "" {
		cfg.EventBus.NATSUrl = fc.EventBus.NATSUrl
	}
	if fc.EventBus.NATSToken != "" {
		cfg.EventBus.NATSToken = fc.EventBus.NATSToken
	}

	if fc.Scorer.URL != "" {
		cfg.Scorer.URL = fc.Scorer.URL
	}
	if fc.Scorer.TimeoutSeconds != 0 {
		cfg.Scorer.TimeoutSeconds = fc.Scorer.TimeoutSeconds
	}

	if fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}
	if fc.Logging.Format != "" {
		cfg.Logging.Format = fc.Logging.Format
	}
	if fc.Tracing.Enabled {
		cfg.Tracing.Enabled = true
	}
	if fc.Tracing.ServiceName != "" {
		cfg.Tracing.ServiceName = fc.Tracing.ServiceName
	}
	if fc.AsyncWorker {
		cfg.AsyncWorker = true
	}
}

func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("KESTREL_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Repository.PostgresPort = p
		}
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("KESTREL_BUS_TYPE"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}
	if v := os.Getenv("KESTREL_SCORER_URL"); v != "" {
		cfg.Scorer.URL = v
	}
	if v := os.Getenv("KESTREL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KESTREL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("KESTREL_TRACING"); v == "true" {
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("KESTREL_ASYNC_WORKER"); v == "true" {
		cfg.AsyncWorker = true
	}
}

func validate(cfg *domain.Config) error {
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.type must be memory or redis, got %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("event_bus.type must be channel or nats, got %q", cfg.EventBus.Type)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	return nil
}
