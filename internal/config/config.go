package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Transport TransportConfig   `yaml:"transport"`
	Cache     CacheConfig       `yaml:"cache"`
	Redis     RedisConfig       `yaml:"redis"`
	Postgres  PostgresConfig    `yaml:"postgres"`
	Kafka     KafkaConfig       `yaml:"kafka"`
	Sweep     SweepConfig       `yaml:"sweep"`
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
	Entities  map[string]string `yaml:"entities"`
}

// TransportConfig holds the remote tournament service endpoint
type TransportConfig struct {
	Endpoint string        `yaml:"endpoint" env:"TOURNEY_ENDPOINT"`
	APIKey   string        `yaml:"api_key" env:"TOURNEY_API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"TOURNEY_TIMEOUT"`
}

// Cache backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// CacheConfig holds response cache configuration
type CacheConfig struct {
	Enabled    bool                     `yaml:"enabled" env:"TOURNEY_CACHE_ENABLED"`
	Backend    string                   `yaml:"backend" env:"TOURNEY_CACHE_BACKEND"`
	DefaultTTL time.Duration            `yaml:"default_ttl" env:"TOURNEY_CACHE_TTL"`
	TTLs       map[string]time.Duration `yaml:"ttls"`
	SQLitePath string                   `yaml:"sqlite_path" env:"TOURNEY_CACHE_SQLITE_PATH"`
}

// TTL returns the configured time-to-live for a service
func (c *CacheConfig) TTL(service string) time.Duration {
	if ttl, ok := c.TTLs[service]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"TOURNEY_REDIS_ADDR"`
	Password     string        `yaml:"password" env:"TOURNEY_REDIS_PASSWORD"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host" env:"TOURNEY_PG_HOST"`
	Port            int           `yaml:"port" env:"TOURNEY_PG_PORT"`
	User            string        `yaml:"user" env:"TOURNEY_PG_USER"`
	Password        string        `yaml:"password" env:"TOURNEY_PG_PASSWORD"`
	Database        string        `yaml:"database" env:"TOURNEY_PG_DATABASE"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds the cache invalidation bus configuration
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"TOURNEY_KAFKA_BROKERS" envSeparator:","`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Enabled      bool          `yaml:"enabled" env:"TOURNEY_KAFKA_ENABLED"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SweepConfig holds the expired-entry sweeper configuration
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled" env:"TOURNEY_SWEEP_ENABLED"`
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" env:"TOURNEY_ADMIN_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" env:"TOURNEY_LOG_LEVEL"`
}

// SlogLevel maps the configured level name onto slog
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	// Keys the file leaves out keep their base values
	cfg := baseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from defaults and TOURNEY_* environment
// variables only. Binaries use it when no config file is present.
func FromEnv() (*Config, error) {
	cfg := baseConfig()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// baseConfig holds the switches that are on unless turned off.
func baseConfig() *Config {
	return &Config{
		Cache: CacheConfig{Enabled: true},
		Sweep: SweepConfig{Enabled: true},
	}
}

func (c *Config) finish() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	c.applyDefaults()
	return c.Validate()
}

// applyEnv overrides file values with TOURNEY_* environment variables
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == BackendSQLite && strings.TrimSpace(c.Cache.SQLitePath) == "" {
		return fmt.Errorf("cache.sqlite_path is required for the sqlite backend")
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Transport defaults
	if c.Transport.Endpoint == "" {
		c.Transport.Endpoint = "https://api.binarybeast.com/"
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 15 * time.Second
	}

	// Cache defaults
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendMemory
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.TTLs == nil {
		c.Cache.TTLs = map[string]time.Duration{}
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "tourney:cache"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "tourney-cache-invalidations"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "tourney-cache"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 500 * time.Millisecond
	}

	// Sweep defaults
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = 10 * time.Minute
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Entities == nil {
		c.Entities = map[string]string{}
	}
}

// DefaultConfig returns a configuration with all defaults and no
// environment overrides
func DefaultConfig() *Config {
	cfg := baseConfig()
	cfg.applyDefaults()
	return cfg
}
