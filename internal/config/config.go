package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config captures all runtime configuration. Values come from built-in
// defaults, then the YAML file named by STARS_CONFIG_FILE, then environment
// variables.
type Config struct {
	Port          string `yaml:"port"`
	AuthToken     string `yaml:"auth_token"`
	StorageDriver string `yaml:"storage_driver"`
	DBURL         string `yaml:"db_url"`
	SQLitePath    string `yaml:"sqlite_path"`
	LogMode       string `yaml:"log_mode"`

	ReadTimeoutSecs   int `yaml:"read_timeout_secs"`
	WriteTimeoutSecs  int `yaml:"write_timeout_secs"`
	IdleTimeoutSecs   int `yaml:"idle_timeout_secs"`
	DBMaxConns        int `yaml:"db_max_conns"`
	DBMinConns        int `yaml:"db_min_conns"`
	DBMaxIdleSecs     int `yaml:"db_max_conn_idle_secs"`
	DBMaxLifeSecs     int `yaml:"db_max_conn_lifetime_secs"`
	DBConnTimeoutSecs int `yaml:"db_conn_timeout_secs"`
	DBStatementCache  int `yaml:"db_statement_cache_capacity"`

	MinRate       int    `yaml:"min_rate"`
	MaxRate       int    `yaml:"max_rate"`
	DefaultSource string `yaml:"default_source"`
	DeviceHeader  string `yaml:"device_header"`
	SourceHeader  string `yaml:"source_header"`
	CacheTime     string `yaml:"cache_time"`
	CacheBackend  string `yaml:"cache_backend"`

	RedisAddr               string `yaml:"redis_addr"`
	RedisChannel            string `yaml:"redis_channel"`
	EventWebhookURL         string `yaml:"event_webhook_url"`
	EventWebhookTimeoutSecs int    `yaml:"event_webhook_timeout_secs"`

	// Derived from CacheTime by Load.
	CacheEnabled bool          `yaml:"-"`
	CacheTTL     time.Duration `yaml:"-"`
}

func defaults() Config {
	return Config{
		Port:                    "8080",
		StorageDriver:           DriverPostgres,
		SQLitePath:              "stars.db",
		LogMode:                 "dev",
		ReadTimeoutSecs:         15,
		WriteTimeoutSecs:        15,
		IdleTimeoutSecs:         60,
		DBMaxConns:              20,
		DBMinConns:              2,
		DBMaxIdleSecs:           300,
		DBMaxLifeSecs:           3600,
		DBConnTimeoutSecs:       10,
		DBStatementCache:        256,
		MinRate:                 1,
		MaxRate:                 5,
		DefaultSource:           "web",
		DeviceHeader:            "X-Device-Id",
		SourceHeader:            "X-Source",
		CacheTime:               "0",
		CacheBackend:            CacheMemory,
		RedisChannel:            "stars.events",
		EventWebhookTimeoutSecs: 5,
	}
}

// Load reads configuration, applying defaults and validation.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("STARS_CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AuthToken = getEnv("AUTH_TOKEN", cfg.AuthToken)
	cfg.StorageDriver = strings.ToLower(getEnv("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.DBURL = getEnv("DB_URL", cfg.DBURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.LogMode = getEnv("LOG_MODE", cfg.LogMode)
	cfg.ReadTimeoutSecs = getEnvInt("SERVER_READ_TIMEOUT", cfg.ReadTimeoutSecs)
	cfg.WriteTimeoutSecs = getEnvInt("SERVER_WRITE_TIMEOUT", cfg.WriteTimeoutSecs)
	cfg.IdleTimeoutSecs = getEnvInt("SERVER_IDLE_TIMEOUT", cfg.IdleTimeoutSecs)
	cfg.DBMaxConns = getEnvInt("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = getEnvInt("DB_MIN_CONNS", cfg.DBMinConns)
	cfg.DBMaxIdleSecs = getEnvInt("DB_MAX_CONN_IDLE_SECS", cfg.DBMaxIdleSecs)
	cfg.DBMaxLifeSecs = getEnvInt("DB_MAX_CONN_LIFETIME_SECS", cfg.DBMaxLifeSecs)
	cfg.DBConnTimeoutSecs = getEnvInt("DB_CONN_TIMEOUT_SECS", cfg.DBConnTimeoutSecs)
	cfg.DBStatementCache = getEnvInt("DB_STATEMENT_CACHE_CAPACITY", cfg.DBStatementCache)
	cfg.MinRate = getEnvInt("STAR_MIN_RATE", cfg.MinRate)
	cfg.MaxRate = getEnvInt("STAR_MAX_RATE", cfg.MaxRate)
	cfg.DefaultSource = getEnv("STAR_DEFAULT_SOURCE", cfg.DefaultSource)
	cfg.DeviceHeader = getEnv("STAR_DEVICE_HEADER", cfg.DeviceHeader)
	cfg.SourceHeader = getEnv("STAR_SOURCE_HEADER", cfg.SourceHeader)
	cfg.CacheTime = getEnv("STAR_CACHE_TIME", cfg.CacheTime)
	cfg.CacheBackend = strings.ToLower(getEnv("STAR_CACHE_BACKEND", cfg.CacheBackend))
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisChannel = getEnv("REDIS_CHANNEL", cfg.RedisChannel)
	cfg.EventWebhookURL = getEnv("EVENT_WEBHOOK_URL", cfg.EventWebhookURL)
	cfg.EventWebhookTimeoutSecs = getEnvInt("EVENT_WEBHOOK_TIMEOUT_SECS", cfg.EventWebhookTimeoutSecs)

	enabled, ttl, err := ParseCacheTime(cfg.CacheTime)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheEnabled, cfg.CacheTTL = enabled, ttl

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DBURL == "" {
			return fmt.Errorf("DB_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of postgres, sqlite, memory; got %q", c.StorageDriver)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if c.DBStatementCache < 0 {
		return fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if c.MinRate < math.MinInt32 || c.MaxRate > math.MaxInt32 {
		return fmt.Errorf("STAR_MIN_RATE and STAR_MAX_RATE must fit a 32-bit integer")
	}
	if c.MinRate > c.MaxRate {
		return fmt.Errorf("STAR_MIN_RATE (%d) cannot exceed STAR_MAX_RATE (%d)", c.MinRate, c.MaxRate)
	}
	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.CacheEnabled && c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("STAR_CACHE_BACKEND must be memory or redis; got %q", c.CacheBackend)
	}
	if c.EventWebhookTimeoutSecs <= 0 {
		return fmt.Errorf("EVENT_WEBHOOK_TIMEOUT_SECS must be positive")
	}
	return nil
}

// ValidateServer checks settings only the HTTP server needs.
func (c Config) ValidateServer() error {
	if c.AuthToken == "" {
		return fmt.Errorf("AUTH_TOKEN is required")
	}
	return nil
}

// ParseCacheTime interprets a cache time setting. "0", "" and "disabled" turn
// caching off, "forever" keeps entries until invalidated, a bare integer is
// minutes, anything else must be a Go duration.
func ParseCacheTime(raw string) (enabled bool, ttl time.Duration, err error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", "0", "disabled", "off":
		return false, 0, nil
	case "forever", "null":
		return true, 0, nil
	}
	if minutes, convErr := strconv.Atoi(v); convErr == nil {
		if minutes < 0 {
			return false, 0, fmt.Errorf("STAR_CACHE_TIME must be non-negative")
		}
		return true, time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return false, 0, fmt.Errorf("STAR_CACHE_TIME: %w", err)
	}
	if d <= 0 {
		return false, 0, nil
	}
	return true, d, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
