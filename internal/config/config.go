// Package config provides environment-based configuration management
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Driver     string // mysql | sqlite
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SQLitePath string
	MaxRetries int
	RetryDelay time.Duration
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr     string // Format: host:port; empty disables Redis
	Password string
	DB       int
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port            int
	JWTSecret       string
	AdminUserIDs    []string // may flip the AI pause and read host metrics
	AllowOrigins    []string
	LogLevel        slog.Level
	LogFormat       string // json | text
	ShutdownTimeout time.Duration
}

// LLMConfig holds the text-generation service settings
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64 // used when a project sets none
	Timeout     time.Duration
}

// RetrievalConfig holds the retrieval service settings
type RetrievalConfig struct {
	URL     string // empty disables retrieval
	APIKey  string
	Timeout time.Duration
}

// ToolsConfig points at the YAML tool registry
type ToolsConfig struct {
	RegistryPath string // empty: no tools
}

// AMQPConfig holds the realtime broker settings
type AMQPConfig struct {
	URL           string // empty disables the AMQP sink
	Exchange      string
	RetryAttempts int
	RetryDelay    time.Duration
}

// CacheConfig selects the project-config cache
type CacheConfig struct {
	Backend string // memory | redis
	TTL     time.Duration
	MaxSize int
}

// PipelineConfig bounds the chat pipeline
type PipelineConfig struct {
	MaxToolIterations int
	HistoryLimit      int
	Workers           int
	QueueSize         int
}

// WatchdogConfig drives the idle-conversation sweep
type WatchdogConfig struct {
	Interval    time.Duration
	IdleTimeout time.Duration // 0 disables the watchdog
}

// Config aggregates all configuration sections
type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	App       AppConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Tools     ToolsConfig
	AMQP      AMQPConfig
	Cache     CacheConfig
	Pipeline  PipelineConfig
	Watchdog  WatchdogConfig
}

// LoadConfig reads configuration from environment variables, after loading
// a .env file when one exists. Returns error if critical variables are missing.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}

	// Database
	cfg.DB.Driver = strings.ToLower(getEnv("DB_DRIVER", DriverMySQL))
	cfg.DB.Host = getEnv("DB_HOST", "handoff_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "handoff")
	cfg.DB.SQLitePath = getEnv("SQLITE_PATH", "handoff.db")
	cfg.DB.MaxRetries = getEnvAsInt("DB_MAX_RETRIES", 5)
	cfg.DB.RetryDelay = getEnvAsDuration("DB_RETRY_DELAY", 2*time.Second)

	switch cfg.DB.Driver {
	case DriverMySQL:
		if cfg.DB.Password == "" {
			return nil, fmt.Errorf("DB_PASS environment variable is required")
		}
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, cfg.DB.Driver)
	}

	// Redis
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	// Application
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.App.AdminUserIDs = getEnvAsList("ADMIN_USER_IDS", nil)
	cfg.App.AllowOrigins = getEnvAsList("CORS_ALLOW_ORIGINS", []string{"*"})
	cfg.App.LogLevel = getEnvAsLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.App.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.App.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second)

	if cfg.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	// Text generation
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", "")
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", "")
	cfg.LLM.Model = getEnv("LLM_MODEL", "gpt-4o-mini")
	cfg.LLM.Temperature = getEnvAsFloat("LLM_TEMPERATURE", 0.3)
	cfg.LLM.Timeout = getEnvAsDuration("LLM_TIMEOUT", 30*time.Second)

	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY environment variable is required")
	}

	// Retrieval
	cfg.Retrieval.URL = getEnv("RETRIEVAL_URL", "")
	cfg.Retrieval.APIKey = getEnv("RETRIEVAL_API_KEY", "")
	cfg.Retrieval.Timeout = getEnvAsDuration("RETRIEVAL_TIMEOUT", 10*time.Second)

	// Tools
	cfg.Tools.RegistryPath = getEnv("TOOLS_REGISTRY", "")

	// AMQP
	cfg.AMQP.URL = getEnv("AMQP_URL", "")
	cfg.AMQP.Exchange = getEnv("AMQP_EXCHANGE", "handoff.events")
	cfg.AMQP.RetryAttempts = getEnvAsInt("AMQP_RETRY_ATTEMPTS", 5)
	cfg.AMQP.RetryDelay = getEnvAsDuration("AMQP_RETRY_DELAY", time.Second)

	// Config cache
	cfg.Cache.Backend = strings.ToLower(getEnv("CONFIG_CACHE", CacheMemory))
	cfg.Cache.TTL = getEnvAsDuration("CONFIG_CACHE_TTL", 60*time.Second)
	cfg.Cache.MaxSize = getEnvAsInt("CONFIG_CACHE_MAX_SIZE", 1000)

	if cfg.Cache.Backend != CacheMemory && cfg.Cache.Backend != CacheRedis {
		return nil, fmt.Errorf("CONFIG_CACHE must be %q or %q, got %q", CacheMemory, CacheRedis, cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == CacheRedis && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required when CONFIG_CACHE=redis")
	}

	// Pipeline
	cfg.Pipeline.MaxToolIterations = getEnvAsInt("MAX_TOOL_ITERATIONS", 3)
	cfg.Pipeline.HistoryLimit = getEnvAsInt("HISTORY_LIMIT", 10)
	cfg.Pipeline.Workers = getEnvAsInt("BACKGROUND_WORKERS", 4)
	cfg.Pipeline.QueueSize = getEnvAsInt("BACKGROUND_QUEUE_SIZE", 1024)

	// Watchdog
	cfg.Watchdog.Interval = getEnvAsDuration("WATCHDOG_INTERVAL", 10*time.Minute)
	cfg.Watchdog.IdleTimeout = getEnvAsDuration("WATCHDOG_IDLE_TIMEOUT", 24*time.Hour)

	return cfg, nil
}

// GetDSN returns the connection string for the configured driver
func (c *DBConfig) GetDSN() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", c.SQLitePath)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvAsFloat reads environment variable as float with fallback default
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsLogLevel(key string, defaultValue slog.Level) slog.Level {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return defaultValue
	}
	return level
}
