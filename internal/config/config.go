package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendBadger = "badger"
)

// Crawler modes
const (
	CrawlerSimulated = "simulated"
	CrawlerHTTP      = "http"
)

// Config holds all configuration for the application
type Config struct {
	Env     string
	Server  ServerConfig
	Store   StoreConfig
	MongoDB MongoDBConfig
	Crawler CrawlerConfig
	Jobs    JobsConfig
	Auth    AuthConfig
	Log     LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// StoreConfig selects where analyses are kept
type StoreConfig struct {
	Backend    string
	BadgerPath string
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI            string
	Database       string
	CollectionName string
	Timeout        time.Duration
}

// CrawlerConfig holds crawl engine configuration
type CrawlerConfig struct {
	Mode              string
	TickInterval      time.Duration
	UserAgent         string
	MaxPages          int
	Concurrency       int // HTTP requests in flight per crawl
	RequestsPerSecond float64
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
}

// JobsConfig controls how long finished analyses are kept
type JobsConfig struct {
	Retention      time.Duration
	ReaperInterval time.Duration
}

// AuthConfig holds authentication configuration. Without a JWT secret every
// request runs as the default user.
type AuthConfig struct {
	JWTSecret        string
	DefaultUserID    string
	DefaultUserEmail string
	DefaultUserPlan  string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// New creates a new Config with values from environment variables
func New() (*Config, error) {
	readTimeout, err := getInt("READ_TIMEOUT", 5)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := getInt("WRITE_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getInt("SHUTDOWN_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	mongoTimeout, err := getInt("MONGO_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	tickMillis, err := getInt("CRAWLER_TICK_MS", 1000)
	if err != nil {
		return nil, err
	}
	maxPages, err := getInt("CRAWLER_MAX_PAGES", 200)
	if err != nil {
		return nil, err
	}
	concurrency, err := getInt("CRAWLER_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	breakerFailures, err := getInt("CRAWLER_BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	breakerCooldown, err := getInt("CRAWLER_BREAKER_COOLDOWN", 30)
	if err != nil {
		return nil, err
	}
	rps, err := strconv.ParseFloat(getEnv("CRAWLER_REQUESTS_PER_SECOND", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CRAWLER_REQUESTS_PER_SECOND: %w", err)
	}
	retentionHours, err := getInt("JOB_RETENTION_HOURS", 24)
	if err != nil {
		return nil, err
	}
	reaperMinutes, err := getInt("REAPER_INTERVAL_MINUTES", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:            getEnv("PORT", "9090"),
			ReadTimeout:     time.Duration(readTimeout) * time.Second,
			WriteTimeout:    time.Duration(writeTimeout) * time.Second,
			ShutdownTimeout: time.Duration(shutdownTimeout) * time.Second,
			AllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", BackendMemory),
			BadgerPath: getEnv("BADGER_PATH", "./data/analyses"),
		},
		MongoDB: MongoDBConfig{
			URI:            getEnv("MONGO_URI", "mongodb://host.docker.internal:27017"),
			Database:       getEnv("MONGO_DB", "broken_links"),
			CollectionName: getEnv("MONGO_COLLECTION", "analyses"),
			Timeout:        time.Duration(mongoTimeout) * time.Second,
		},
		Crawler: CrawlerConfig{
			Mode:              getEnv("CRAWLER_MODE", CrawlerSimulated),
			TickInterval:      time.Duration(tickMillis) * time.Millisecond,
			UserAgent:         getEnv("USER_AGENT", "BrokenLinkAnalyzer/1.0"),
			MaxPages:          maxPages,
			Concurrency:       concurrency,
			RequestsPerSecond: rps,
			BreakerFailures:   uint32(max(breakerFailures, 1)),
			BreakerCooldown:   time.Duration(breakerCooldown) * time.Second,
		},
		Jobs: JobsConfig{
			Retention:      time.Duration(retentionHours) * time.Hour,
			ReaperInterval: time.Duration(reaperMinutes) * time.Minute,
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("AUTH_JWT_SECRET", ""),
			DefaultUserID:    getEnv("DEFAULT_USER_ID", "demo-user"),
			DefaultUserEmail: getEnv("DEFAULT_USER_EMAIL", "demo@example.com"),
			DefaultUserPlan:  getEnv("DEFAULT_USER_PLAN", "pro"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
			File:   getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Server.Port)
	}

	switch c.Store.Backend {
	case BackendMemory, BackendMongo, BackendBadger:
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %q", c.Store.Backend)
	}

	switch c.Crawler.Mode {
	case CrawlerSimulated, CrawlerHTTP:
	default:
		return fmt.Errorf("invalid CRAWLER_MODE: %q", c.Crawler.Mode)
	}

	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("invalid CRAWLER_CONCURRENCY: %d", c.Crawler.Concurrency)
	}
	if c.Crawler.TickInterval < 0 {
		return fmt.Errorf("invalid CRAWLER_TICK_MS: %s", c.Crawler.TickInterval)
	}

	switch c.Auth.DefaultUserPlan {
	case "free", "pro", "enterprise":
	default:
		return fmt.Errorf("invalid DEFAULT_USER_PLAN: %q", c.Auth.DefaultUserPlan)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q", c.Log.Format)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
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
