package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseDriver   string // postgres or sqlite
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string
	SQLitePath       string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	HTTPPort string

	Log LogConfig

	Sync SyncConfig

	Market MarketConfig

	// Analytics cache entry lifetime; the generation bump after each sync is what keeps results fresh
	AnalyticsCacheTTL time.Duration

	// RulesFile replaces the embedded rule tables when set
	RulesFile string

	Webhook WebhookConfig

	SeedOnStart bool
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // console or json
	File       string // rotated log file; empty logs to stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SyncConfig holds ingestion settings
type SyncConfig struct {
	Sources         []string
	Months          int
	PolitenessDelay time.Duration
	Interval        time.Duration // 0 disables the background scheduler
	Timezone        string
	UserAgent       string
	RequestTimeout  time.Duration
	GasgooURL       string
	CPCAURL         string
	DongchediURL    string
	DongchediLimit  int
}

// MarketConfig holds stock price and fundamentals settings
type MarketConfig struct {
	ChartURL        string
	QuoteURL        string
	HistoryYears    int
	FundamentalsTTL time.Duration
}

// WebhookConfig holds sync report webhook settings
type WebhookConfig struct {
	URL        string
	AuthHeader string
	AuthValue  string
	Statuses   []string // empty sends every run
	RetryCount int
	RetryDelay time.Duration
}

// Location resolves the sync time zone, falling back to the server's zone.
func (c SyncConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=sqlite")
	}
	if c.Sync.Months <= 0 {
		return fmt.Errorf("SYNC_MONTHS must be positive, got %d", c.Sync.Months)
	}
	if c.Sync.PolitenessDelay < 0 {
		return fmt.Errorf("SYNC_POLITENESS_DELAY must not be negative")
	}
	if c.Sync.Timezone != "" {
		if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
			return fmt.Errorf("SYNC_TIMEZONE: %w", err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists; a missing file is not an error
	_ = godotenv.Load()

	return &Config{
		// Database configuration
		DatabaseDriver:   strings.ToLower(getEnvOrDefault("DB_DRIVER", "postgres")),
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "evsales"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "evsales"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "evsales"),
		SQLitePath:       getEnvOrDefault("SQLITE_PATH", "file:evsales.db"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		Log: LogConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Format:     getEnvOrDefault("LOG_FORMAT", "console"),
			File:       getEnvOrDefault("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},

		Sync: SyncConfig{
			Sources:         getEnvList("SYNC_SOURCES", []string{"GASGOO", "CPCA", "DCD"}),
			Months:          getEnvInt("SYNC_MONTHS", 12),
			PolitenessDelay: getEnvDuration("SYNC_POLITENESS_DELAY", 2*time.Second),
			Interval:        getEnvDuration("SYNC_INTERVAL", 0),
			Timezone:        getEnvOrDefault("SYNC_TIMEZONE", "Asia/Shanghai"),
			UserAgent:       getEnvOrDefault("SYNC_USER_AGENT", ""),
			RequestTimeout:  getEnvDuration("SYNC_REQUEST_TIMEOUT", 30*time.Second),
			GasgooURL:       getEnvOrDefault("GASGOO_URL", "https://auto.gasgoo.com/data/ranking"),
			CPCAURL:         getEnvOrDefault("CPCA_URL", "http://www.cpcaauto.com/news.php?types=csjd"),
			DongchediURL:    getEnvOrDefault("DONGCHEDI_URL", "https://www.dongchedi.com/motor/pc/car/rank_data"),
			DongchediLimit:  getEnvInt("DONGCHEDI_LIMIT", 100),
		},

		Market: MarketConfig{
			ChartURL:        getEnvOrDefault("STOCK_CHART_URL", "https://query1.finance.yahoo.com/v8/finance/chart"),
			QuoteURL:        getEnvOrDefault("STOCK_QUOTE_URL", "https://query2.finance.yahoo.com/v10/finance/quoteSummary"),
			HistoryYears:    getEnvInt("STOCK_HISTORY_YEARS", 2),
			FundamentalsTTL: getEnvDuration("FUNDAMENTALS_CACHE_TTL", 6*time.Hour),
		},

		AnalyticsCacheTTL: getEnvDuration("ANALYTICS_CACHE_TTL", time.Hour),
		RulesFile:         getEnvOrDefault("RULES_FILE", ""),

		Webhook: WebhookConfig{
			URL:        getEnvOrDefault("SYNC_WEBHOOK_URL", ""),
			AuthHeader: getEnvOrDefault("SYNC_WEBHOOK_AUTH_HEADER", ""),
			AuthValue:  getEnvOrDefault("SYNC_WEBHOOK_AUTH_VALUE", ""),
			Statuses:   getEnvList("SYNC_WEBHOOK_STATUSES", nil),
			RetryCount: getEnvInt("SYNC_WEBHOOK_RETRIES", 3),
			RetryDelay: getEnvDuration("SYNC_WEBHOOK_RETRY_DELAY", 5*time.Second),
		},

		SeedOnStart: getEnvOrDefault("SEED_ON_START", "true") == "true",
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvDuration accepts Go durations ("1500ms", "6h") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs := getEnvFloat(key, -1); secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
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
	return out
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
