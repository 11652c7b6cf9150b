package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendPostgres}

type Config struct {
	// HTTP Server
	Port string

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP (optional; without it sync requests run inline)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Carry-over sync
	SyncSchedule    string
	SyncConcurrency int
	SyncMaxRetries  int
	SyncOnStart     bool

	// New accounts only; existing accounts keep their stored start day.
	DefaultPeriodStartDay int

	// Summary cache
	SummaryCacheSize int
	SummaryCacheTTL  time.Duration

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Google Sheets summary export (optional)
	GoogleSpreadsheetID    string
	GoogleSummarySheetName string

	// Credentials are only read from the environment.
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Logging and time
	LogLevel  string
	LogFormat string
	Timezone  string

	// ConfigFile is the TOML file values were read from, if any.
	ConfigFile string
}

// fileConfig mirrors Config in the optional TOML file. Durations are strings
// such as "5m".
type fileConfig struct {
	Port                  string  `toml:"port"`
	DataBackend           string  `toml:"data_backend"`
	SQLiteDBPath          string  `toml:"sqlite_db_path"`
	DatabaseURL           string  `toml:"database_url"`
	AMQPURL               string  `toml:"amqp_url"`
	AMQPExchange          string  `toml:"amqp_exchange"`
	AMQPQueue             string  `toml:"amqp_queue"`
	SyncSchedule          string  `toml:"sync_schedule"`
	SyncConcurrency       int     `toml:"sync_concurrency"`
	SyncMaxRetries        *int    `toml:"sync_max_retries"`
	SyncOnStart           *bool   `toml:"sync_on_start"`
	DefaultPeriodStartDay int     `toml:"default_period_start_day"`
	SummaryCacheSize      int     `toml:"summary_cache_size"`
	SummaryCacheTTL       string  `toml:"summary_cache_ttl"`
	RateLimitRPS          float64 `toml:"rate_limit_rps"`
	RateLimitBurst        int     `toml:"rate_limit_burst"`
	GoogleSpreadsheetID   string  `toml:"google_spreadsheet_id"`
	GoogleSummarySheet    string  `toml:"google_summary_sheet_name"`
	LogLevel              string  `toml:"log_level"`
	LogFormat             string  `toml:"log_format"`
	Timezone              string  `toml:"timezone"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:                   "8081",
		DataBackend:            BackendSQLite,
		SQLiteDBPath:           "./data/ledger.db",
		AMQPExchange:           "ledger",
		AMQPQueue:              "carryover.sync",
		SyncSchedule:           "@every 15m",
		SyncConcurrency:        4,
		SyncMaxRetries:         3,
		SyncOnStart:            true,
		DefaultPeriodStartDay:  15,
		SummaryCacheSize:       256,
		SummaryCacheTTL:        5 * time.Minute,
		RateLimitRPS:           10,
		RateLimitBurst:         20,
		GoogleSummarySheetName: "Summary",
		LogLevel:               "info",
		LogFormat:              "text",
		Timezone:               "Local",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// LEDGER_CONFIG_FILE (if set), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("LEDGER_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DataBackend = strings.ToLower(getEnv("DATA_BACKEND", cfg.DataBackend))
	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.SyncSchedule = getEnv("SYNC_SCHEDULE", cfg.SyncSchedule)
	cfg.SyncConcurrency = getEnvInt("SYNC_CONCURRENCY", cfg.SyncConcurrency)
	cfg.SyncMaxRetries = getEnvInt("SYNC_MAX_RETRIES", cfg.SyncMaxRetries)
	cfg.SyncOnStart = getEnvBool("SYNC_ON_START", cfg.SyncOnStart)
	cfg.DefaultPeriodStartDay = getEnvInt("DEFAULT_PERIOD_START_DAY", cfg.DefaultPeriodStartDay)

	cfg.SummaryCacheSize = getEnvInt("SUMMARY_CACHE_SIZE", cfg.SummaryCacheSize)
	cfg.SummaryCacheTTL = getEnvDuration("SUMMARY_CACHE_TTL", cfg.SummaryCacheTTL)
	cfg.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", cfg.GoogleSpreadsheetID)
	cfg.GoogleSummarySheetName = getEnv("GOOGLE_SUMMARY_SHEET_NAME", cfg.GoogleSummarySheetName)
	cfg.GoogleServiceAccountJSON = os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")
	cfg.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, f.Port)
	setString(&c.DataBackend, f.DataBackend)
	setString(&c.SQLiteDBPath, f.SQLiteDBPath)
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.AMQPURL, f.AMQPURL)
	setString(&c.AMQPExchange, f.AMQPExchange)
	setString(&c.AMQPQueue, f.AMQPQueue)
	setString(&c.SyncSchedule, f.SyncSchedule)
	setString(&c.GoogleSpreadsheetID, f.GoogleSpreadsheetID)
	setString(&c.GoogleSummarySheetName, f.GoogleSummarySheet)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)
	setString(&c.Timezone, f.Timezone)

	if f.SyncConcurrency != 0 {
		c.SyncConcurrency = f.SyncConcurrency
	}
	if f.SyncMaxRetries != nil {
		c.SyncMaxRetries = *f.SyncMaxRetries
	}
	if f.SyncOnStart != nil {
		c.SyncOnStart = *f.SyncOnStart
	}
	if f.DefaultPeriodStartDay != 0 {
		c.DefaultPeriodStartDay = f.DefaultPeriodStartDay
	}
	if f.SummaryCacheSize != 0 {
		c.SummaryCacheSize = f.SummaryCacheSize
	}
	if f.SummaryCacheTTL != "" {
		d, err := time.ParseDuration(f.SummaryCacheTTL)
		if err != nil {
			return fmt.Errorf("parse config file %s: summary_cache_ttl: %w", path, err)
		}
		c.SummaryCacheTTL = d
	}
	if f.RateLimitRPS != 0 {
		c.RateLimitRPS = f.RateLimitRPS
	}
	if f.RateLimitBurst != 0 {
		c.RateLimitBurst = f.RateLimitBurst
	}

	c.ConfigFile = path
	return nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if strings.Contains(c.SQLiteDBPath, ":memory:") || strings.Contains(c.SQLiteDBPath, "mode=memory") {
			errors = append(errors, "in-memory SQLite databases are not supported: use the memory backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, "invalid DATABASE_URL: must be a postgres:// or postgresql:// URL")
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate sync configuration
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid sync schedule '%s': %v", c.SyncSchedule, err))
	}
	if c.SyncConcurrency < 1 || c.SyncConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid sync concurrency %d: must be between 1 and 64", c.SyncConcurrency))
	}
	if c.SyncMaxRetries < 0 || c.SyncMaxRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid sync max retries %d: must be between 0 and 10", c.SyncMaxRetries))
	}
	if c.DefaultPeriodStartDay < 1 || c.DefaultPeriodStartDay > 31 {
		errors = append(errors, fmt.Sprintf("invalid default period start day %d: must be between 1 and 31", c.DefaultPeriodStartDay))
	}

	if c.SummaryCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid summary cache size %d: must be at least 1", c.SummaryCacheSize))
	}
	if c.SummaryCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid summary cache ttl %v: must be at least 1 second", c.SummaryCacheTTL))
	}
	if c.RateLimitRPS <= 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %v: must be positive", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location resolves Timezone. Empty and "Local" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SheetsEnabled reports whether summaries should be exported.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
