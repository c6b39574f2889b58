package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/menulens/pkg/icron"
	"github.com/MimeLyc/menulens/pkg/log"
	"golang.org/x/text/language"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the translation provider (required for serve and sweep)
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: Model name to use (default: gpt-5-mini)
// - LLM_TIMEOUT: Request timeout in seconds (default: 90)
// - LLM_REASONING_EFFORT: Reasoning effort hint (default: low)
// - LLM_QUICK_MODEL: Model for the short dish recommendation, "off" disables it (default: gpt-5-nano)
// - LLM_QUICK_TIMEOUT: Time budget for the recommendation (default: 12s)
// - DEFAULT_OUTPUT_LANGUAGE: Language used when a retry names none (default: en)
//
// Store Configuration:
// - DB_DRIVER: sqlite, postgres or memory (default: sqlite)
// - DATABASE_URL: Postgres DSN, or the SQLite file path (default: $DATA_DIR/menulens.db)
// - DATA_DIR: Directory for local state (default: ./data)
//
// Lifecycle Configuration:
// - SESSION_TTL: Upload session lifetime (default: 30m)
// - SHARE_TTL: Share link lifetime (default: 24h)
// - MAX_RETRIES: Attempts allowed per session (default: 5)
// - WATCHDOG_TIMEOUT: Upper bound for one translation call (default: 120s)
// - REAPER_SCHEDULE: Cron expression for expiry sweeps (default: @every 60s)
//
// System Configuration:
// - HTTP_ADDR: Listen address (default: :8080)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - SETTINGS_FILE: Optional JSON file with runtime overrides
type Config struct {
	LLM LLMConfig `json:"llm"`

	Store StoreConfig `json:"store"`

	Lifecycle LifecycleConfig `json:"lifecycle"`

	HTTP HTTPConfig `json:"http"`

	LogLevel string `json:"log_level"`

	requireLLM bool
}

// LLMConfig holds the configuration for the translation service client
type LLMConfig struct {
	APIKey          string        `json:"-"`
	APIURL          string        `json:"api_url"`
	Model           string        `json:"model"`
	Timeout         int           `json:"timeout"`
	ReasoningEffort string        `json:"reasoning_effort"`
	QuickModel      string        `json:"quick_model"`
	QuickTimeout    time.Duration `json:"quick_timeout"`
	DefaultLanguage language.Tag  `json:"default_language"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type StoreConfig struct {
	Driver      string `json:"driver"`
	DatabaseURL string `json:"-"`
	DataDir     string `json:"data_dir"`
}

// SQLitePath returns DATABASE_URL when set, otherwise a file under DataDir.
func (c StoreConfig) SQLitePath() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.DataDir, "menulens.db")
}

type LifecycleConfig struct {
	SessionTTL      time.Duration `json:"session_ttl"`
	ShareTTL        time.Duration `json:"share_ttl"`
	MaxRetries      int           `json:"max_retries"`
	WatchdogTimeout time.Duration `json:"watchdog_timeout"`
	ReaperSchedule  string        `json:"reaper_schedule"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithoutLLMKey skips the API key requirement, for commands that never call the service.
func WithoutLLMKey() Option {
	return func(c *Config) { c.requireLLM = false }
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	defaultLanguage, err := language.Parse(getEnvString("DEFAULT_OUTPUT_LANGUAGE", "en"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_OUTPUT_LANGUAGE: %w", err)
	}

	config := &Config{
		LLM: LLMConfig{
			APIKey:          getEnvString("LLM_API_KEY", ""),
			APIURL:          getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:           getEnvString("LLM_MODEL", "gpt-5-mini"),
			Timeout:         getEnvInt("LLM_TIMEOUT", 90),
			ReasoningEffort: getEnvString("LLM_REASONING_EFFORT", "low"),
			QuickModel:      getEnvString("LLM_QUICK_MODEL", "gpt-5-nano"),
			QuickTimeout:    getEnvDuration("LLM_QUICK_TIMEOUT", 12*time.Second),
			DefaultLanguage: defaultLanguage,
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnvString("DB_DRIVER", DriverSQLite)),
			DatabaseURL: getEnvString("DATABASE_URL", ""),
			DataDir:     getEnvString("DATA_DIR", "./data"),
		},
		Lifecycle: LifecycleConfig{
			SessionTTL:      getEnvDuration("SESSION_TTL", 30*time.Minute),
			ShareTTL:        getEnvDuration("SHARE_TTL", 24*time.Hour),
			MaxRetries:      getEnvInt("MAX_RETRIES", 5),
			WatchdogTimeout: getEnvDuration("WATCHDOG_TIMEOUT", 120*time.Second),
			ReaperSchedule:  getEnvString("REAPER_SCHEDULE", "@every 60s"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		LogLevel:   getEnvString("LOG_LEVEL", "info"),
		requireLLM: true,
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if strings.EqualFold(config.LLM.QuickModel, "off") {
		config.LLM.QuickModel = ""
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.requireLLM && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.LLM.QuickModel != "" && c.LLM.QuickTimeout <= 0 {
		return fmt.Errorf("LLM_QUICK_TIMEOUT must be positive")
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Store.Driver)
	}
	if c.Lifecycle.SessionTTL <= 0 || c.Lifecycle.ShareTTL <= 0 {
		return fmt.Errorf("SESSION_TTL and SHARE_TTL must be positive")
	}
	if c.Lifecycle.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.Lifecycle.WatchdogTimeout <= 0 {
		return fmt.Errorf("WATCHDOG_TIMEOUT must be positive")
	}
	if _, err := icron.Parse(c.Lifecycle.ReaperSchedule); err != nil {
		return fmt.Errorf("invalid REAPER_SCHEDULE: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "30m") or plain seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
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
