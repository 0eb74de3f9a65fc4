package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported values of DATA_BACKEND.
const (
	BackendSheets = "sheets"
	BackendMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int
	LogLevel           string

	// Backend selection
	DataBackend   string
	MemorySeedDir string

	// Google Sheets
	GoogleSpreadsheetID       string
	GoogleServiceAccountEmail string
	GooglePrivateKey          string
	GoogleServiceAccountJSON  string

	// Sheet tab names
	SheetCategories   string
	SheetTransactions string
	SheetRecurring    string
	SheetTags         string
	SheetUsers        string
	SheetUserSettings string

	// Remote calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	PersistTimeout   time.Duration

	// Snapshot cache
	SnapshotCacheTTL  time.Duration
	SnapshotCacheSize int

	// AMQP, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		LogLevel:           getEnv("LOG_LEVEL", "info"),

		DataBackend:   getEnv("DATA_BACKEND", BackendSheets),
		MemorySeedDir: getEnv("MEMORY_SEED_DIR", ""),

		GoogleSpreadsheetID:       getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountEmail: getEnv("GOOGLE_SERVICE_ACCOUNT_EMAIL", ""),
		GooglePrivateKey:          getEnv("GOOGLE_PRIVATE_KEY", ""),
		GoogleServiceAccountJSON:  getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		SheetCategories:   getEnv("SHEET_CATEGORIES", "Categories"),
		SheetTransactions: getEnv("SHEET_TRANSACTIONS", "Transactions"),
		SheetRecurring:    getEnv("SHEET_RECURRING", "RecurringTransactions"),
		SheetTags:         getEnv("SHEET_TAGS", "Tags"),
		SheetUsers:        getEnv("SHEET_USERS", "Users"),
		SheetUserSettings: getEnv("SHEET_USER_SETTINGS", "UserSettings"),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 250*time.Millisecond),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 4*time.Second),
		PersistTimeout:   getEnvDuration("PERSIST_TIMEOUT", 30*time.Second),

		SnapshotCacheTTL:  getEnvDuration("SNAPSHOT_CACHE_TTL", 0),
		SnapshotCacheSize: getEnvInt("SNAPSHOT_CACHE_SIZE", 4),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "sheetsync.events"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid.
// Missing Google credentials are not reported here: requests fail with a
// configuration error instead, so the service can start without them.
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendSheets, BackendMemory}
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

	if c.DataBackend == BackendMemory && c.MemorySeedDir != "" {
		if info, err := os.Stat(c.MemorySeedDir); err != nil || !info.IsDir() {
			errors = append(errors, fmt.Sprintf("memory seed directory does not exist: %s", c.MemorySeedDir))
		}
	}

	tabs := map[string]string{}
	for env, tab := range map[string]string{
		"SHEET_CATEGORIES":    c.SheetCategories,
		"SHEET_TRANSACTIONS":  c.SheetTransactions,
		"SHEET_RECURRING":     c.SheetRecurring,
		"SHEET_TAGS":          c.SheetTags,
		"SHEET_USERS":         c.SheetUsers,
		"SHEET_USER_SETTINGS": c.SheetUserSettings,
	} {
		if other, dup := tabs[tab]; dup {
			first, second := other, env
			if second < first {
				first, second = second, first
			}
			errors = append(errors, fmt.Sprintf("sheet tab '%s' is used by both %s and %s", tab, first, second))
		}
		tabs[tab] = env
	}

	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid retry attempts %d: must be between 1 and 10", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		errors = append(errors, fmt.Sprintf("invalid retry base delay %v: must be positive", c.RetryBaseDelay))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errors = append(errors, fmt.Sprintf("invalid retry max delay %v: must not be below base delay %v", c.RetryMaxDelay, c.RetryBaseDelay))
	}
	if c.PersistTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid persist timeout %v: must be at least 1 second", c.PersistTimeout))
	}

	if c.SnapshotCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid snapshot cache TTL %v: must not be negative", c.SnapshotCacheTTL))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
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
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SheetsConfigured reports whether the Google settings are complete.
func (c *Config) SheetsConfigured() bool {
	if c.GoogleSpreadsheetID == "" {
		return false
	}
	return c.GoogleServiceAccountJSON != "" ||
		(c.GoogleServiceAccountEmail != "" && c.GooglePrivateKey != "")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
