package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Storage
	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	MongoDBURL     string
	MongoDBName    string
	RedisURL       string

	// API auth
	JWTSecret string

	// Gmail
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GmailTokenFile     string
	TokenEncryptionKey string
	GmailQuery         string
	GmailMaxResults    int
	GmailUserAddress   string
	GmailTimeout       time.Duration

	// Shopify
	ShopifyStore      string
	ShopifyToken      string
	ShopifyAPIVersion string
	ShopifyTimeout    time.Duration
	OrderCacheTTL     time.Duration
	OrderIDPrefixes   []string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	AIDailyQuota   int

	// Rules and replies
	RulebookPath     string
	Brand            string
	AutoReply        bool
	AutoRepliedLabel string
	ReplyCooldown    time.Duration
	MaxRepliesPerHr  int

	// Business hours
	StoreTimezone   string
	QuietHoursStart string
	QuietHoursEnd   string
	OperatingDays   []string

	// Worker
	WorkerID         int64
	WorkerMax        int
	MessageTimeout   time.Duration
	PollInterval     time.Duration
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Storage
		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:    getEnv("DATABASE_URL", "data/mailbot.db"),
		MongoDBURL:     getEnv("MONGODB_URL", ""),
		MongoDBName:    getEnv("MONGODB_DATABASE", "mailbot"),
		RedisURL:       getEnv("REDIS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		// Gmail
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/oauth2callback"),
		GmailTokenFile:     getEnv("GMAIL_TOKEN_FILE", "data/gmail_token.json"),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		GmailQuery:         getEnv("GMAIL_QUERY", DefaultGmailQuery),
		GmailMaxResults:    getEnvInt("GMAIL_MAX_RESULTS", 25),
		GmailUserAddress:   getEnv("GMAIL_USER_ADDRESS", ""),
		GmailTimeout:       getEnvDuration("GMAIL_TIMEOUT", 30*time.Second),

		// Shopify
		ShopifyStore:      getEnv("SHOPIFY_STORE", ""),
		ShopifyToken:      getEnv("SHOPIFY_TOKEN", ""),
		ShopifyAPIVersion: getEnv("SHOPIFY_API_VERSION", "2024-10"),
		ShopifyTimeout:    getEnvDuration("SHOPIFY_TIMEOUT", 10*time.Second),
		OrderCacheTTL:     getEnvDuration("ORDER_CACHE_TTL", 5*time.Minute),
		OrderIDPrefixes:   getEnvSlice("ORDER_ID_PREFIXES", []string{"OU"}),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 400),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 30),
		AIDailyQuota:   getEnvInt("AI_DAILY_QUOTA", 200),

		// Rules and replies
		RulebookPath:     getEnv("RULEBOOK_PATH", "data/rulebook.yaml"),
		Brand:            getEnv("STORE_BRAND", "Oubon"),
		AutoReply:        getEnvBool("AUTO_REPLY", true),
		AutoRepliedLabel: getEnv("AUTO_REPLIED_LABEL", "Auto Replied"),
		ReplyCooldown:    getEnvDuration("REPLY_COOLDOWN", 24*time.Hour),
		MaxRepliesPerHr:  getEnvInt("MAX_REPLIES_PER_HOUR", 60),

		// Business hours
		StoreTimezone:   getEnv("STORE_TIMEZONE", "America/New_York"),
		QuietHoursStart: getEnv("QUIET_HOURS_START", "21:00"),
		QuietHoursEnd:   getEnv("QUIET_HOURS_END", "07:00"),
		OperatingDays:   getEnvSlice("OPERATING_DAYS", []string{"mon", "tue", "wed", "thu", "fri"}),

		// Worker
		WorkerID:         int64(getEnvInt("WORKER_ID", 1)),
		WorkerMax:        getEnvInt("WORKER_MAX", 4),
		MessageTimeout:   getEnvDuration("MESSAGE_TIMEOUT", 90*time.Second),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 5*time.Minute),
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultGmailQuery selects inbox messages worth a look.
const DefaultGmailQuery = `in:inbox (is:unread OR "order" OR "package" OR "delivery" OR "tracking" OR "shipment" OR "refund" OR "return" OR "damaged" OR "broken")`

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.WorkerMax < 1 {
		return fmt.Errorf("WORKER_MAX must be at least 1")
	}
	if c.GmailMaxResults < 1 || c.GmailMaxResults > 500 {
		return fmt.Errorf("GMAIL_MAX_RESULTS must be between 1 and 500")
	}
	if c.WorkerID < 0 || c.WorkerID > 1023 {
		return fmt.Errorf("WORKER_ID must be between 0 and 1023")
	}
	return nil
}

// ShopifyEnabled reports whether order lookups are configured.
func (c *Config) ShopifyEnabled() bool {
	return c.ShopifyStore != "" && c.ShopifyToken != ""
}

// DrafterEnabled reports whether language-model drafts are configured.
func (c *Config) DrafterEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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

func getEnvSlice(key string, defaultValue []string) []string {
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
