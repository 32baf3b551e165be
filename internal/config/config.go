package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"carrera-bot/internal/util"
)

const DefaultAPIBaseURL = "https://app-delivery-api-dev-eastus2.azurewebsites.net"

type Config struct {
	TelegramToken string
	TelegramDebug bool

	APIBaseURL string

	PaymentProvider      string
	PaymentWebhookSecret string

	HTTPAddr           string
	BasePublicURL      string
	CORSAllowedOrigins []string

	SessionBackend    string
	SessionFile       string
	SessionSQLitePath string
	RedisURL          string
	SessionTTL        time.Duration

	Ledger                   string
	SpreadsheetID            string
	GoogleServiceAccountJSON string
	MySQLDSN                 string

	MaxParticipants int

	LogLevel  string
	LogFormat string
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func FromEnv() (Config, error) {
	var c Config
	c.TelegramToken = env("TELEGRAM_BOT_TOKEN", "")
	c.TelegramDebug = util.ParseBool(os.Getenv("TELEGRAM_DEBUG"))

	c.APIBaseURL = strings.TrimRight(env("API_BASE_URL", DefaultAPIBaseURL), "/")

	c.PaymentProvider = strings.ToLower(env("PAYMENT_PROVIDER", "api"))
	c.PaymentWebhookSecret = env("PAYMENT_WEBHOOK_SECRET", "change-me")

	c.HTTPAddr = env("HTTP_ADDR", ":8080")
	c.BasePublicURL = strings.TrimRight(env("BASE_PUBLIC_URL", ""), "/")
	c.CORSAllowedOrigins = splitList(env("CORS_ALLOWED_ORIGINS", "*"))

	c.SessionBackend = strings.ToLower(env("SESSION_BACKEND", "memory"))
	c.SessionFile = env("SESSION_FILE", "data/sessions.json")
	c.SessionSQLitePath = env("SESSION_SQLITE_PATH", "data/sessions.db")
	c.RedisURL = env("REDIS_URL", "redis://localhost:6379/0")

	ttl, err := time.ParseDuration(env("SESSION_TTL", "24h"))
	if err != nil {
		return c, fmt.Errorf("SESSION_TTL: %w", err)
	}
	c.SessionTTL = ttl

	c.Ledger = strings.ToLower(env("LEDGER", "none"))
	c.SpreadsheetID = env("GOOGLE_SHEETS_SPREADSHEET_ID", "")
	c.GoogleServiceAccountJSON = env("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	c.MySQLDSN = env("MYSQL_DSN", "")

	c.MaxParticipants, err = strconv.Atoi(env("MAX_PARTICIPANTS", "5"))
	if err != nil || c.MaxParticipants < 1 {
		return c, fmt.Errorf("MAX_PARTICIPANTS must be a positive integer")
	}

	c.LogLevel = strings.ToLower(env("LOG_LEVEL", "info"))
	c.LogFormat = strings.ToLower(env("LOG_FORMAT", "text"))

	return c, c.validate()
}

func (c Config) validate() error {
	switch c.PaymentProvider {
	case "api", "stub":
	default:
		return fmt.Errorf("PAYMENT_PROVIDER: unknown value %q", c.PaymentProvider)
	}
	switch c.SessionBackend {
	case "memory", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("SESSION_BACKEND: unknown value %q", c.SessionBackend)
	}
	switch c.Ledger {
	case "none":
	case "sheets":
		if c.SpreadsheetID == "" {
			return fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID is empty")
		}
		if c.GoogleServiceAccountJSON == "" {
			return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is empty")
		}
	case "mysql":
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is empty")
		}
	default:
		return fmt.Errorf("LEDGER: unknown value %q", c.Ledger)
	}
	return nil
}

// RequireTelegram is checked by commands that start the bot.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	return nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
