package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultHeaderImageURL is the header image of the payment reminder template.
const DefaultHeaderImageURL = "https://dxz23.github.io/imagenes-publicas/Logotipo_izzi_negativo.png"

// AppConfig holds all configuration for the application
type AppConfig struct {
	WhatsAppToken      string
	WhatsAppPhoneID    string
	WhatsAppBaseURL    string
	WhatsAppAPIVersion string
	WebhookVerifyToken string
	BlockedTemplates   []string
	MediaForwardTo     string // inbound receipts are relayed here; empty disables relaying
	HeaderImageURL     string
	FollowUpImageURL   string // empty skips the follow-up image

	SpreadsheetID         string
	SheetTab              string
	SheetsCredentialsFile string
	CountryCode           string
	MobilePrefix          string
	QueueConcurrency      int
	QueueIntervalCap      int
	QueueInterval         time.Duration
	RetryMaxAttempts      int
	RetryInitialDelay     time.Duration
	InterMessageDelay     time.Duration
	HTTPAddr              string
	DatabaseURL           string // optional
	TelegramToken         string // optional
	AdminTelegramID       int64
	CronSpecFlushRetry    string
	CronSpecStatusReset   string
	LogLevel              string
	Environment           string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables that are already set.
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.WhatsAppToken = getenv("WHATSAPP_API_TOKEN")
	if cfg.WhatsAppToken == "" {
		return nil, fmt.Errorf("WHATSAPP_API_TOKEN is not set")
	}
	cfg.WhatsAppPhoneID = getenv("WHATSAPP_PHONE_ID")
	if cfg.WhatsAppPhoneID == "" {
		return nil, fmt.Errorf("WHATSAPP_PHONE_ID is not set")
	}
	cfg.WhatsAppBaseURL = strings.TrimRight(stringOr(getenv, "WHATSAPP_BASE_URL", "https://graph.facebook.com"), "/")
	cfg.WhatsAppAPIVersion = stringOr(getenv, "WHATSAPP_API_VERSION", "v17.0")
	cfg.WebhookVerifyToken = getenv("WEBHOOK_VERIFY_TOKEN")
	cfg.BlockedTemplates = splitList(getenv("BLOCKED_TEMPLATES"))
	cfg.MediaForwardTo = getenv("MEDIA_FORWARD_TO")
	cfg.HeaderImageURL = stringOr(getenv, "TEMPLATE_HEADER_IMAGE", DefaultHeaderImageURL)
	cfg.FollowUpImageURL = getenv("FOLLOW_UP_IMAGE")

	cfg.SpreadsheetID = getenv("SHEETS_SPREADSHEET_ID")
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("SHEETS_SPREADSHEET_ID is not set")
	}
	cfg.SheetTab = stringOr(getenv, "SHEETS_TAB", "reservas")
	cfg.SheetsCredentialsFile = getenv("SHEETS_CREDENTIALS_FILE")

	// PHONE_PREFIX is "<country code>:<mobile prefix>", e.g. "52:1".
	cfg.CountryCode, cfg.MobilePrefix = "52", "1"
	if raw := getenv("PHONE_PREFIX"); raw != "" {
		cc, mobile, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(cc) == "" {
			return nil, fmt.Errorf("invalid PHONE_PREFIX %q, expected <country>:<mobile>", raw)
		}
		cfg.CountryCode, cfg.MobilePrefix = strings.TrimSpace(cc), strings.TrimSpace(mobile)
	}

	if cfg.QueueConcurrency, err = positiveIntOr(getenv, "QUEUE_CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.QueueIntervalCap, err = positiveIntOr(getenv, "QUEUE_INTERVAL_CAP", 5); err != nil {
		return nil, err
	}
	if cfg.QueueInterval, err = durationOr(getenv, "QUEUE_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = positiveIntOr(getenv, "RETRY_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.RetryInitialDelay, err = durationOr(getenv, "RETRY_INITIAL_DELAY", 1500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.InterMessageDelay, err = durationOr(getenv, "INTER_MESSAGE_DELAY", 5*time.Second); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = stringOr(getenv, "HTTP_ADDR", ":8080")
	cfg.DatabaseURL = getenv("DATABASE_URL")
	cfg.TelegramToken = getenv("TELEGRAM_TOKEN")

	if adminIDStr := getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	if cfg.TelegramToken != "" && cfg.AdminTelegramID == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is required when TELEGRAM_TOKEN is set")
	}

	cfg.CronSpecFlushRetry = stringOr(getenv, "CRON_SPEC_FLUSH_RETRY", "@every 5m")
	cfg.CronSpecStatusReset = stringOr(getenv, "CRON_SPEC_STATUS_RESET", "0 3 * * *") // 03:00 daily

	cfg.LogLevel = strings.ToLower(stringOr(getenv, "LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(stringOr(getenv, "ENVIRONMENT", "development"))

	return cfg, nil
}

func stringOr(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func positiveIntOr(getenv func(string) string, key string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	return n, nil
}

// durationOr accepts Go durations ("1500ms") or a bare number of milliseconds.
func durationOr(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
