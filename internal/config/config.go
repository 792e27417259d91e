// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアの実装種別
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string

	// Ledger
	LedgerTimezone   string
	Location         *time.Location
	DistributionTime string

	// Redis（未設定の場合は配布ロックをプロセス内で取る）
	RedisURL string

	// Notification
	TelegramBotToken   string
	TelegramAPIBaseURL string
	NotifyTimeout      time.Duration
	NotifyRatePerSec   float64

	// Rate Limit（req/min/player）
	RateLimitGeneral  int
	RateLimitSessions int

	// Logging
	LogLevel                     string
	NotificationLogRetentionDays int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が解釈できない場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))
	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q is not supported (postgres or memory)", cfg.StoreDriver)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == StoreDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.LedgerTimezone = getEnvString("LEDGER_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(cfg.LedgerTimezone)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_TIMEZONE %q is invalid: %w", cfg.LedgerTimezone, err)
	}
	cfg.Location = loc

	cfg.DistributionTime = getEnvString("DISTRIBUTION_TIME", "00:00")
	if _, err := time.Parse("15:04", cfg.DistributionTime); err != nil {
		return nil, fmt.Errorf("DISTRIBUTION_TIME %q must be HH:MM: %w", cfg.DistributionTime, err)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.TelegramBotToken = getEnvString("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramAPIBaseURL = strings.TrimRight(getEnvString("TELEGRAM_API_BASE_URL", "https://api.telegram.org"), "/")
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second)
	cfg.NotifyRatePerSec = getEnvFloat("NOTIFY_RATE_PER_SEC", 25)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSessions = getEnvInt("RATE_LIMIT_SESSIONS", 30)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.NotificationLogRetentionDays = getEnvInt("NOTIFICATION_LOG_RETENTION_DAYS", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// NotificationsEnabled はTelegramへの実配信が設定されているかを返す。
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramBotToken != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
