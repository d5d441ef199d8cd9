package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort   int
	SMTPPort   int
	DBPath     string
	StorageDir string
	AuthSecret string
	FrontURL   string
	Locale     string
	LogLevel   slog.Level

	AdminUserID int64

	MailGateEnabled bool
	MailGateDomain  string

	Orange Orange
	Notify Notify
	Mail   Mail
}

// Orange holds the credentials and endpoints of the Orange SMS Pro portal.
type Orange struct {
	BaseURL    string
	Login      string
	Password   string
	HomeMarker string
	Company    string
	SessionTTL time.Duration
	Timeout    time.Duration
}

// Notify configures the gateway used for notification SMS.
type Notify struct {
	GatewayURL      string
	GatewayToken    string
	DefaultSenderID string
}

// Mail configures the outbound relay for mail notifications.
type Mail struct {
	Enabled  bool
	Addr     string
	Username string
	Password string
	From     string
}

func Load() Config {
	storage := getEnvString("STORAGE_DIR", "storage")
	return Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 3025),
		SMTPPort:        getEnvInt("SMTP_PORT", 2025),
		DBPath:          getEnvString("DB_PATH", filepath.Join(storage, "smsdesk.db")),
		StorageDir:      storage,
		AuthSecret:      getEnvString("AUTH_SECRET", ""),
		FrontURL:        getEnvString("FRONT_URL", "http://localhost:3025"),
		Locale:          getEnvString("APP_LOCALE", "fr"),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		AdminUserID:     int64(getEnvInt("ADMIN_USER_ID", 1)),
		MailGateEnabled: getEnvBool("MAILGATE_ENABLED", false),
		MailGateDomain:  getEnvString("MAILGATE_DOMAIN", "sms.localhost"),
		Orange: Orange{
			BaseURL:    getEnvString("ORANGESMSPRO_URL", "https://www.orangesmspro.sn"),
			Login:      getEnvString("ORANGESMSPRO_LOGIN", ""),
			Password:   getEnvString("ORANGESMSPRO_PASSWORD", ""),
			HomeMarker: getEnvString("ORANGESMSPRO_HOME_MARKER", ""),
			Company:    getEnvString("ORANGESMSPRO_COMPANY", "STE GEE KE"),
			SessionTTL: getEnvDuration("ORANGESMSPRO_SESSION_TTL", 12*time.Hour),
			Timeout:    getEnvDuration("ORANGESMSPRO_TIMEOUT", 30*time.Second),
		},
		Notify: Notify{
			GatewayURL:      getEnvString("NOTIFICATION_SMS_GATEWAY_URL", ""),
			GatewayToken:    getEnvString("NOTIFICATION_SMS_GATEWAY_TOKEN", ""),
			DefaultSenderID: getEnvString("NOTIFICATION_SENDER_ID", "GEEXSMS"),
		},
		Mail: Mail{
			Enabled:  getEnvBool("MAIL_ENABLED", false),
			Addr:     getEnvString("MAIL_ADDR", "127.0.0.1:25"),
			Username: getEnvString("MAIL_USERNAME", ""),
			Password: getEnvString("MAIL_PASSWORD", ""),
			From:     getEnvString("MAIL_FROM", "no-reply@smsdesk.local"),
		},
	}
}

// QuotaDir is where per-customer quota lock files live.
func (c Config) QuotaDir() string {
	return filepath.Join(c.StorageDir, "app", "customer", "quota")
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	if value, ok := os.LookupEnv(key); ok {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err == nil {
			return level
		}
	}
	return fallback
}
