package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer   string   // Issuer claim on assertions and the otpauth label (default: twostep)
	Audience []string // Audience claim on assertions (default: none)
	APIKey   string   // Required: shared bearer token for the host application

	AppID           string // Application identity security keys bind to (default: https://localhost:8080)
	SecureTransport bool   // Whether the facing deployment serves HTTPS (default: derived from AppID)

	AssertionKeyFile string        // Optional: PEM Ed25519 key; generated and written there when absent
	AssertionKID     string        // Key ID published on the JWKS document (default: twostep-1)
	NonceSecret      string        // Optional: HMAC secret for login nonces; random per process when empty
	NonceWindow      time.Duration // How long an issued nonce stays valid (default: 5m)

	DatabaseFile string // Path to the SQLite database file (default: ./twostep.db)

	SMTPHost     string // SMTP relay; empty means codes go to the log instead
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      bool

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired-state sweep interval (default: 15m)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:   getEnvOrDefault("TWOSTEP_ISSUER", "twostep"),
		APIKey:   os.Getenv("TWOSTEP_API_KEY"),
		AppID:    getEnvOrDefault("TWOSTEP_APP_ID", "https://localhost:8080"),
		Audience: splitList(os.Getenv("TWOSTEP_AUDIENCE")),

		AssertionKeyFile: os.Getenv("TWOSTEP_ASSERTION_KEY_FILE"),
		AssertionKID:     getEnvOrDefault("TWOSTEP_ASSERTION_KID", "twostep-1"),
		NonceSecret:      os.Getenv("TWOSTEP_NONCE_SECRET"),
		NonceWindow:      getEnvDurationOrDefault("TWOSTEP_NONCE_WINDOW", 5*time.Minute),

		DatabaseFile: getEnvOrDefault("TWOSTEP_DATABASE_FILE", "twostep.db"),

		SMTPHost:     os.Getenv("TWOSTEP_SMTP_HOST"),
		SMTPPort:     getEnvIntOrDefault("TWOSTEP_SMTP_PORT", 587),
		SMTPUsername: os.Getenv("TWOSTEP_SMTP_USERNAME"),
		SMTPPassword: os.Getenv("TWOSTEP_SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("TWOSTEP_SMTP_FROM"),
		SMTPTLS:      getEnvBoolOrDefault("TWOSTEP_SMTP_TLS", true),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 15*time.Minute),
	}

	if v := os.Getenv("TWOSTEP_SECURE_TRANSPORT"); v != "" {
		cfg.SecureTransport = parseBool(v, true)
	} else {
		cfg.SecureTransport = strings.HasPrefix(cfg.AppID, "https://")
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return parseBool(value, defaultValue)
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
