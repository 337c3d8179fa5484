package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// DB
	DatabaseURL string
	LogSQL      bool

	// HTTP
	Addr              string
	CORSOrigins       []string
	RequestsPerMinute int

	// Login throttling. Redis is optional and only needed when several
	// replicas must share the counter.
	LoginAttempts int
	LoginWindow   time.Duration
	RedisAddr     string

	// AWS SES
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	MailFromSubdomain  string
	ProviderTimeout    time.Duration

	// Cloudflare. An empty token disables automatic DNS publishing.
	CloudflareAPIToken string
	CloudflareZone     string

	// Direct DNS checks
	DNSServer  string
	DNSTimeout time.Duration

	// Verification lifecycle
	PollInterval  time.Duration
	VerifyTimeout time.Duration

	// Retention
	EmailRetention    time.Duration
	KeyRetention      time.Duration
	RetentionInterval time.Duration

	// Background workers
	SetupWorkers   int
	SetupQueueSize int
	AuditQueueSize int

	// Admin session
	SessionKey        string
	SessionTTL        time.Duration
	AdminPassword     string
	AdminPasswordHash string
}

func Load() Config {
	// A .env file is a dev convenience; deployments set the environment.
	_ = godotenv.Load()

	return Config{
		DatabaseURL: getenv("DATABASE_URL", "file:mailgate.db?cache=shared"),
		LogSQL:      getbool("LOG_SQL", false),

		Addr:              getenv("ADDR", ":8080"),
		CORSOrigins:       getcsv("CORS_ORIGINS", []string{"*"}),
		RequestsPerMinute: getint("RATE_LIMIT_PER_MINUTE", 120),

		LoginAttempts: getint("LOGIN_ATTEMPTS", 5),
		LoginWindow:   getdur("LOGIN_WINDOW", time.Minute),
		RedisAddr:     getenv("REDIS_ADDR", ""),

		AWSRegion:          getenv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getenv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY", ""),
		MailFromSubdomain:  getenv("SES_MAIL_FROM_SUBDOMAIN", "bounce"),
		ProviderTimeout:    getdur("PROVIDER_TIMEOUT", 10*time.Second),

		CloudflareAPIToken: getenv("CLOUDFLARE_API_TOKEN", ""),
		CloudflareZone:     getenv("CLOUDFLARE_ZONE", ""),

		DNSServer:  getenv("DNS_SERVER", "1.1.1.1"),
		DNSTimeout: getdur("DNS_TIMEOUT", 5*time.Second),

		PollInterval:  getdur("POLL_INTERVAL", 5*time.Minute),
		VerifyTimeout: getdur("VERIFY_TIMEOUT", 72*time.Hour),

		EmailRetention:    getdur("EMAIL_RETENTION", 30*24*time.Hour),
		KeyRetention:      getdur("KEY_RETENTION", 90*24*time.Hour),
		RetentionInterval: getdur("RETENTION_INTERVAL", time.Hour),

		SetupWorkers:   getint("SETUP_WORKERS", 4),
		SetupQueueSize: getint("SETUP_QUEUE_SIZE", 256),
		AuditQueueSize: getint("AUDIT_QUEUE_SIZE", 1024),

		SessionKey:        getenv("SESSION_KEY", ""),
		SessionTTL:        getdur("SESSION_TTL", 12*time.Hour),
		AdminPassword:     getenv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getenv("ADMIN_PASSWORD_HASH", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getcsv(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
