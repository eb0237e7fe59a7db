package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	Env       string
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// AutoMigrate applies embedded migrations at startup when a database is configured.
	AutoMigrate bool

	// If true, /readyz returns 503 unless a DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, WARDEN_TOKEN_HMAC_KEY must be set (>= 32 bytes).
	RequireTokenHMAC bool

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	MailWorkers     int
	MailQueueSize   int
	MailSendTimeout time.Duration
}

// Production reports whether WARDEN_ENV selects production hardening.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	env := EnvString("WARDEN_ENV", "development")
	production := strings.EqualFold(env, "production")

	return Config{
		Env:       env,
		HTTPAddr:  EnvString("WARDEN_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("WARDEN_LOG_LEVEL", "info"),
		LogFormat: EnvString("WARDEN_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("WARDEN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WARDEN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WARDEN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WARDEN_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("WARDEN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WARDEN_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("WARDEN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WARDEN_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("WARDEN_DB_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("WARDEN_READINESS_REQUIRE_DB", production),
		RequireTokenHMAC:   EnvBool("WARDEN_REQUIRE_TOKEN_HMAC", production),

		SMTPAddr:     EnvString("WARDEN_SMTP_ADDR", ""),
		SMTPUsername: EnvString("WARDEN_SMTP_USERNAME", ""),
		SMTPPassword: EnvString("WARDEN_SMTP_PASSWORD", ""),
		SMTPFrom:     EnvString("WARDEN_SMTP_FROM", "warden <no-reply@localhost>"),

		MailWorkers:     EnvInt("WARDEN_MAIL_WORKERS", 2),
		MailQueueSize:   EnvInt("WARDEN_MAIL_QUEUE_SIZE", 256),
		MailSendTimeout: EnvDuration("WARDEN_MAIL_SEND_TIMEOUT", 10*time.Second),
	}
}
