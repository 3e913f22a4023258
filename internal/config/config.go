// Package config provides application configuration loaded from environment
// variables (optionally seeded from a .env file) with defaults and validation.
// It centralizes server, logging, database, chat platform, queue, companion
// API, workflow timing and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "genji-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// DiscordConfig holds guild, channel and role identifiers used by the bot.
type DiscordConfig struct {
	Token              string
	GuildID            string
	PlaytestChannelID  string
	PlaytestForumID    string
	NewsfeedChannelID  string
	ChangeRequestForum string
	MapMakerRoleID     string
	ModmailRoleID      string
	ModRoleIDs         []string
}

// QueueConfig configures the AMQP relay.
type QueueConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// CompanionConfig configures the companion web API client.
type CompanionConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
}

// WorkflowConfig holds timers for the submission workflow and background jobs.
type WorkflowConfig struct {
	DraftTimeout           time.Duration
	StaleSweepInterval     time.Duration
	StaleAfter             time.Duration
	AnalyticsFlushInterval time.Duration
	AnalyticsMaxBuffer     int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration

	DB        DatabaseConfig
	Discord   DiscordConfig
	Queue     QueueConfig
	Companion CompanionConfig
	Workflow  WorkflowConfig

	// Observability
	OTEL OTELConfig
}

// IsModRole reports whether roleID is one of the configured moderator roles.
func (c Config) IsModRole(roleID string) bool {
	for _, r := range c.Discord.ModRoleIDs {
		if r == roleID {
			return true
		}
	}
	return false
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads an optional .env file, then environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		DB: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "genji.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		Discord: DiscordConfig{
			Token:              getenv("DISCORD_TOKEN", ""),
			GuildID:            getenv("GUILD_ID", ""),
			PlaytestChannelID:  getenv("PLAYTEST_CHANNEL_ID", ""),
			PlaytestForumID:    getenv("PLAYTEST_FORUM_ID", ""),
			NewsfeedChannelID:  getenv("NEWSFEED_CHANNEL_ID", ""),
			ChangeRequestForum: getenv("CHANGE_REQUEST_FORUM_ID", ""),
			MapMakerRoleID:     getenv("MAP_MAKER_ROLE_ID", ""),
			ModmailRoleID:      getenv("MODMAIL_ROLE_ID", ""),
			ModRoleIDs:         splitCSV(getenv("MOD_ROLE_IDS", "")),
		},

		Queue: QueueConfig{
			URL:      getenv("AMQP_URL", ""),
			Queue:    getenv("AMQP_QUEUE", "genjiapi"),
			Prefetch: getint("AMQP_PREFETCH", 1),
		},

		Companion: CompanionConfig{
			BaseURL: strings.TrimRight(getenv("COMPANION_API_BASE_URL", ""), "/"),
			APIKey:  getenv("COMPANION_API_KEY", ""),
			Timeout: getdur("COMPANION_API_TIMEOUT", 10*time.Second),
			RPS:     getfloat("COMPANION_API_RPS", 5),
		},

		Workflow: WorkflowConfig{
			DraftTimeout:           getdur("DRAFT_TIMEOUT", 10*time.Minute),
			StaleSweepInterval:     getdur("STALE_SWEEP_INTERVAL", time.Hour),
			StaleAfter:             getdur("STALE_AFTER", 14*24*time.Hour),
			AnalyticsFlushInterval: getdur("ANALYTICS_FLUSH_INTERVAL", 60*time.Second),
			AnalyticsMaxBuffer:     getint("ANALYTICS_MAX_BUFFER", 1000),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "genji-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Queue.Prefetch < 1 {
		return cfg, errors.New("AMQP_PREFETCH must be >= 1")
	}
	if strings.TrimSpace(cfg.Queue.Queue) == "" {
		return cfg, errors.New("AMQP_QUEUE must not be empty")
	}
	if cfg.Companion.Timeout <= 0 || cfg.Companion.RPS <= 0 {
		return cfg, errors.New("COMPANION_API_TIMEOUT and COMPANION_API_RPS must be positive")
	}
	w := cfg.Workflow
	if w.DraftTimeout <= 0 || w.StaleSweepInterval <= 0 || w.StaleAfter <= 0 || w.AnalyticsFlushInterval <= 0 {
		return cfg, errors.New("workflow intervals must be positive durations")
	}
	if w.AnalyticsMaxBuffer < 1 {
		return cfg, errors.New("ANALYTICS_MAX_BUFFER must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// Snowflake parses a chat platform id. Empty or malformed ids yield 0.
func Snowflake(s string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
