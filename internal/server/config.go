package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/store"
)

// Room directory modes.
const (
	RoomModeStatic  = "static"
	RoomModeDynamic = "dynamic"
)

// MinMessageSize is the smallest frame limit that still admits a
// chat:message whose content is MaxMessageLength bytes that all need a
// six-byte JSON escape, plus room for the envelope.
const MinMessageSize = 6*chat.MaxMessageLength + 2048

var (
	// ErrMissingJWTSecret is returned by Validate when no signing secret is set.
	ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")
	// ErrMessageSizeTooSmall is returned by Validate when the frame limit
	// would cut off valid chat messages.
	ErrMessageSizeTooSmall = fmt.Errorf("MAX_MESSAGE_SIZE must be at least %d", MinMessageSize)
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// DatabaseConfig selects the gorm driver and its DSN.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// AuthConfig holds token signing settings and the optional SUPER seed account.
type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SuperEmail    string
	SuperPassword string
}

// Config holds the server configuration.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	Database        DatabaseConfig
	Auth            AuthConfig
	RoomMode        string
	BackfillLimit   int
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 32 << 10,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			DSN:    "chatterbox.db",
		},
		Auth: AuthConfig{
			JWTIssuer:  "chatterbox",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		RoomMode:        RoomModeStatic,
		BackfillLimit:   50,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// sanitizeConfig replaces unusable values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = def.Database.Driver
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = def.Database.DSN
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = def.Auth.JWTIssuer
	}
	if cfg.Auth.AccessTTL <= 0 {
		cfg.Auth.AccessTTL = def.Auth.AccessTTL
	}
	if cfg.Auth.RefreshTTL <= 0 {
		cfg.Auth.RefreshTTL = def.Auth.RefreshTTL
	}
	cfg.RoomMode = strings.ToLower(strings.TrimSpace(cfg.RoomMode))
	if cfg.RoomMode == "" {
		cfg.RoomMode = def.RoomMode
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = def.BackfillLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.MaxMessageSize < MinMessageSize {
		return ErrMessageSizeTooSmall
	}
	switch c.RoomMode {
	case RoomModeStatic, RoomModeDynamic:
	default:
		return fmt.Errorf("ROOM_MODE must be %q or %q, got %q", RoomModeStatic, RoomModeDynamic, c.RoomMode)
	}
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", store.ErrUnsupportedDriver, c.Database.Driver)
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadEnvFile loads variables from a .env file into the process
// environment without overriding variables that are already set.
func LoadEnvFile(paths ...string) error {
	return godotenv.Load(paths...)
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = strings.ToLower(driver)
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	if issuer := os.Getenv("JWT_ISSUER"); issuer != "" {
		cfg.Auth.JWTIssuer = issuer
	}
	if ttl := os.Getenv("ACCESS_TOKEN_TTL"); ttl != "" {
		cfg.Auth.AccessTTL = parseDuration(ttl, cfg.Auth.AccessTTL)
	}
	if ttl := os.Getenv("REFRESH_TOKEN_TTL"); ttl != "" {
		cfg.Auth.RefreshTTL = parseDuration(ttl, cfg.Auth.RefreshTTL)
	}
	cfg.Auth.SuperEmail = os.Getenv("SUPER_EMAIL")
	cfg.Auth.SuperPassword = os.Getenv("SUPER_PASSWORD")

	if mode := os.Getenv("ROOM_MODE"); mode != "" {
		cfg.RoomMode = strings.ToLower(mode)
	}
	if limit := os.Getenv("BACKFILL_LIMIT"); limit != "" {
		cfg.BackfillLimit = parseIntValue(limit, cfg.BackfillLimit)
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("90s", "15m").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
