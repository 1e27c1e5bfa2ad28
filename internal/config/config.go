package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the gateway and user-management services.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
	CORS      CORSConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	APIPrefix             string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// SQLiteConfig is used for the credential store when no Postgres DSN is set.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret              string
	JWTAlgorithm           string
	Issuer                 string
	AccessTokenTTLMinutes  int
	RefreshTokenTTLDays    int
	PasswordAlgorithm      string
	BcryptCost             int
	Argon2                 Argon2Config
	PasswordPolicy         PasswordPolicyConfig
	// StateBackend selects where revocations live: "redis" or "memory".
	StateBackend           string
	PurgeIntervalMinutes   int
	// AllowAdminRegistration lets POST /auth/register create admins.
	AllowAdminRegistration bool
}

// Argon2Config tunes the argon2id KDF.
type Argon2Config struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLength uint32
	SaltBytes int
}

// PasswordPolicyConfig describes the minimum password requirements.
type PasswordPolicyConfig struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// RateLimitConfig controls the gateway limiter.
type RateLimitConfig struct {
	PerMinute     int
	WindowSeconds int
	Backend       string
}

// GatewayConfig lists upstream services and forwarding behavior.
type GatewayConfig struct {
	EventIngestionURL      string
	AlertRulesEngineURL    string
	QueryAnalyticsURL      string
	UserManagementURL      string
	UpstreamTimeoutSeconds int
	MaxInFlightPerUpstream int
	MaxResponseBytes       int64
	RetryPolicy            string
	RetryAttempts          int
	RetryBackoffMillis     int
}

// CORSConfig holds the browser allow-list.
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", serviceName),
			Env:                   getEnv("ENVIRONMENT", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8000"),
			Version:               getEnv("APP_VERSION", "1.0.0"),
			APIPrefix:             getEnv("API_V1_PREFIX", "/api/v1"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/users.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("JWT_SECRET_KEY", "change-this-secret-key-in-production"),
			JWTAlgorithm:          strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
			Issuer:                getEnv("JWT_ISSUER", "smart-retail"),
			AccessTokenTTLMinutes: getEnvAsInt("JWT_EXPIRATION_MINUTES", 60),
			RefreshTokenTTLDays:   getEnvAsInt("JWT_REFRESH_EXPIRATION_DAYS", 7),
			PasswordAlgorithm:     strings.ToLower(getEnv("PASSWORD_HASH_ALGORITHM", "argon2id")),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			Argon2: Argon2Config{
				Time:      uint32(getEnvAsInt("ARGON2_TIME", 1)),
				MemoryKiB: uint32(getEnvAsInt("ARGON2_MEMORY_KIB", 64*1024)),
				Threads:   uint8(getEnvAsInt("ARGON2_THREADS", 4)),
				KeyLength: uint32(getEnvAsInt("ARGON2_KEY_LENGTH", 32)),
				SaltBytes: getEnvAsInt("ARGON2_SALT_BYTES", 16),
			},
			PasswordPolicy: PasswordPolicyConfig{
				MinLength:     getEnvAsInt("PASSWORD_MIN_LENGTH", 8),
				RequireUpper:  getEnvAsBool("PASSWORD_REQUIRE_UPPER", true),
				RequireLower:  getEnvAsBool("PASSWORD_REQUIRE_LOWER", true),
				RequireDigit:  getEnvAsBool("PASSWORD_REQUIRE_DIGIT", true),
				RequireSymbol: getEnvAsBool("PASSWORD_REQUIRE_SYMBOL", false),
			},
			StateBackend:           strings.ToLower(getEnv("AUTH_STATE_BACKEND", "redis")),
			PurgeIntervalMinutes:   getEnvAsInt("REFRESH_TOKEN_PURGE_INTERVAL_MINUTES", 60),
			AllowAdminRegistration: getEnvAsBool("ALLOW_ADMIN_REGISTRATION", false),
		},
		RateLimit: RateLimitConfig{
			PerMinute:     getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			Backend:       strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "redis")),
		},
		Gateway: GatewayConfig{
			EventIngestionURL:      getEnv("EVENT_INGESTION_URL", "http://localhost:8001"),
			AlertRulesEngineURL:    getEnv("ALERT_RULES_ENGINE_URL", "http://localhost:8002"),
			QueryAnalyticsURL:      getEnv("QUERY_ANALYTICS_URL", "http://localhost:8003"),
			UserManagementURL:      getEnv("USER_MANAGEMENT_URL", "http://localhost:8004"),
			UpstreamTimeoutSeconds: getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", 10),
			MaxInFlightPerUpstream: getEnvAsInt("UPSTREAM_MAX_IN_FLIGHT", 64),
			MaxResponseBytes:       int64(getEnvAsInt("UPSTREAM_MAX_RESPONSE_BYTES", 10<<20)),
			RetryPolicy:            strings.ToLower(getEnv("UPSTREAM_RETRY_POLICY", "none")),
			RetryAttempts:          getEnvAsInt("UPSTREAM_RETRY_ATTEMPTS", 2),
			RetryBackoffMillis:     getEnvAsInt("UPSTREAM_RETRY_BACKOFF_MS", 100),
		},
		CORS: CORSConfig{
			Origins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,https://smart-retail-frontend.onrender.com")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the auth and gateway cores cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY must not be empty"))
	}
	switch c.Auth.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("unsupported JWT_ALGORITHM %q", c.Auth.JWTAlgorithm))
	}
	if c.Auth.AccessTokenTTLMinutes <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION_MINUTES must be positive"))
	}
	if c.Auth.RefreshTokenTTLDays <= 0 {
		errs = append(errs, errors.New("JWT_REFRESH_EXPIRATION_DAYS must be positive"))
	} else if c.Auth.RefreshTokenTTL() < c.Auth.AccessTokenTTL() {
		errs = append(errs, errors.New("refresh tokens must outlive access tokens"))
	}
	switch c.Auth.PasswordAlgorithm {
	case "argon2id", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("unsupported PASSWORD_HASH_ALGORITHM %q", c.Auth.PasswordAlgorithm))
	}
	if !validBackend(c.Auth.StateBackend) {
		errs = append(errs, fmt.Errorf("unsupported AUTH_STATE_BACKEND %q", c.Auth.StateBackend))
	}
	if c.RateLimit.PerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.RateLimit.WindowSeconds <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW_SECONDS must be positive"))
	}
	if !validBackend(c.RateLimit.Backend) {
		errs = append(errs, fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimit.Backend))
	}
	switch c.Gateway.RetryPolicy {
	case "none":
	case "fixed":
		if c.Gateway.RetryBackoffMillis <= 0 {
			errs = append(errs, errors.New("UPSTREAM_RETRY_BACKOFF_MS must be positive for fixed retries"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported UPSTREAM_RETRY_POLICY %q", c.Gateway.RetryPolicy))
	}
	if c.Gateway.MaxInFlightPerUpstream <= 0 {
		errs = append(errs, errors.New("UPSTREAM_MAX_IN_FLIGHT must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the access token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (a AuthConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(a.RefreshTokenTTLDays) * 24 * time.Hour
}

// PurgeInterval is how often expired refresh tokens are deleted; zero disables it.
func (a AuthConfig) PurgeInterval() time.Duration {
	return time.Duration(a.PurgeIntervalMinutes) * time.Minute
}

// Window returns the fixed window length.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// UpstreamTimeout returns the per-call upstream deadline.
func (g GatewayConfig) UpstreamTimeout() time.Duration {
	return time.Duration(g.UpstreamTimeoutSeconds) * time.Second
}

// RetryBackoff returns the delay between retry attempts.
func (g GatewayConfig) RetryBackoff() time.Duration {
	return time.Duration(g.RetryBackoffMillis) * time.Millisecond
}

func validBackend(b string) bool {
	return b == "redis" || b == "memory"
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
