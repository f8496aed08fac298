package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go-token-gate/internal/credential"
)

const (
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"

	minSecretBytes = 32
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	DatabaseURL             string
	DBMaxConns              int32
	DBMinConns              int32
	JWTSecret               string
	JWTAccessTTL            time.Duration
	JWTRefreshTTL           time.Duration
	LedgerBackend           string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	LedgerPruneInterval     time.Duration
	ReuseDetection          bool
	RevokeOnReuse           bool
	TrustProxyHeaders       bool
	CookieDomain            string
	CookiePath              string
	CookieSecure            bool
	CookieSameSite          string
	CORSOrigins             []string
	RateLimitRPM            int
	AuthRateLimitRPM        int
	ProviderHandoffSecret   string
	LogLevel                string
	LogFormat               string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 15*time.Second),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:              int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:              int32(getInt("DB_MIN_CONNS", 1)),
		JWTSecret:               strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAccessTTL:            getDuration("JWT_ACCESS_TTL", 10*time.Minute),
		JWTRefreshTTL:           getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		LedgerBackend:           strings.ToLower(getEnv("LEDGER_BACKEND", LedgerPostgres)),
		RedisAddr:               getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 getInt("REDIS_DB", 0),
		LedgerPruneInterval:     getDuration("LEDGER_PRUNE_INTERVAL", time.Hour),
		ReuseDetection:          getBool("REUSE_DETECTION", true),
		RevokeOnReuse:           getBool("REVOKE_ON_REUSE", false),
		TrustProxyHeaders:       getBool("TRUST_PROXY_HEADERS", false),
		CookieDomain:            strings.TrimSpace(os.Getenv("COOKIE_DOMAIN")),
		CookiePath:              getEnv("COOKIE_PATH", "/"),
		CookieSecure:            getBool("COOKIE_SECURE", true),
		CookieSameSite:          getEnv("COOKIE_SAMESITE", "strict"),
		CORSOrigins:             splitCSV(strings.TrimSpace(os.Getenv("CORS_ORIGINS"))),
		RateLimitRPM:            getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM:        getInt("AUTH_RATE_LIMIT_RPM", 20),
		ProviderHandoffSecret:   strings.TrimSpace(os.Getenv("PROVIDER_HANDOFF_SECRET")),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < minSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretBytes)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.JWTAccessTTL < time.Second || c.JWTRefreshTTL < time.Second {
		return fmt.Errorf("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be at least 1s")
	}

	if c.JWTRefreshTTL <= c.JWTAccessTTL {
		return fmt.Errorf("JWT_REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}

	switch c.LedgerBackend {
	case LedgerPostgres:
	case LedgerRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when LEDGER_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_BACKEND %q", c.LedgerBackend)
	}

	if c.LedgerPruneInterval < 0 {
		return fmt.Errorf("LEDGER_PRUNE_INTERVAL cannot be negative")
	}

	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS and DB_MAX_CONNS are inconsistent")
	}

	sameSite, err := credential.ParseSameSite(c.CookieSameSite)
	if err != nil {
		return fmt.Errorf("COOKIE_SAMESITE: %w", err)
	}
	if sameSite == http.SameSiteNoneMode && !c.CookieSecure {
		return fmt.Errorf("COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
	}

	return nil
}

// CredentialPolicy derives the cookie attributes for both credential slots.
func (c *Config) CredentialPolicy() credential.Policy {
	sameSite, err := credential.ParseSameSite(c.CookieSameSite)
	if err != nil {
		sameSite = http.SameSiteStrictMode
	}

	return credential.Policy{
		Domain:     c.CookieDomain,
		Path:       c.CookiePath,
		Secure:     c.CookieSecure,
		SameSite:   sameSite,
		AccessTTL:  c.JWTAccessTTL,
		RefreshTTL: c.JWTRefreshTTL,
	}
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
