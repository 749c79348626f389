package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	TokenStoreSame  = "same"
	TokenStoreRedis = "redis"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	StoreBackend      string
	TokenStoreBackend string
	DatabaseURL       string
	DBMaxConns        int32
	DBMinConns        int32
	RedisURL          string
	RedisKeyPrefix    string

	JWTAlgorithm string
	JWTAccessTTL time.Duration
	JWTIssuer    string

	PasswordSaltLength int
	Argon2Time         uint32
	Argon2MemoryKiB    uint32
	Argon2Threads      uint8
	Argon2KeyLength    uint32
	RefreshTokenBytes  int
	MinPasswordLength  int

	CookieSecure bool
	CookieMaxAge time.Duration

	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 15*time.Second),

		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		TokenStoreBackend: strings.ToLower(getEnv("TOKEN_STORE_BACKEND", TokenStoreSame)),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:        int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:        int32(getInt("DB_MIN_CONNS", 2)),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", "session-auth:rt:"),

		JWTAlgorithm: getEnv("JWT_ALGORITHM", "EdDSA"),
		JWTAccessTTL: getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTIssuer:    getEnv("JWT_ISSUER", "session-auth"),

		PasswordSaltLength: getInt("PASSWORD_SALT_LENGTH", 16),
		Argon2Time:         uint32(getInt("ARGON2_TIME", 2)),
		Argon2MemoryKiB:    uint32(getInt("ARGON2_MEMORY_KIB", 64*1024)),
		Argon2Threads:      uint8(getInt("ARGON2_THREADS", 2)),
		Argon2KeyLength:    uint32(getInt("ARGON2_KEY_LENGTH", 32)),
		RefreshTokenBytes:  getInt("REFRESH_TOKEN_BYTES", 32),
		MinPasswordLength:  getInt("MIN_PASSWORD_LENGTH", 1),

		CookieSecure: getBool("COOKIE_SECURE", false),
		CookieMaxAge: getDuration("COOKIE_MAX_AGE", 7*24*time.Hour),

		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:     getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM: getInt("AUTH_RATE_LIMIT_RPM", 10),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "pretty"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS/DB_MAX_CONNS are out of range (%d/%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreBackend)
	}

	switch c.TokenStoreBackend {
	case TokenStoreSame:
	case TokenStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when TOKEN_STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("TOKEN_STORE_BACKEND must be %q or %q, got %q", TokenStoreSame, TokenStoreRedis, c.TokenStoreBackend)
	}

	if c.JWTAccessTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be positive")
	}

	if c.PasswordSaltLength < 8 {
		return fmt.Errorf("PASSWORD_SALT_LENGTH must be at least 8")
	}

	if c.Argon2Time == 0 || c.Argon2MemoryKiB == 0 || c.Argon2Threads == 0 {
		return fmt.Errorf("ARGON2_TIME, ARGON2_MEMORY_KIB and ARGON2_THREADS must be positive")
	}

	if c.Argon2KeyLength < 16 {
		return fmt.Errorf("ARGON2_KEY_LENGTH must be at least 16")
	}

	if c.RefreshTokenBytes < 32 {
		return fmt.Errorf("REFRESH_TOKEN_BYTES must be at least 32")
	}

	if c.MinPasswordLength < 1 {
		return fmt.Errorf("MIN_PASSWORD_LENGTH must be at least 1")
	}

	if c.RateLimitRPM <= 0 || c.AuthRateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and AUTH_RATE_LIMIT_RPM must be positive")
	}

	return nil
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
