package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Secrets have no defaults and must come from the environment or a .env file.
type AppConfig struct {
	AppPort        string
	DatabaseURL    string
	JWTSecret      string
	JWTTTL         time.Duration
	ServiceToken   string
	AllowedOrigins string
	PublicBaseURL  string

	// Redis stats cache; disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatsCacheTTL time.Duration

	InviteTTL          time.Duration
	CodeRetryLimit     int
	RateLimitPerMinute int

	LeaderboardSnapshotSize int
	LeaderboardRefresh      time.Duration

	// Cloudflare R2; snapshot export is skipped when any of these is empty
	R2AccountID    string
	R2AccessKey    string
	R2AccessSecret string
	R2Bucket       string

	LogLevel string
	LogPath  string
}

// R2Enabled reports whether every R2 credential is present.
func (c AppConfig) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKey != "" && c.R2AccessSecret != "" && c.R2Bucket != ""
}

// Load reads .env (if present) and the environment.
func Load() (AppConfig, error) {
	envErr := godotenv.Load()

	cfg := AppConfig{
		AppPort:        getEnv("APP_PORT", "5200"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTTTL:         time.Duration(getEnvAsInt("JWT_TTL_HOURS", 168)) * time.Hour,
		ServiceToken:   os.Getenv("SERVICE_TOKEN"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "https://hyrebuy.com"), "/"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		StatsCacheTTL: time.Duration(getEnvAsInt("STATS_CACHE_TTL_SECONDS", 60)) * time.Second,

		InviteTTL:          time.Duration(getEnvAsInt("INVITE_TTL_HOURS", 336)) * time.Hour,
		CodeRetryLimit:     getEnvAsInt("CODE_RETRY_LIMIT", 5),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),

		LeaderboardSnapshotSize: getEnvAsInt("LEADERBOARD_SNAPSHOT_SIZE", 100),
		LeaderboardRefresh:      time.Duration(getEnvAsInt("LEADERBOARD_REFRESH_MINUTES", 15)) * time.Minute,

		R2AccountID:    os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKey:    os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessSecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2Bucket:       os.Getenv("R2_BUCKET_NAME"),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPath:  os.Getenv("LOG_PATH"),
	}

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required (.env: %v)", envErr)
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
