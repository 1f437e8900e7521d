package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージバックエンドの種別
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend string
	DatabaseURL    string
	DBMaxOpenConns int

	// Auth
	JWTSecret string
	JWTIssuer string

	// Rate Limit
	RateLimitGeneral int
	RateLimitWrite   int

	// Feed
	FeedPageSize    int
	FeedMaxPageSize int

	// Vote
	ScoreCacheTTL     time.Duration
	ScoreCacheMaxCost int64

	// Presence
	PresenceBuffer int
	WSPingInterval time.Duration

	// Giphy
	GiphyAPIKey  string
	GiphyTimeout time.Duration

	// Identity
	IdentityBreakerTimeout time.Duration

	// Worker
	PostRetentionDays int
	CleanupSchedule   string

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", StoragePostgres))
	if cfg.StorageBackend != StoragePostgres && cfg.StorageBackend != StorageMemory {
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND: %q", cfg.StorageBackend)
	}

	// インメモリ構成ではDATABASE_URLは不要
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StorageBackend == StoragePostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.FeedPageSize = getEnvInt("FEED_PAGE_SIZE", 20)
	cfg.FeedMaxPageSize = getEnvInt("FEED_MAX_PAGE_SIZE", 100)
	cfg.ScoreCacheTTL = getEnvDuration("SCORE_CACHE_TTL", 5*time.Minute)
	cfg.ScoreCacheMaxCost = getEnvInt64("SCORE_CACHE_MAX_COST", 100000)
	cfg.PresenceBuffer = getEnvInt("PRESENCE_BUFFER", 64)
	cfg.WSPingInterval = getEnvDuration("WS_PING_INTERVAL", 30*time.Second)
	cfg.GiphyAPIKey = getEnvString("GIPHY_API_KEY", "")
	cfg.GiphyTimeout = getEnvDuration("GIPHY_TIMEOUT", 5*time.Second)
	cfg.IdentityBreakerTimeout = getEnvDuration("IDENTITY_BREAKER_TIMEOUT", 30*time.Second)
	cfg.PostRetentionDays = getEnvInt("POST_RETENTION_DAYS", 30)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "0 4 * * *")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.FeedPageSize > cfg.FeedMaxPageSize {
		cfg.FeedPageSize = cfg.FeedMaxPageSize
	}

	return cfg, nil
}

// UsesMemoryStorage はインメモリストレージで動作する構成かどうかを返す。
func (c *Config) UsesMemoryStorage() bool {
	return c.StorageBackend == StorageMemory
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
