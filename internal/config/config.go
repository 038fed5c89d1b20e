// Package config はアプリケーション設定を提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Fetch
	FetchTimeout       time.Duration
	ProbeTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int

	// Pipeline
	GatherFactor       int           // limitに対する候補収集の倍率
	RelevanceFloor     float64       // 採用に必要な最低関連度スコア
	QualityFloor       float64       // 採用に必要な最低品質スコア
	StalenessWindow    time.Duration // この期間より古い投稿は鮮度切れとみなす
	EngagementOverride float64       // 鮮度切れでも採用するエンゲージメントシグナルの閾値
	RelevanceWeight    float64
	QualityWeight      float64
	EngagementDivisor  float64
	EngagementCap      float64
	QueryBoost         float64
	DiversityCap       int // 同一投稿者の最大採用数

	// API
	DefaultLimit int
	MaxLimit     int
	MaxQueryLen  int

	// Cache
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Refresh
	RefreshInterval time.Duration // 0以下でバックグラウンド更新を無効化
	RefreshLimit    int

	// Rate Limit
	RateLimitGeneral int
}

// Load は環境変数からConfigを読み込む。
// すべての項目にデフォルト値があるため、環境変数なしでも起動できる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", 5*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 3)

	cfg.GatherFactor = getEnvInt("GATHER_FACTOR", 2)
	cfg.RelevanceFloor = getEnvFloat("RELEVANCE_FLOOR", 2.0)
	cfg.QualityFloor = getEnvFloat("QUALITY_FLOOR", 1.0)
	cfg.StalenessWindow = getEnvDuration("STALENESS_WINDOW", 7*24*time.Hour)
	cfg.EngagementOverride = getEnvFloat("ENGAGEMENT_OVERRIDE", 100)
	cfg.RelevanceWeight = getEnvFloat("RELEVANCE_WEIGHT", 5.0)
	cfg.QualityWeight = getEnvFloat("QUALITY_WEIGHT", 3.0)
	cfg.EngagementDivisor = getEnvFloat("ENGAGEMENT_DIVISOR", 50)
	cfg.EngagementCap = getEnvFloat("ENGAGEMENT_CAP", 5.0)
	cfg.QueryBoost = getEnvFloat("QUERY_BOOST", 1.5)
	cfg.DiversityCap = getEnvInt("DIVERSITY_CAP", 2)

	cfg.DefaultLimit = getEnvInt("DEFAULT_LIMIT", 5)
	cfg.MaxLimit = getEnvInt("MAX_LIMIT", 25)
	cfg.MaxQueryLen = getEnvInt("MAX_QUERY_LEN", 200)

	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 8*time.Hour)
	cfg.CacheMaxEntries = getEnvInt("CACHE_MAX_ENTRIES", 100)

	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 4*time.Hour)
	cfg.RefreshLimit = getEnvInt("REFRESH_LIMIT", 10)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)

	return cfg, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
