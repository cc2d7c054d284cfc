package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 各コンポーネントには生成時に必要な値だけを渡し、処理中に環境変数を参照しない。
type Config struct {
	// Database
	DatabaseURL string

	// Trigger / Admin
	CronSecret string

	// OAuth state署名
	StateSecret string
	StateTTL    time.Duration

	// WHOOP
	WhoopClientID     string
	WhoopClientSecret string
	WhoopRedirectURL  string

	// Strava
	StravaClientID     string
	StravaClientSecret string
	StravaRedirectURL  string

	// Orangetheory
	OTFEncryptionKey []byte // 未設定の場合はnil
	OTFBaseURL       string
	ClassMarker      string

	// Sync
	SyncSchedule      string
	ProviderRateLimit float64
	ProviderTimeout   time.Duration

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
}

// LoadEnvFile は.envファイルが存在する場合に環境変数として読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合はエラーにしない。
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat env file %s: %w", p, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	required := []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"CRON_SECRET", &cfg.CronSecret},
		{"STATE_SECRET", &cfg.StateSecret},
		{"WHOOP_CLIENT_ID", &cfg.WhoopClientID},
		{"WHOOP_CLIENT_SECRET", &cfg.WhoopClientSecret},
		{"WHOOP_REDIRECT_URL", &cfg.WhoopRedirectURL},
		{"STRAVA_CLIENT_ID", &cfg.StravaClientID},
		{"STRAVA_CLIENT_SECRET", &cfg.StravaClientSecret},
		{"STRAVA_REDIRECT_URL", &cfg.StravaRedirectURL},
	}
	for _, r := range required {
		*r.dst = os.Getenv(r.key)
		if *r.dst == "" {
			missing = append(missing, r.key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// 暗号鍵は任意だが、設定されている場合は32バイトであること
	if raw := os.Getenv("OTF_ENCRYPTION_KEY"); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("OTF_ENCRYPTION_KEY must be base64: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("OTF_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.OTFEncryptionKey = key
	}

	// Optional fields with defaults
	cfg.StateTTL = getEnvDuration("STATE_TTL", 10*time.Minute)
	cfg.OTFBaseURL = getEnvString("OTF_BASE_URL", "https://api.orangetheory.co")
	cfg.ClassMarker = strings.ToLower(getEnvString("CLASS_MARKER", "orange"))
	cfg.SyncSchedule = getEnvString("SYNC_SCHEDULE", "@every 1h")
	cfg.ProviderRateLimit = getEnvFloat("PROVIDER_RATE_LIMIT", 2)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.ProviderRateLimit <= 0 {
		return nil, fmt.Errorf("PROVIDER_RATE_LIMIT must be positive, got %v", cfg.ProviderRateLimit)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
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

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
