package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultGlobiBaseURL = "https://api.globalbioticinteractions.org"
	DefaultOpenAIModel  = "gpt-4.1"
)

var (
	ErrMissingOpenAIKey      = errors.New("OPENAI_API_KEY is required")
	ErrInvalidGlobiBaseURL   = errors.New("GLOBI_BASE_URL must be an absolute http(s) url")
	ErrInvalidExtractionTurn = errors.New("EXTRACTION_ATTEMPTS must be between 1 and 10")
)

type Config struct {
	AppEnv string

	OpenAI   OpenAIConfig
	Globi    GlobiConfig
	Server   ServerConfig
	HTTP     HTTPConfig
	Redis    RedisConfig
	DB       DBConfig
	Telegram TelegramConfig
	Rate     RateConfig
	Log      LogConfig
}

type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	ExtractionAttempts int
	BackoffBase        time.Duration
}

type GlobiConfig struct {
	BaseURL string
}

type ServerConfig struct {
	ListenAddr  string
	PublicURL   string
	HealthPath  string
	MetricsPath string

	// TrustProxyHeaders keys rate limiting on forwarded client addresses.
	TrustProxyHeaders bool
}

type HTTPConfig struct {
	ClientTimeout time.Duration
}

// RedisConfig is optional; an empty Addr disables rate limiting and update dedupe.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	UpdateTTL time.Duration
}

// DBConfig is optional; an empty DSN disables the run audit log.
type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type TelegramConfig struct {
	BotToken string
}

type RateConfig struct {
	PerHour int64
}

type LogConfig struct {
	Level string
}

// LoadDotEnv reads .env and then overlays .env.$APP_ENV, where APP_ENV may
// itself come from .env. Missing files are not an error.
func LoadDotEnv() string {
	_ = godotenv.Load(".env")
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "dev"
	}
	_ = godotenv.Overload(fmt.Sprintf(".env.%s", appEnv))
	return appEnv
}

// Load reads the full configuration needed to answer requests.
func Load() (*Config, error) {
	cfg, err := LoadWithoutModel()
	if err != nil {
		return nil, err
	}
	if cfg.OpenAI.APIKey == "" {
		return nil, ErrMissingOpenAIKey
	}
	return cfg, nil
}

// LoadWithoutModel is Load for commands that never call the model, so
// OPENAI_API_KEY may be absent.
func LoadWithoutModel() (*Config, error) {
	cfg := &Config{
		AppEnv: mustEnv("APP_ENV", "dev"),
		OpenAI: OpenAIConfig{
			APIKey:             mustEnv("OPENAI_API_KEY", ""),
			BaseURL:            mustEnv("OPENAI_BASE_URL", ""),
			Model:              mustEnv("OPENAI_MODEL", DefaultOpenAIModel),
			ExtractionAttempts: mustInt("EXTRACTION_ATTEMPTS", 3),
			BackoffBase:        mustDuration("OPENAI_BACKOFF_BASE", 400*time.Millisecond),
		},
		Globi: GlobiConfig{
			BaseURL: strings.TrimSuffix(mustEnv("GLOBI_BASE_URL", DefaultGlobiBaseURL), "/"),
		},
		Server: ServerConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", ":9999"),
			PublicURL:   mustEnv("PUBLIC_URL", "http://localhost:9999"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),

			TrustProxyHeaders: mustBool("TRUST_PROXY_HEADERS", false),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:      mustEnv("REDIS_ADDR", ""),
			Password:  mustEnv("REDIS_PASSWORD", ""),
			DB:        mustInt("REDIS_DB", 0),
			UpdateTTL: mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Telegram: TelegramConfig{
			BotToken: mustEnv("BOT_TOKEN", ""),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 60)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.OpenAI.ExtractionAttempts < 1 || cfg.OpenAI.ExtractionAttempts > 10 {
		return nil, ErrInvalidExtractionTurn
	}
	u, err := url.Parse(cfg.Globi.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidGlobiBaseURL
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
