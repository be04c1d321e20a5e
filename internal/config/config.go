package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiAPIVersion string
	FastModel        string
	ProModel         string
	TextModel        string
	TierPolicy       string

	LogLevel string
	Debug    bool

	PreferIPv4     bool
	HTTPTimeout    time.Duration
	RequestTimeout time.Duration

	StatusInterval time.Duration
	MaxHistory     int
	SessionIdleTTL time.Duration
	CatalogPath    string

	BrandName      string
	WatermarkLabel string

	ExportPrefix string
	ExportDir    string
	S3           S3Config

	PrefsPath string

	WebAddr     string
	CORSOrigins []string

	TelegramToken      string
	BotGuest           bool
	MaxConcurrent      int
	MediaGroupDebounce time.Duration

	OTLPEndpoint   string
	MetricInterval time.Duration
}

type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	KeyPrefix    string
	UsePathStyle bool
}

func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

func Load() (Config, error) {
	cfg := Config{
		GeminiAPIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:    strings.TrimSpace(getEnv("GEMINI_BASE_URL", "")),
		GeminiAPIVersion: strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		FastModel:        getEnv("GEMINI_MODEL_FAST", "gemini-2.5-flash-image"),
		ProModel:         getEnv("GEMINI_MODEL_PRO", "gemini-3-pro-image-preview"),
		TextModel:        getEnv("GEMINI_MODEL_TEXT", "gemini-2.5-flash"),
		TierPolicy:       strings.ToLower(getEnv("TIER_POLICY", "auto")),

		LogLevel: strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:    getEnvBool("DEBUG", false),

		PreferIPv4:     getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:    time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 180)) * time.Second,

		StatusInterval: time.Duration(getEnvInt("STATUS_INTERVAL_MS", 2500)) * time.Millisecond,
		MaxHistory:     getEnvInt("MAX_HISTORY", 20),
		SessionIdleTTL: time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 120)) * time.Minute,
		CatalogPath:    getEnv("CATALOG_PATH", ""),

		BrandName:      getEnv("BRAND_NAME", "Nicrolabs.AI"),
		WatermarkLabel: getEnv("WATERMARK_LABEL", "DEMO MODE"),

		ExportPrefix: getEnv("EXPORT_PREFIX", "nicrolabs-ai"),
		ExportDir:    getEnv("EXPORT_DIR", "exports"),
		S3: S3Config{
			Bucket:       getEnv("EXPORT_S3_BUCKET", ""),
			Region:       getEnv("EXPORT_S3_REGION", "auto"),
			Endpoint:     getEnv("EXPORT_S3_ENDPOINT", ""),
			AccessKey:    getEnv("EXPORT_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("EXPORT_S3_SECRET_KEY", ""),
			KeyPrefix:    getEnv("EXPORT_S3_PREFIX", ""),
			UsePathStyle: getEnvBool("EXPORT_S3_PATH_STYLE", true),
		},

		PrefsPath: getEnv("PREFS_PATH", ""),

		WebAddr:     getEnv("WEB_ADDR", ":8080"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		BotGuest:           getEnvBool("BOT_GUEST", true),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricInterval: time.Duration(getEnvInt("OTEL_METRIC_INTERVAL_SECONDS", 30)) * time.Second,
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, errors.New("GEMINI_API_KEY is required")
	}
	switch cfg.TierPolicy {
	case "auto", "fast", "pro":
	default:
		return Config{}, fmt.Errorf("TIER_POLICY must be auto, fast or pro, got %q", cfg.TierPolicy)
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxHistory < 1 {
		cfg.MaxHistory = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 2500 * time.Millisecond
	}
	if cfg.MediaGroupDebounce <= 0 {
		cfg.MediaGroupDebounce = 1200 * time.Millisecond
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
