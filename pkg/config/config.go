package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	BaseURL   string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Gateway    GatewayConfig
	Enrollment EnrollmentConfig
	Documents  DocumentsConfig
	Cleanup    CleanupConfig
	Outbox     OutboxConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GatewayConfig holds the LigdiCash credentials and store identity sent with
// every checkout invoice.
type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	AuthToken    string
	StoreName    string
	StoreWebsite string
	Timeout      time.Duration
}

// EnrollmentConfig tunes the candidature and payment lifecycle.
type EnrollmentConfig struct {
	TokenTTL          time.Duration
	DraftExpiry       time.Duration
	StalePaymentAfter time.Duration
	MaxDraftsPerEmail int
}

// DocumentsConfig bounds candidature document uploads.
type DocumentsConfig struct {
	StorageDir      string
	MinSizeBytes    int64
	MaxSizeBytes    int64
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// CleanupConfig governs the background sweeps.
type CleanupConfig struct {
	Enabled  bool
	Interval time.Duration
}

// OutboxConfig tunes the notification dispatch queue.
type OutboxConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.BaseURL = v.GetString("BASE_URL")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Gateway = GatewayConfig{
		BaseURL:      v.GetString("GATEWAY_BASE_URL"),
		APIKey:       v.GetString("GATEWAY_API_KEY"),
		AuthToken:    v.GetString("GATEWAY_AUTH_TOKEN"),
		StoreName:    v.GetString("STORE_NAME"),
		StoreWebsite: v.GetString("STORE_WEBSITE"),
		Timeout:      parseDuration(v.GetString("GATEWAY_TIMEOUT"), 30*time.Second),
	}

	cfg.Enrollment = EnrollmentConfig{
		TokenTTL:          time.Duration(v.GetInt("TOKEN_TTL_DAYS")) * 24 * time.Hour,
		DraftExpiry:       time.Duration(v.GetInt("DRAFT_EXPIRY_DAYS")) * 24 * time.Hour,
		StalePaymentAfter: time.Duration(v.GetInt("STALE_PAYMENT_MINUTES")) * time.Minute,
		MaxDraftsPerEmail: v.GetInt("MAX_DRAFTS_PER_EMAIL"),
	}

	minDoc := v.GetInt64("MIN_DOCUMENT_SIZE_BYTES")
	if minDoc <= 0 {
		minDoc = 1024
	}
	maxDoc := v.GetInt64("MAX_DOCUMENT_SIZE_BYTES")
	if maxDoc <= 0 {
		maxDoc = 50 * 1024 * 1024
	}
	cfg.Documents = DocumentsConfig{
		StorageDir:      v.GetString("DOCUMENTS_STORAGE_DIR"),
		MinSizeBytes:    minDoc,
		MaxSizeBytes:    maxDoc,
		SignedURLSecret: v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Cleanup = CleanupConfig{
		Enabled:  v.GetBool("ENABLE_CLEANUP"),
		Interval: parseDuration(v.GetString("CLEANUP_INTERVAL"), 15*time.Minute),
	}

	cfg.Outbox = OutboxConfig{
		Workers:    v.GetInt("OUTBOX_WORKERS"),
		MaxRetries: v.GetInt("OUTBOX_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("OUTBOX_RETRY_DELAY"), 5*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gesco")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GATEWAY_BASE_URL", "https://app.ligdicash.com")
	v.SetDefault("GATEWAY_API_KEY", "")
	v.SetDefault("GATEWAY_AUTH_TOKEN", "")
	v.SetDefault("STORE_NAME", "GESCO")
	v.SetDefault("STORE_WEBSITE", "https://gesco.example.com")
	v.SetDefault("GATEWAY_TIMEOUT", "30s")

	v.SetDefault("TOKEN_TTL_DAYS", 30)
	v.SetDefault("DRAFT_EXPIRY_DAYS", 30)
	v.SetDefault("STALE_PAYMENT_MINUTES", 60)
	v.SetDefault("MAX_DRAFTS_PER_EMAIL", 3)

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./documents")
	v.SetDefault("MIN_DOCUMENT_SIZE_BYTES", 1024)
	v.SetDefault("MAX_DOCUMENT_SIZE_BYTES", 50*1024*1024)
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "30m")

	v.SetDefault("ENABLE_CLEANUP", true)
	v.SetDefault("CLEANUP_INTERVAL", "15m")

	v.SetDefault("OUTBOX_WORKERS", 2)
	v.SetDefault("OUTBOX_MAX_RETRIES", 3)
	v.SetDefault("OUTBOX_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
