package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration of the pharmastore service.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Database. DB_DSN wins over the individual fields.
	DBDSN      string `env:"DB_DSN"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"pharmastore"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Generative AI, any OpenAI-compatible endpoint
	AIAPIKey        string   `env:"AI_API_KEY"`
	AIBaseURL       string   `env:"AI_BASE_URL"`
	AIModel         string   `env:"AI_MODEL" envDefault:"gemini-2.0-flash"`
	AIAllowedModels []string `env:"AI_ALLOWED_MODELS" envSeparator:"," envDefault:"gemini-2.0-flash,gemini-1.5-flash,gemini-1.5-pro"`

	// Images
	ImageSearchURL      string        `env:"IMAGE_SEARCH_URL" envDefault:"http://localhost:5000"`
	ImageScraperEnabled bool          `env:"IMAGE_SCRAPER_ENABLED" envDefault:"true"`
	ImageCacheSize      int           `env:"IMAGE_CACHE_SIZE" envDefault:"1024"`
	LivenessTimeout     time.Duration `env:"LIVENESS_TIMEOUT" envDefault:"5s"`

	// Sheets
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`
	SheetsExportBase      string `env:"SHEETS_EXPORT_BASE"`
	MaxUploadBytes        int64  `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	// Run lock, enabled when REDIS_ADDR is set
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RunLockTTL    time.Duration `env:"RUN_LOCK_TTL" envDefault:"2m"`

	// Run summary email, enabled when SMTP_HOST is set
	SMTPHost string `env:"SMTP_HOST"`
	SMTPPort int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	SMTPFrom string `env:"SMTP_FROM"`

	// Quotas and retries
	QuotaDaily    int64         `env:"QUOTA_DAILY" envDefault:"250"`
	QuotaMonthly  int64         `env:"QUOTA_MONTHLY" envDefault:"4000"`
	QuotaTimezone string        `env:"QUOTA_TIMEZONE" envDefault:"Africa/Cairo"`
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"5"`
	RetryDelay    time.Duration `env:"RETRY_DELAY" envDefault:"2s"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.AIAPIKey = strings.TrimSpace(cfg.AIAPIKey)
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DBDSN); dsn != "" {
		return dsn
	}
	return "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword +
		" dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=" + c.DBSSLMode
}

// Location is the time zone quota windows are computed in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}
