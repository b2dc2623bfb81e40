package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the application.
type Config struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
	GroqAPIKey   string `yaml:"groq_api_key"`
	GroqModel    string `yaml:"groq_model"`

	// Telegram Config
	TelegramBotToken       string  `yaml:"telegram_bot_token"`
	TelegramWebhookURL     string  `yaml:"telegram_webhook_url"`
	TelegramAllowedUserIDs []int64 `yaml:"telegram_allowed_user_ids"`
	AdminTelegramID        int64   `yaml:"admin_telegram_id"`

	// Storage
	DatabasePath   string        `yaml:"database_path"`
	CatalogBackend string        `yaml:"catalog_backend"`
	CatalogDSN     string        `yaml:"catalog_dsn"`
	SessionBackend string        `yaml:"session_backend"`
	SessionDir     string        `yaml:"session_dir"`
	SessionTTL     time.Duration `yaml:"session_ttl"`

	// Resolution
	FuzzyThreshold     float64       `yaml:"fuzzy_threshold"`
	FuzzyLimit         int           `yaml:"fuzzy_limit"`
	DraftTTL           time.Duration `yaml:"draft_ttl"`
	RecognitionTimeout time.Duration `yaml:"recognition_timeout"`

	// HTTP
	Port         string `yaml:"port"`
	APIJWTSecret string `yaml:"api_jwt_secret"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		GeminiModel:        "gemini-2.0-flash",
		GroqModel:          "llama-3.3-70b-versatile",
		DatabasePath:       "data/food-diary.db",
		CatalogBackend:     "sqlite",
		SessionBackend:     "sqlite",
		SessionDir:         "data/sessions",
		SessionTTL:         72 * time.Hour,
		FuzzyThreshold:     0.3,
		FuzzyLimit:         5,
		DraftTTL:           24 * time.Hour,
		RecognitionTimeout: 60 * time.Second,
		Port:               "8080",
		LogLevel:           "info",
	}
}

// NewFromEnv creates a new Config from an optional .env file, an optional
// YAML file named by CONFIG_FILE and environment variables, in that order
// of increasing precedence.
func NewFromEnv() (*Config, error) {
	// .env is a convenience for local runs; its absence is fine.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}
	if cfg.CatalogBackend == "postgres" && cfg.CatalogDSN == "" {
		return nil, fmt.Errorf("CATALOG_DSN environment variable not set")
	}
	if cfg.CatalogBackend != "sqlite" && cfg.CatalogBackend != "postgres" {
		return nil, fmt.Errorf("unknown CATALOG_BACKEND %q", cfg.CatalogBackend)
	}
	if cfg.SessionBackend != "sqlite" && cfg.SessionBackend != "file" {
		return nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"SESSION_TTL", cfg.SessionTTL},
		{"DRAFT_TTL", cfg.DraftTTL},
		{"RECOGNITION_TIMEOUT", cfg.RecognitionTimeout},
	} {
		if d.value <= 0 {
			return nil, fmt.Errorf("invalid %s %s: must be positive", d.key, d.value)
		}
	}

	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.GeminiModel, "GEMINI_MODEL")
	setString(&c.GroqAPIKey, "GROQ_API_KEY")
	setString(&c.GroqModel, "GROQ_MODEL")
	setString(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.TelegramWebhookURL, "TELEGRAM_WEBHOOK_URL")
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.CatalogBackend, "CATALOG_BACKEND")
	setString(&c.CatalogDSN, "CATALOG_DSN")
	setString(&c.SessionBackend, "SESSION_BACKEND")
	setString(&c.SessionDir, "SESSION_DIR")
	setString(&c.Port, "PORT")
	setString(&c.APIJWTSecret, "API_JWT_SECRET")
	setString(&c.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
		}
		c.TelegramAllowedUserIDs = ids
	}
	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
		c.AdminTelegramID = id
	}
	if v := os.Getenv("FUZZY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f >= 1 {
			return fmt.Errorf("invalid FUZZY_THRESHOLD %q: must be between 0 and 1", v)
		}
		c.FuzzyThreshold = f
	}
	if v := os.Getenv("FUZZY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid FUZZY_LIMIT %q", v)
		}
		c.FuzzyLimit = n
	}

	for key, dst := range map[string]*time.Duration{
		"SESSION_TTL":         &c.SessionTTL,
		"DRAFT_TTL":           &c.DraftTTL,
		"RECOGNITION_TIMEOUT": &c.RecognitionTimeout,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// IsAllowed reports whether a Telegram user may talk to the bot. An empty
// allow-list admits everyone.
func (c *Config) IsAllowed(userID int64) bool {
	if len(c.TelegramAllowedUserIDs) == 0 {
		return true
	}
	for _, id := range c.TelegramAllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DataDir is the directory holding the database file.
func (c *Config) DataDir() string {
	return filepath.Dir(c.DatabasePath)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseIDList(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
