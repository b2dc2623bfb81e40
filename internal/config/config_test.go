package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewFromEnv(t *testing.T) {
	// Each subtest sets its own variables; t.Setenv restores them afterwards.
	clearEnv := func(t *testing.T) {
		t.Helper()
		for _, key := range []string{"CONFIG_FILE", "GROQ_API_KEY", "CATALOG_BACKEND", "CATALOG_DSN", "SESSION_BACKEND", "FUZZY_THRESHOLD", "FUZZY_LIMIT", "PORT", "SESSION_TTL", "DRAFT_TTL", "RECOGNITION_TIMEOUT", "TELEGRAM_ALLOWED_USER_IDS", "ADMIN_TELEGRAM_ID"} {
			t.Setenv(key, "")
		}
	}

	t.Run("Success", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gemini_key")
		t.Setenv("GROQ_API_KEY", "groq_key")
		t.Setenv("TELEGRAM_ALLOWED_USER_IDS", "42, 7")
		t.Setenv("ADMIN_TELEGRAM_ID", "42")
		t.Setenv("DRAFT_TTL", "2h")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.GeminiAPIKey != "gemini_key" {
			t.Errorf("Expected GeminiAPIKey to be 'gemini_key', got '%s'", cfg.GeminiAPIKey)
		}
		if cfg.GroqAPIKey != "groq_key" {
			t.Errorf("Expected GroqAPIKey to be 'groq_key', got '%s'", cfg.GroqAPIKey)
		}
		if len(cfg.TelegramAllowedUserIDs) != 2 || cfg.TelegramAllowedUserIDs[1] != 7 {
			t.Errorf("Expected allowed IDs [42 7], got %v", cfg.TelegramAllowedUserIDs)
		}
		if cfg.AdminTelegramID != 42 {
			t.Errorf("Expected AdminTelegramID 42, got %d", cfg.AdminTelegramID)
		}
		if cfg.DraftTTL != 2*time.Hour {
			t.Errorf("Expected DraftTTL 2h, got %s", cfg.DraftTTL)
		}
		if cfg.FuzzyThreshold != 0.3 {
			t.Errorf("Expected default FuzzyThreshold 0.3, got %v", cfg.FuzzyThreshold)
		}
		if cfg.CatalogBackend != "sqlite" {
			t.Errorf("Expected default CatalogBackend 'sqlite', got '%s'", cfg.CatalogBackend)
		}
	})

	t.Run("MissingGeminiAPIKey", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "")
		os.Unsetenv("GEMINI_API_KEY")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GEMINI_API_KEY, got nil")
		}
		expectedError := "GEMINI_API_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("PostgresRequiresDSN", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gemini_key")
		t.Setenv("CATALOG_BACKEND", "postgres")
		t.Setenv("CATALOG_DSN", "")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing CATALOG_DSN, got nil")
		}
		expectedError := "CATALOG_DSN environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gemini_key")
		t.Setenv("FUZZY_THRESHOLD", "1.5")

		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for FUZZY_THRESHOLD out of range, got nil")
		}
	})

	t.Run("NonPositiveDurations", func(t *testing.T) {
		for _, tc := range []struct{ key, value string }{
			{"SESSION_TTL", "0s"},
			{"DRAFT_TTL", "-1h"},
			{"RECOGNITION_TIMEOUT", "0"},
		} {
			clearEnv(t)
			t.Setenv("GEMINI_API_KEY", "gemini_key")
			t.Setenv(tc.key, tc.value)

			_, err := NewFromEnv()
			if err == nil {
				t.Fatalf("Expected an error for %s=%s, got nil", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Errorf("Expected error to name %s, got '%s'", tc.key, err.Error())
			}
		}

		clearEnv(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("session_ttl: 0s\n"), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
		t.Setenv("CONFIG_FILE", path)
		t.Setenv("GEMINI_API_KEY", "gemini_key")
		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for session_ttl 0s in YAML, got nil")
		}
	})

	t.Run("YAMLOverlayWithEnvPrecedence", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		yamlData := "gemini_api_key: from_yaml\nfuzzy_limit: 9\nrecognition_timeout: 15s\nport: \"9000\"\n"
		if err := os.WriteFile(path, []byte(yamlData), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
		t.Setenv("CONFIG_FILE", path)
		t.Setenv("GEMINI_API_KEY", "")
		os.Unsetenv("GEMINI_API_KEY")
		t.Setenv("PORT", "9100")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.GeminiAPIKey != "from_yaml" {
			t.Errorf("Expected GeminiAPIKey from YAML, got '%s'", cfg.GeminiAPIKey)
		}
		if cfg.FuzzyLimit != 9 {
			t.Errorf("Expected FuzzyLimit 9, got %d", cfg.FuzzyLimit)
		}
		if cfg.RecognitionTimeout != 15*time.Second {
			t.Errorf("Expected RecognitionTimeout 15s, got %s", cfg.RecognitionTimeout)
		}
		if cfg.Port != "9100" {
			t.Errorf("Expected PORT from env to win, got '%s'", cfg.Port)
		}
	})
}

func TestIsAllowed(t *testing.T) {
	cfg := Default()
	if !cfg.IsAllowed(1) {
		t.Error("Expected empty allow-list to admit everyone")
	}
	cfg.TelegramAllowedUserIDs = []int64{5}
	if cfg.IsAllowed(1) || !cfg.IsAllowed(5) {
		t.Error("Expected allow-list to admit only user 5")
	}
}
