// Package config loads engine configuration from the environment, following
// the same godotenv + getEnv idiom the mail app backend uses.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	DataDir          string
	IndexingWorkers  int
	EmbeddingWorkers int
	OllamaBaseURL    string
	OllamaModel      string
	EmbedModel       string
	EncryptionKey    string
	LogLevel         string
	OAuthRefreshMargin time.Duration
	GoogleClientID     string
	GoogleClientSecret string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8787"),
		DataDir:            getEnv("MAILENGINE_DATA_DIR", ""),
		IndexingWorkers:    getEnvInt("INDEXING_WORKERS", 4),
		EmbeddingWorkers:   getEnvInt("EMBEDDING_WORKERS", 2),
		OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:        getEnv("OLLAMA_MODEL", "lfm2.5-1.2b"),
		EmbedModel:         getEnv("EMBED_MODEL", "nomic-embed-text"),
		EncryptionKey:      getEnv("MAILENGINE_ENCRYPTION_KEY", "change-me-32-byte-key-please!!!"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		OAuthRefreshMargin: getEnvDuration("OAUTH_REFRESH_MARGIN", 60*time.Second),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
