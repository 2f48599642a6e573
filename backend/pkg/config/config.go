package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	apperrors "kgchat/backend/pkg/errors"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendNeo4j  = "neo4j"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Persistence
	StoreBackend string
	SQLitePath   string
	BadgerDir    string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// AI
	LLMBaseURL string
	LLMAPIKey  string
	ModelID    string

	// Knowledge graph
	ContextLimit    int
	Extractor       string // regex or prose
	RelationOrder   string // insertion or weight
	CliqueWarnPairs int

	MetricsEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a Config from the current environment without validating it
func FromEnv() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", ""),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		SQLitePath:      getEnv("SQLITE_PATH", "kgchat.db"),
		BadgerDir:       getEnv("BADGER_DIR", "data/badger"),
		Neo4jURI:        getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:       getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:   getEnv("NEO4J_PASSWORD", "password"),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:       getEnv("LLM_API_KEY", ""),
		ModelID:         getEnv("MODEL_ID", "gpt-4o-mini"),
		ContextLimit:    getEnvInt("CONTEXT_LIMIT", 5),
		Extractor:       strings.ToLower(getEnv("EXTRACTOR", "regex")),
		RelationOrder:   strings.ToLower(getEnv("RELATION_ORDER", "insertion")),
		CliqueWarnPairs: getEnvInt("CLIQUE_WARN_PAIRS", 1000),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
	}
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Port == "" {
		return apperrors.NewConfigMissingRequired("PORT")
	}
	if c.ModelID == "" {
		return apperrors.NewConfigMissingRequired("MODEL_ID")
	}
	if c.LLMBaseURL == "" {
		return apperrors.NewConfigMissingRequired("LLM_BASE_URL")
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return apperrors.NewConfigMissingRequired("SQLITE_PATH")
		}
	case BackendBadger:
		if c.BadgerDir == "" {
			return apperrors.NewConfigMissingRequired("BADGER_DIR")
		}
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
	default:
		return apperrors.NewConfigValidationFailed("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.StoreBackend))
	}

	if c.Extractor != "regex" && c.Extractor != "prose" {
		return apperrors.NewConfigValidationFailed("EXTRACTOR", fmt.Sprintf("unknown extractor %q", c.Extractor))
	}
	if c.RelationOrder != "insertion" && c.RelationOrder != "weight" {
		return apperrors.NewConfigValidationFailed("RELATION_ORDER", fmt.Sprintf("unknown order %q", c.RelationOrder))
	}
	if c.ContextLimit < 0 {
		return apperrors.NewConfigValidationFailed("CONTEXT_LIMIT", "must not be negative")
	}
	// LLM API key is optional for local gateways
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
