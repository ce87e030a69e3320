package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	DatabasePath string
	ManifestPath string

	// LLM gateway
	LLMBaseURL           string
	LLMAPIKey            string
	LLMModel             string
	LLMMaxRetries        int
	LLMRequestsPerSecond float64
	// Nil when LLM_TEMPERATURE is not set, so the gateway can tell an
	// explicit 0 apart from unset.
	LLMTemperature *float64

	// Generation
	MaxGenerationAttempts int
	DryRunEnabled         bool

	// Execution
	BlockTimeout     time.Duration
	WorkflowTimeout  time.Duration
	MaxParallelNodes int

	AllowedOrigins string
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "3001"),
		DatabasePath: getEnv("DATABASE_PATH", "./blockforge.db"),
		ManifestPath: getEnv("CAPABILITY_MANIFEST", "./capabilities.yaml"),

		LLMBaseURL:           getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:            getEnv("LLM_API_KEY", ""),
		LLMModel:             getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxRetries:        getIntEnv("LLM_MAX_RETRIES", 3),
		LLMRequestsPerSecond: getFloatEnv("LLM_REQUESTS_PER_SECOND", 2.0),
		LLMTemperature:       getOptionalFloatEnv("LLM_TEMPERATURE"),

		MaxGenerationAttempts: getIntEnv("MAX_GENERATION_ATTEMPTS", 3),
		DryRunEnabled:         getBoolEnv("DRY_RUN_ENABLED", true),

		BlockTimeout:     time.Duration(getIntEnv("BLOCK_TIMEOUT_SECONDS", 60)) * time.Second,
		WorkflowTimeout:  time.Duration(getIntEnv("WORKFLOW_TIMEOUT_SECONDS", 600)) * time.Second,
		MaxParallelNodes: getIntEnv("MAX_PARALLEL_NODES", 8),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getOptionalFloatEnv(key string) *float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return &parsed
		}
	}
	return nil
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
