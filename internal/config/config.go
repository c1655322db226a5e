// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds every tunable the service reads at startup.
type Config struct {
	Port        string
	Environment string

	RedisURL string

	GroqAPIKey        string
	GroqModel         string
	GroqRatePerMinute int

	OllamaBaseURL string
	OllamaModel   string

	BudgetLimitUSD      decimal.Decimal
	ResetTimeoutSeconds int

	AllowedOrigins []string

	RateLimitPerMinute int
	RateLimitBurst     int
}

// Load reads the environment and applies defaults. Call after godotenv has
// populated the process environment.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		RedisURL: getEnv("REDIS_URL", ""),

		GroqAPIKey:        getEnv("GROQ_API_KEY", ""),
		GroqModel:         getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqRatePerMinute: getEnvInt("GROQ_RATE_PER_MINUTE", 30),

		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "ollama/llama3.1:8b"),

		BudgetLimitUSD:      getEnvDecimal("AGENT_BUDGET_LIMIT_USD", decimal.RequireFromString("5.00")),
		ResetTimeoutSeconds: getEnvInt("BREAKER_RESET_TIMEOUT_SECONDS", 60),

		AllowedOrigins: []string{
			getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		},

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 300),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 30),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
