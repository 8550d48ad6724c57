package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Test duration for stress tests
	MaxGoroutines int           // Maximum producer/consumer goroutines
	Capacity      int           // Channel capacity under test
}

// getReliabilityConfig reads configuration from environment variables.
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:         getEnv("CHANZ_RELIABILITY_LEVEL", ""),
		Duration:      parseDuration(getEnv("CHANZ_RELIABILITY_DURATION", "10s")),
		MaxGoroutines: parseInt(getEnv("CHANZ_RELIABILITY_MAX_GOROUTINES", "64"), 64),
		Capacity:      parseInt(getEnv("CHANZ_RELIABILITY_CAPACITY", "8"), 8),
	}
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt parses integer from string with default fallback.
func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil {
		return value
	}
	return fallback
}

// parseDuration parses duration from string with default fallback.
func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 10 * time.Second
}
