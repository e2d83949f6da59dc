// Package app loads configuration from the environment and wires the shared
// components for the API server and worker binaries.
package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything both binaries read from the environment.
type Config struct {
	Port     int
	DBPath   string
	AdminKey string
	LogLevel string

	CORSOrigins []string

	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string

	PollInterval   time.Duration
	ConcurrentJobs int
	MetricsPort    int

	RateLimitPerSecond int
	RateLimitBurst     int

	OTelEnabled  bool
	OTelEndpoint string
}

// Load reads the environment into a Config with defaults applied. It does not
// validate; call ValidateServer or ValidateWorker for the binary in use.
func Load() *Config {
	return &Config{
		Port:               envInt("QUIZHUB_PORT", 8080),
		DBPath:             envStr("QUIZHUB_DB", "quizhub.db"),
		AdminKey:           os.Getenv("QUIZHUB_ADMIN_KEY"),
		LogLevel:           envStr("QUIZHUB_LOG_LEVEL", "info"),
		CORSOrigins:        envList("QUIZHUB_CORS_ORIGINS"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:       os.Getenv("ANTHROPIC_API_KEY"),
		GeminiKey:          os.Getenv("GEMINI_API_KEY"),
		PollInterval:       time.Duration(envInt("QUIZHUB_POLL_INTERVAL", 5)) * time.Second,
		ConcurrentJobs:     envInt("QUIZHUB_CONCURRENT_JOBS", 1),
		MetricsPort:        envInt("QUIZHUB_METRICS_PORT", 9091),
		RateLimitPerSecond: envInt("QUIZHUB_RATE_LIMIT", 20),
		RateLimitBurst:     envInt("QUIZHUB_RATE_LIMIT_BURST", 40),
		OTelEnabled:        envBool("QUIZHUB_OTEL_ENABLED"),
		OTelEndpoint:       envStr("QUIZHUB_OTEL_ENDPOINT", "localhost:4318"),
	}
}

// ValidateServer checks the settings the API server cannot start without.
func (c *Config) ValidateServer() error {
	if c.AdminKey == "" {
		return fmt.Errorf("QUIZHUB_ADMIN_KEY is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("QUIZHUB_DB is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("QUIZHUB_PORT %d out of range", c.Port)
	}
	return nil
}

// ValidateWorker checks the settings the worker cannot start without. At
// least one provider key must be present or every job would fail.
func (c *Config) ValidateWorker() error {
	if c.DBPath == "" {
		return fmt.Errorf("QUIZHUB_DB is required")
	}
	if c.OpenAIKey == "" && c.AnthropicKey == "" && c.GeminiKey == "" {
		return fmt.Errorf("at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY is required")
	}
	if c.ConcurrentJobs <= 0 {
		return fmt.Errorf("QUIZHUB_CONCURRENT_JOBS must be positive")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1" || v == "yes"
}

// envList parses a JSON array or a comma-separated list.
func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "[") {
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
