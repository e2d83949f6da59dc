package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jordanhubbard/quizhub/internal/llm"
	"github.com/jordanhubbard/quizhub/internal/llm/anthropic"
	"github.com/jordanhubbard/quizhub/internal/llm/gemini"
	"github.com/jordanhubbard/quizhub/internal/llm/openai"
	"github.com/jordanhubbard/quizhub/internal/store"
	"github.com/jordanhubbard/quizhub/internal/tracing"
)

// Default provider endpoints; override per environment if needed.
const (
	openaiBaseURL    = "https://api.openai.com"
	anthropicBaseURL = "https://api.anthropic.com"
	geminiBaseURL    = "https://generativelanguage.googleapis.com"
)

// OpenStore opens the SQLite store and runs migrations.
func OpenStore(ctx context.Context, cfg *Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// BuildRegistry registers an adapter per configured provider key. Model-name
// prefixes route publisher-configured models to the right provider.
func BuildRegistry(cfg *Config, log *slog.Logger) *llm.Registry {
	reg := llm.NewRegistry()
	if cfg.OpenAIKey != "" {
		a := openai.New("openai", cfg.OpenAIKey, openaiBaseURL)
		reg.RegisterChat(a, "gpt-", "o1", "o3", "chatgpt-")
		reg.RegisterEmbed(a, "text-embedding-")
		log.Info("registered llm provider", slog.String("provider", "openai"))
	}
	if cfg.AnthropicKey != "" {
		a := anthropic.New("anthropic", cfg.AnthropicKey, anthropicBaseURL)
		reg.RegisterChat(a, "claude-")
		log.Info("registered llm provider", slog.String("provider", "anthropic"))
	}
	if cfg.GeminiKey != "" {
		a := gemini.New("gemini", cfg.GeminiKey, geminiBaseURL)
		reg.RegisterChat(a, "gemini-")
		reg.RegisterEmbed(a, "gemini-embedding-", "text-embedding-004")
		log.Info("registered llm provider", slog.String("provider", "gemini"))
	}
	return reg
}

// SetupTracing initializes OTel export when enabled.
func SetupTracing(cfg *Config, serviceName string) (func(context.Context) error, error) {
	return tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: serviceName,
	})
}
