package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgard/assistbot/internal/config"
)

// New builds the transport selected by cfg.Provider and wraps it in a Client.
func New(ctx context.Context, cfg config.BackendConfig, logger *slog.Logger) (*Client, error) {
	var transport Transport
	switch cfg.Provider {
	case "", "openrouter":
		transport = NewOpenRouter(cfg.APIKey, cfg.BaseURL, nil)
	case "gemini":
		g, err := NewGemini(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		transport = g
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}

	client := NewClient(transport, Config{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}, logger)

	if logger != nil {
		logger.Info("Backend client initialized", "provider", cfg.Provider, "model", cfg.Model, "timeout", client.cfg.Timeout)
	}
	return client, nil
}
