// Package telegram creates the go-telegram bot client and registers the
// command handlers on it.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-telegram/bot"

	"github.com/edgard/assistbot/internal/bot/handlers"
)

// NewTelegramBot creates a new Telegram bot instance.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created")
	return b, nil
}

// applyMiddleware wraps handler so that the first middleware is the outermost.
func applyMiddleware(handler bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// RegisterHandlers registers the command handlers on b and publishes the
// command list shown by Telegram clients.
func RegisterHandlers(ctx context.Context, b *bot.Bot, logger *slog.Logger, registered map[string]handlers.RegisteredHandler) error {
	if b == nil {
		return fmt.Errorf("bot instance cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "handler_registry")

	keys := make([]string, 0, len(registered))
	for k := range registered {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h := registered[k]
		if h.Handler == nil {
			log.Warn("Skipping registration for nil handler", "pattern", h.Pattern)
			continue
		}
		b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, applyMiddleware(h.Handler, h.Middleware))
		log.Debug("Registered handler", "pattern", h.Pattern, "middleware_count", len(h.Middleware))
	}

	if _, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: handlers.BotCommands(registered)}); err != nil {
		log.Warn("Failed to publish bot commands", "error", err)
	}

	log.Info("Registered Telegram handlers", "count", len(registered))
	return nil
}
