package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// DefaultTypingInterval refreshes the indicator before Telegram's 5s expiry.
const DefaultTypingInterval = 4 * time.Second

// ChatActionSender is the part of *bot.Bot used to show chat actions.
type ChatActionSender interface {
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// KeepTyping shows the typing indicator in chatID until ctx is done.
func KeepTyping(ctx context.Context, sender ChatActionSender, log *slog.Logger, chatID int64, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := sender.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.DebugContext(ctx, "Typing action failed", "error", err, "chat_id", chatID)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
