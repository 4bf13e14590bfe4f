// Package logger builds the process slog logger and the Telegram update
// logging middleware.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const previewLength = 50

// ParseLevel maps a config level name to a slog.Level. Unknown names map to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates the process logger writing to stdout and installs it as
// the slog default.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	logger := New(os.Stdout, levelStr, jsonOutput)
	slog.SetDefault(logger)
	return logger
}

// New creates a logger writing to w.
func New(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Middleware logs every incoming update with its chat and sender. Message
// text is only logged as a short preview at debug level.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			entry := log.With(updateAttrs(update)...)

			entry.DebugContext(ctx, "Processing update")
			next(ctx, b, update)
			entry.DebugContext(ctx, "Finished processing update", "duration", time.Since(start))
		}
	}
}

func updateAttrs(update *models.Update) []any {
	attrs := []any{"update_id", update.ID}

	var msg *models.Message
	kind := "other"
	switch {
	case update.Message != nil:
		msg, kind = update.Message, "message"
	case update.EditedMessage != nil:
		msg, kind = update.EditedMessage, "edited_message"
	case update.ChannelPost != nil:
		msg, kind = update.ChannelPost, "channel_post"
	case update.CallbackQuery != nil:
		kind = "callback_query"
		attrs = append(attrs, "user_id", update.CallbackQuery.From.ID)
		if m := update.CallbackQuery.Message.Message; m != nil {
			attrs = append(attrs, "chat_id", m.Chat.ID)
		} else if m := update.CallbackQuery.Message.InaccessibleMessage; m != nil {
			attrs = append(attrs, "chat_id", m.Chat.ID)
		}
	}
	attrs = append(attrs, "update_type", kind)

	if msg != nil {
		attrs = append(attrs,
			"chat_id", msg.Chat.ID,
			"chat_type", string(msg.Chat.Type),
			"message_id", msg.ID,
			"text_preview", Truncate(msg.Text, previewLength),
		)
		if msg.From != nil {
			attrs = append(attrs, "user_id", msg.From.ID, "from_bot", msg.From.IsBot)
		}
	}
	return attrs
}

// Truncate shortens s to at most maxLen runes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
