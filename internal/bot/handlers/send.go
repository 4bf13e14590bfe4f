package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/assistbot/internal/buttons"
	"github.com/edgard/assistbot/internal/pipeline"
)

const sendMessageTimeout = 10 * time.Second

// sendText sends a plain message and logs delivery failures.
func sendText(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send message", "error", err, "chat_id", chatID)
	}
}

// formatReply renders the reply text followed by one bullet per suggestion.
func formatReply(reply *pipeline.AssistantReply) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(reply.Text))
	first := true
	for _, s := range reply.Suggestions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if first {
			sb.WriteString("\n")
			first = false
		}
		sb.WriteString("\n• ")
		sb.WriteString(s)
	}
	return sb.String()
}

// keyboard converts a layout into a reply keyboard. Pressing a button sends
// its addressed command to the chat, so the button text is the command.
// It returns nil for an empty layout.
func keyboard(layout buttons.Layout) models.ReplyMarkup {
	if layout.Count() == 0 {
		return nil
	}
	rows := make([][]models.KeyboardButton, 0, len(layout))
	for _, row := range layout {
		kbRow := make([]models.KeyboardButton, 0, len(row))
		for _, btn := range row {
			kbRow = append(kbRow, models.KeyboardButton{Text: btn.Command})
		}
		rows = append(rows, kbRow)
	}
	return &models.ReplyKeyboardMarkup{
		Keyboard:       rows,
		ResizeKeyboard: true,
	}
}
