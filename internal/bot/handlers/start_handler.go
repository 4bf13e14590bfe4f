package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/assistbot/internal/config"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	log.InfoContext(ctx, "Handling /start command", "chat_id", update.Message.Chat.ID, "user_id", update.Message.From.ID)
	sendText(ctx, b, log, update.Message.Chat.ID, expandPlaceholders(h.deps.Config.Messages.Welcome, h.deps.Config.Telegram))
}

// expandPlaceholders substitutes @botname and @target in configured texts.
func expandPlaceholders(text string, tg config.TelegramConfig) string {
	if tg.BotInfo != nil && tg.BotInfo.Username != "" {
		text = strings.ReplaceAll(text, "@botname", "@"+tg.BotInfo.Username)
	}
	if tg.TargetBotUsername != "" {
		text = strings.ReplaceAll(text, "@target", "@"+tg.TargetBotUsername)
	}
	return text
}
