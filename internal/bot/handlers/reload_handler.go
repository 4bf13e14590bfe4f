package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewReloadHandler returns a handler for the /reload command.
func NewReloadHandler(deps HandlerDeps) bot.HandlerFunc {
	return reloadHandler{deps}.Handle
}

type reloadHandler struct {
	deps HandlerDeps
}

func (h reloadHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "reload")
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Admin requested instruction reload", "chat_id", chatID, "user_id", update.Message.From.ID)

	if err := h.deps.Instructions.ReloadDefault(); err != nil {
		log.WarnContext(ctx, "Instruction reload failed", "error", err)
		sendText(ctx, b, log, chatID, h.deps.Config.Messages.ReloadFailed)
		return
	}

	snap := h.deps.Instructions.Current()
	log.InfoContext(ctx, "Instruction reloaded", "version", snap.Version, "length", len(snap.Text))
	sendText(ctx, b, log, chatID, h.deps.Config.Messages.Reloaded)
}
