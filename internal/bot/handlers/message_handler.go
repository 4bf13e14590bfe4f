package handlers

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/chat"
	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/pipeline"
)

// replyTimeout bounds one run from submission to delivery.
const replyTimeout = 2 * time.Minute

type action int

const (
	actionIgnore action = iota
	actionObserve
	actionRun
)

func (a action) String() string {
	switch a {
	case actionObserve:
		return "observe"
	case actionRun:
		return "run"
	default:
		return "ignore"
	}
}

// NewMessageHandler returns the default handler for every non-command
// message. Messages in served chats are recorded as context; the pipeline
// runs when the bot is mentioned or replied to.
//
// The handler must run synchronously so that chat lanes see updates in the
// order Telegram delivered them. Replies are delivered asynchronously.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil {
		return
	}

	tg := h.deps.Config.Telegram
	kind, act := route(msg, tg)
	switch act {
	case actionIgnore:
		log.DebugContext(ctx, "Ignoring message", "chat_id", msg.Chat.ID, "chat_type", msg.Chat.Type, "message_id", msg.ID)
		return
	case actionObserve:
		h.deps.Pipeline.Observe(normalize(msg, kind, tg))
		return
	}

	m := normalize(msg, kind, tg)
	log.InfoContext(ctx, "Assistant triggered", "chat_id", m.ChatID, "message_id", m.MessageID, "user_id", m.UserID, "chat_kind", kind)

	runCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	results := h.deps.Pipeline.Submit(runCtx, m)

	h.track(func() {
		defer cancel()
		h.deliver(ctx, runCtx, b, m, results)
	})
}

func (h messageHandler) track(fn func()) {
	if h.deps.Deliveries == nil {
		go fn()
		return
	}
	h.deps.Deliveries.Add(1)
	go func() {
		defer h.deps.Deliveries.Done()
		fn()
	}()
}

// deliver waits for the pipeline result and sends the reply or a fallback.
// parent is the listener context; its cancellation means shutdown.
func (h messageHandler) deliver(parent, ctx context.Context, b *bot.Bot, m chat.Message, results <-chan pipeline.Result) {
	log := h.deps.Logger.With("handler", "message", "chat_id", m.ChatID, "message_id", m.MessageID)

	typingCtx, stopTyping := context.WithCancel(ctx)
	typingDone := make(chan struct{})
	go func() {
		defer close(typingDone)
		KeepTyping(typingCtx, b, log, m.ChatID, DefaultTypingInterval)
	}()

	var res pipeline.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		res.Err = &pipeline.Error{
			Stage:     pipeline.StageQueue,
			ChatID:    m.ChatID,
			MessageID: m.MessageID,
			Err:       &backend.Error{Kind: backend.KindTimeout, Err: ctx.Err()},
		}
	}
	stopTyping()
	<-typingDone

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendMessageTimeout)
	defer cancel()

	if res.Err != nil {
		if parent.Err() != nil {
			log.InfoContext(sendCtx, "Dropping reply during shutdown", "error", res.Err)
			return
		}
		text := h.deps.Config.Messages.GeneralError
		if pipeline.IsTimeout(res.Err) {
			text = h.deps.Config.Messages.Timeout
		}
		log.WarnContext(sendCtx, "Sending fallback reply", "kind", pipeline.ErrorKind(res.Err), "error", res.Err)
		if _, err := b.SendMessage(sendCtx, &bot.SendMessageParams{
			ChatID:          m.ChatID,
			Text:            text,
			ReplyParameters: &models.ReplyParameters{MessageID: m.MessageID},
		}); err != nil {
			log.ErrorContext(sendCtx, "Failed to send fallback reply", "error", err)
		}
		return
	}

	text := formatReply(res.Reply)
	params := &bot.SendMessageParams{
		ChatID:          m.ChatID,
		Text:            text,
		ReplyParameters: &models.ReplyParameters{MessageID: m.MessageID},
	}
	if markup := keyboard(res.Reply.Layout); markup != nil {
		params.ReplyMarkup = markup
	}

	sent, err := b.SendMessage(sendCtx, params)
	if err != nil {
		log.ErrorContext(sendCtx, "Failed to send reply", "run_id", res.Reply.RunID, "error", err)
		return
	}
	log.InfoContext(sendCtx, "Sent reply",
		"run_id", res.Reply.RunID,
		"reply_id", sent.ID,
		"buttons", res.Reply.Layout.Count(),
		"degraded", res.Reply.Degraded)

	var botID int64
	if sent.From != nil {
		botID = sent.From.ID
	}
	h.deps.Pipeline.Observe(chat.Message{
		ChatID:           m.ChatID,
		UserID:           botID,
		MessageID:        sent.ID,
		Text:             text,
		Timestamp:        time.Unix(int64(sent.Date), 0).UTC(),
		FromAssistant:    true,
		ReplyToMessageID: m.MessageID,
		ChatKind:         m.ChatKind,
	})
}

// route classifies msg and decides whether it is ignored, only recorded, or
// answered.
func route(msg *models.Message, tg config.TelegramConfig) (chat.Kind, action) {
	if msg.From == nil || strings.TrimSpace(messageText(msg)) == "" {
		return "", actionIgnore
	}
	if tg.BotInfo != nil && msg.From.ID == tg.BotInfo.ID {
		return "", actionIgnore
	}
	fromTarget := isFromTarget(msg, tg.TargetBotUsername)

	switch msg.Chat.Type {
	case models.ChatTypePrivate:
		if !tg.AllowPrivateMessages || fromTarget {
			return chat.KindPrivate, actionIgnore
		}
		return chat.KindPrivate, actionRun

	case models.ChatTypeGroup, models.ChatTypeSupergroup:
		if !tg.AllowsGroup(msg.Chat.ID) {
			return chat.KindGroup, actionIgnore
		}
		kind := chat.KindGroup
		if isChannelComment(msg) {
			if !tg.MonitorChannelComments {
				return chat.KindChannel, actionIgnore
			}
			kind = chat.KindChannel
		}
		if fromTarget || !addressesBot(msg, tg.BotInfo) {
			return kind, actionObserve
		}
		return kind, actionRun
	}
	return "", actionIgnore
}

// normalize converts a Telegram message into a context window entry.
func normalize(msg *models.Message, kind chat.Kind, tg config.TelegramConfig) chat.Message {
	m := chat.Message{
		ChatID:        msg.Chat.ID,
		MessageID:     msg.ID,
		Text:          messageText(msg),
		Timestamp:     time.Unix(int64(msg.Date), 0).UTC(),
		FromTargetBot: isFromTarget(msg, tg.TargetBotUsername),
		ChatKind:      kind,
	}
	if msg.From != nil {
		m.UserID = msg.From.ID
		m.FromAssistant = tg.BotInfo != nil && msg.From.ID == tg.BotInfo.ID
	}
	if msg.ReplyToMessage != nil {
		m.ReplyToMessageID = msg.ReplyToMessage.ID
	}
	return m
}

func messageText(msg *models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func isFromTarget(msg *models.Message, target string) bool {
	return msg.From != nil && msg.From.IsBot && target != "" && strings.EqualFold(msg.From.Username, target)
}

// isChannelComment reports whether msg belongs to the comment thread of a
// channel post forwarded into its discussion group.
func isChannelComment(msg *models.Message) bool {
	if msg.IsAutomaticForward {
		return true
	}
	return msg.ReplyToMessage != nil && msg.ReplyToMessage.IsAutomaticForward
}

// addressesBot reports whether msg mentions the bot or replies to one of its
// messages.
func addressesBot(msg *models.Message, me *models.User) bool {
	if me == nil {
		return false
	}
	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.ID == me.ID {
		return true
	}
	for _, e := range append(msg.Entities, msg.CaptionEntities...) {
		if e.Type == models.MessageEntityTypeTextMention && e.User != nil && e.User.ID == me.ID {
			return true
		}
	}
	if me.Username == "" {
		return false
	}
	mention := "@" + me.Username
	for _, w := range strings.Fields(messageText(msg)) {
		if strings.EqualFold(strings.TrimRightFunc(w, unicode.IsPunct), mention) {
			return true
		}
	}
	return false
}
