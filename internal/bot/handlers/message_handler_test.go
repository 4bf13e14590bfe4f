package handlers

import (
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/assistbot/internal/buttons"
	"github.com/edgard/assistbot/internal/chat"
	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/pipeline"
)

var me = &models.User{ID: 1000, IsBot: true, Username: "BookHelperBot"}

func telegramConfig() config.TelegramConfig {
	return config.TelegramConfig{
		TargetBotUsername:      "FlibustaRuBot",
		MonitorChannelComments: true,
		BotInfo:                me,
	}
}

func groupMessage(text string) *models.Message {
	return &models.Message{
		ID:   10,
		Date: 1700000000,
		Chat: models.Chat{ID: -1001, Type: models.ChatTypeSupergroup},
		From: &models.User{ID: 5, Username: "reader"},
		Text: text,
	}
}

func TestRoute(t *testing.T) {
	t.Parallel()

	targetBot := &models.User{ID: 2000, IsBot: true, Username: "flibustarubot"}

	testCases := []struct {
		name   string
		msg    func() *models.Message
		tg     func(*config.TelegramConfig)
		kind   chat.Kind
		action action
	}{
		{
			name:   "plain group chatter is observed",
			msg:    func() *models.Message { return groupMessage("anyone read Dune?") },
			kind:   chat.KindGroup,
			action: actionObserve,
		},
		{
			name:   "mention triggers a run",
			msg:    func() *models.Message { return groupMessage("@BookHelperBot find me some fantasy") },
			kind:   chat.KindGroup,
			action: actionRun,
		},
		{
			name:   "mention is case insensitive and ignores punctuation",
			msg:    func() *models.Message { return groupMessage("hey @bookhelperbot, what now?") },
			kind:   chat.KindGroup,
			action: actionRun,
		},
		{
			name: "reply to the bot triggers a run",
			msg: func() *models.Message {
				m := groupMessage("and something shorter?")
				m.ReplyToMessage = &models.Message{ID: 9, From: me}
				return m
			},
			kind:   chat.KindGroup,
			action: actionRun,
		},
		{
			name: "text mention entity triggers a run",
			msg: func() *models.Message {
				m := groupMessage("Helper what next")
				m.Entities = []models.MessageEntity{{Type: models.MessageEntityTypeTextMention, Offset: 0, Length: 6, User: me}}
				return m
			},
			kind:   chat.KindGroup,
			action: actionRun,
		},
		{
			name: "target bot output is only observed",
			msg: func() *models.Message {
				m := groupMessage("Found 3 books @BookHelperBot")
				m.From = targetBot
				return m
			},
			kind:   chat.KindGroup,
			action: actionObserve,
		},
		{
			name: "own messages are ignored",
			msg: func() *models.Message {
				m := groupMessage("Try these")
				m.From = me
				return m
			},
			action: actionIgnore,
		},
		{
			name:   "empty text is ignored",
			msg:    func() *models.Message { return groupMessage("   ") },
			action: actionIgnore,
		},
		{
			name: "caption counts as text",
			msg: func() *models.Message {
				m := groupMessage("")
				m.Caption = "@BookHelperBot what is this book?"
				return m
			},
			kind:   chat.KindGroup,
			action: actionRun,
		},
		{
			name:   "group outside the allow list is ignored",
			msg:    func() *models.Message { return groupMessage("@BookHelperBot hi") },
			tg:     func(c *config.TelegramConfig) { c.GroupChatIDs = []int64{-42} },
			kind:   chat.KindGroup,
			action: actionIgnore,
		},
		{
			name: "channel comment thread",
			msg: func() *models.Message {
				m := groupMessage("@BookHelperBot similar books?")
				m.ReplyToMessage = &models.Message{ID: 3, IsAutomaticForward: true}
				return m
			},
			kind:   chat.KindChannel,
			action: actionRun,
		},
		{
			name: "channel comments can be disabled",
			msg: func() *models.Message {
				m := groupMessage("@BookHelperBot similar books?")
				m.ReplyToMessage = &models.Message{ID: 3, IsAutomaticForward: true}
				return m
			},
			tg:     func(c *config.TelegramConfig) { c.MonitorChannelComments = false },
			kind:   chat.KindChannel,
			action: actionIgnore,
		},
		{
			name: "private chat disabled by default",
			msg: func() *models.Message {
				m := groupMessage("hello")
				m.Chat = models.Chat{ID: 5, Type: models.ChatTypePrivate}
				return m
			},
			kind:   chat.KindPrivate,
			action: actionIgnore,
		},
		{
			name: "private chat runs when allowed",
			msg: func() *models.Message {
				m := groupMessage("hello")
				m.Chat = models.Chat{ID: 5, Type: models.ChatTypePrivate}
				return m
			},
			tg:     func(c *config.TelegramConfig) { c.AllowPrivateMessages = true },
			kind:   chat.KindPrivate,
			action: actionRun,
		},
		{
			name: "channel posts are ignored",
			msg: func() *models.Message {
				m := groupMessage("new arrivals")
				m.Chat = models.Chat{ID: -1002, Type: models.ChatTypeChannel}
				return m
			},
			action: actionIgnore,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tg := telegramConfig()
			if tc.tg != nil {
				tc.tg(&tg)
			}
			kind, act := route(tc.msg(), tg)
			assert.Equal(t, tc.action, act, "action %s", act)
			if tc.action != actionIgnore || tc.kind != "" {
				assert.Equal(t, tc.kind, kind)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	msg := groupMessage("line one\nline two")
	msg.ReplyToMessage = &models.Message{ID: 7}
	got := normalize(msg, chat.KindGroup, telegramConfig())

	assert.Equal(t, chat.Message{
		ChatID:           -1001,
		UserID:           5,
		MessageID:        10,
		Text:             "line one\nline two",
		Timestamp:        time.Unix(1700000000, 0).UTC(),
		ReplyToMessageID: 7,
		ChatKind:         chat.KindGroup,
	}, got)

	msg.From = &models.User{ID: 2000, IsBot: true, Username: "FlibustaRuBot"}
	assert.True(t, normalize(msg, chat.KindGroup, telegramConfig()).FromTargetBot)

	// A human who picked the same username is not the target bot.
	msg.From = &models.User{ID: 2001, Username: "FlibustaRuBot"}
	assert.False(t, normalize(msg, chat.KindGroup, telegramConfig()).FromTargetBot)
}

func TestFormatReply(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Here you go", formatReply(&pipeline.AssistantReply{Text: " Here you go "}))
	assert.Equal(t,
		"Try these\n\n• Search by author\n• Browse genres",
		formatReply(&pipeline.AssistantReply{
			Text:        "Try these",
			Suggestions: []string{"Search by author", " ", "Browse genres"},
		}))
}

func TestKeyboardUsesCommands(t *testing.T) {
	t.Parallel()

	assert.Nil(t, keyboard(nil))
	assert.Nil(t, keyboard(buttons.Layout{}))

	markup := keyboard(buttons.Layout{
		{{DisplayText: "Fantasy", Command: "@FlibustaRuBot fantasy"}, {DisplayText: "Random", Command: "/random@FlibustaRuBot"}},
		{{DisplayText: "Help", Command: "/help@FlibustaRuBot"}},
	})
	kb, ok := markup.(*models.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, kb.ResizeKeyboard)
	require.Len(t, kb.Keyboard, 2)
	assert.Equal(t, []models.KeyboardButton{{Text: "@FlibustaRuBot fantasy"}, {Text: "/random@FlibustaRuBot"}}, kb.Keyboard[0])
	assert.Equal(t, []models.KeyboardButton{{Text: "/help@FlibustaRuBot"}}, kb.Keyboard[1])
}

func TestExpandPlaceholders(t *testing.T) {
	t.Parallel()

	tg := telegramConfig()
	assert.Equal(t, "Mention @BookHelperBot to get @FlibustaRuBot commands",
		expandPlaceholders("Mention @botname to get @target commands", tg))

	tg.BotInfo = nil
	assert.Equal(t, "Mention @botname", expandPlaceholders("Mention @botname", tg))
}
