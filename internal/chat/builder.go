// Package chat keeps a bounded window of recent messages per chat and
// renders it into the text block sent to the backend.
package chat

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultCapacity = 10
	// TimestampLayout is used for every rendered line, always in UTC.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Kind is the type of chat a window belongs to.
type Kind string

const (
	KindGroup   Kind = "group"
	KindChannel Kind = "channel"
	KindPrivate Kind = "private"
)

// Message is a normalized incoming or outgoing chat message.
// ReplyToMessageID is zero when the message is not a reply.
type Message struct {
	ChatID           int64
	UserID           int64
	MessageID        int
	Text             string
	Timestamp        time.Time
	FromTargetBot    bool
	FromAssistant    bool
	ReplyToMessageID int
	ChatKind         Kind
}

// Role is the author role shown in the rendered context.
func (m Message) Role() string {
	switch {
	case m.FromAssistant:
		return "assistant"
	case m.FromTargetBot:
		return "target-bot"
	default:
		return "user " + strconv.FormatInt(m.UserID, 10)
	}
}

type window struct {
	kind     Kind
	messages []Message
}

// Builder owns one FIFO window per chat.
type Builder struct {
	mu       sync.Mutex
	capacity int
	maxChars int
	windows  map[int64]*window
}

// NewBuilder creates a Builder keeping capacity messages per chat. When
// maxChars is positive, Render drops the oldest lines until the block fits.
func NewBuilder(capacity, maxChars int) *Builder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Builder{
		capacity: capacity,
		maxChars: maxChars,
		windows:  make(map[int64]*window),
	}
}

// Capacity returns the per-chat window size.
func (b *Builder) Capacity() int { return b.capacity }

// Record appends msg to its chat window, evicting the oldest entry when full.
func (b *Builder) Record(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[msg.ChatID]
	if !ok {
		w = &window{kind: msg.ChatKind, messages: make([]Message, 0, b.capacity)}
		b.windows[msg.ChatID] = w
	}
	if len(w.messages) == b.capacity {
		copy(w.messages, w.messages[1:])
		w.messages = w.messages[:len(w.messages)-1]
	}
	w.messages = append(w.messages, msg)
}

// Messages returns a copy of the chat window, oldest first.
func (b *Builder) Messages(chatID int64) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[chatID]
	if !ok {
		return nil
	}
	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Len returns the number of messages in the chat window.
func (b *Builder) Len(chatID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.windows[chatID]; ok {
		return len(w.messages)
	}
	return 0
}

// Kind returns the chat kind recorded with the first message of the chat.
func (b *Builder) Kind(chatID int64) (Kind, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[chatID]
	if !ok {
		return "", false
	}
	return w.kind, true
}

// Chats returns the number of chats with a window.
func (b *Builder) Chats() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}

// Reset drops the chat window.
func (b *Builder) Reset(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, chatID)
}

// ChatIDs returns the ids of the chats with a window, in no particular order.
func (b *Builder) ChatIDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int64, 0, len(b.windows))
	for id := range b.windows {
		ids = append(ids, id)
	}
	return ids
}

// Prune evicts messages older than cutoff from the head of every window and
// drops windows that become empty. It returns the number of evicted messages.
func (b *Builder) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id := range b.windows {
		removed += b.pruneLocked(id, cutoff)
	}
	return removed
}

// PruneChat is Prune for a single chat.
func (b *Builder) PruneChat(chatID int64, cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pruneLocked(chatID, cutoff)
}

func (b *Builder) pruneLocked(chatID int64, cutoff time.Time) int {
	w, ok := b.windows[chatID]
	if !ok {
		return 0
	}
	n := 0
	for n < len(w.messages) && w.messages[n].Timestamp.Before(cutoff) {
		n++
	}
	if n == len(w.messages) {
		delete(b.windows, chatID)
		return n
	}
	w.messages = append(w.messages[:0], w.messages[n:]...)
	return n
}

// Render returns the chat window as one line per message, oldest first.
// The output depends only on the window contents.
func (b *Builder) Render(chatID int64) string {
	return RenderMessages(b.Messages(chatID), b.maxChars)
}

// RenderMessages renders msgs the way Builder.Render does.
func RenderMessages(msgs []Message, maxChars int) string {
	if len(msgs) == 0 {
		return ""
	}

	byID := make(map[int]Message, len(msgs))
	for _, m := range msgs {
		byID[m.MessageID] = m
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, renderLine(m, byID))
	}

	if maxChars > 0 {
		total := len(lines) - 1
		for _, l := range lines {
			total += len(l)
		}
		// The newest line is always kept.
		for total > maxChars && len(lines) > 1 {
			total -= len(lines[0]) + 1
			lines = lines[1:]
		}
	}
	return strings.Join(lines, "\n")
}

func renderLine(m Message, byID map[int]Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] #%d %s", m.Timestamp.UTC().Format(TimestampLayout), m.MessageID, m.Role())
	if m.ReplyToMessageID != 0 {
		if parent, ok := byID[m.ReplyToMessageID]; ok {
			fmt.Fprintf(&sb, " (reply to #%d %s)", parent.MessageID, parent.Role())
		}
	}
	sb.WriteString(": ")
	sb.WriteString(strings.Join(strings.Fields(m.Text), " "))
	return sb.String()
}
