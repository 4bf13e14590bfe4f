package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSender struct {
	mu      sync.Mutex
	actions []*bot.SendChatActionParams
	err     error
}

func (r *recordingSender) SendChatAction(_ context.Context, params *bot.SendChatActionParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, params)
	return r.err == nil, r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func TestKeepTypingRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		KeepTyping(ctx, sender, slog.New(slog.NewTextHandler(io.Discard, nil)), 42, 10*time.Millisecond)
	}()

	assert.Eventually(t, func() bool { return sender.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.NotEmpty(t, sender.actions)
	assert.Equal(t, int64(42), sender.actions[0].ChatID)
	assert.Equal(t, models.ChatActionTyping, sender.actions[0].Action)
}

func TestKeepTypingSurvivesErrors(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{err: errors.New("forbidden")}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	KeepTyping(ctx, sender, slog.New(slog.NewTextHandler(io.Discard, nil)), 1, 5*time.Millisecond)
	assert.Greater(t, sender.count(), 1)
}
