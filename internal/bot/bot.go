// Package bot wires the Telegram listener, the scheduler and the instruction
// watcher together and manages their lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/instruction"
	"github.com/edgard/assistbot/internal/pipeline"
)

// Bot owns the long-running components of the process.
type Bot struct {
	logger     *slog.Logger
	tgBot      *tgbot.Bot
	scheduler  *Scheduler
	watcher    *instruction.Watcher
	pipeline   *pipeline.Orchestrator
	backend    *backend.Client
	deliveries *sync.WaitGroup
}

// Components groups what NewBot needs. Watcher may be nil.
type Components struct {
	Telegram   *tgbot.Bot
	Scheduler  *Scheduler
	Watcher    *instruction.Watcher
	Pipeline   *pipeline.Orchestrator
	Backend    *backend.Client
	Deliveries *sync.WaitGroup
}

// NewBot creates a Bot from its components.
func NewBot(logger *slog.Logger, c Components) *Bot {
	deliveries := c.Deliveries
	if deliveries == nil {
		deliveries = &sync.WaitGroup{}
	}
	return &Bot{
		logger:     logger.With("component", "bot_orchestrator"),
		tgBot:      c.Telegram,
		scheduler:  c.Scheduler,
		watcher:    c.Watcher,
		pipeline:   c.Pipeline,
		backend:    c.Backend,
		deliveries: deliveries,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of them
// fails. Pending replies are delivered and chat lanes drained before it returns.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram bot listener")
		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram bot listener stopped")

		if gCtx.Err() == nil {
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if b.watcher != nil {
		g.Go(func() error {
			return b.watcher.Run(gCtx)
		})
	}

	err := g.Wait()
	b.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}
	b.logger.Info("Bot orchestrator stopped gracefully")
	return nil
}

func (b *Bot) shutdown() {
	b.deliveries.Wait()
	b.pipeline.Close()

	if b.backend != nil {
		stats := b.backend.Stats()
		b.logger.Info("Backend statistics",
			"attempts", stats.Attempts,
			"retries", stats.Retries,
			"shared", stats.Shared)
	}
}
