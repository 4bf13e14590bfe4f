package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	tgbot "github.com/go-telegram/bot"
	"github.com/spf13/cobra"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/bot"
	"github.com/edgard/assistbot/internal/bot/handlers"
	"github.com/edgard/assistbot/internal/bot/tasks"
	"github.com/edgard/assistbot/internal/buttons"
	"github.com/edgard/assistbot/internal/chat"
	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/database"
	"github.com/edgard/assistbot/internal/instruction"
	"github.com/edgard/assistbot/internal/logger"
	"github.com/edgard/assistbot/internal/pipeline"
	"github.com/edgard/assistbot/internal/response"
	"github.com/edgard/assistbot/internal/telegram"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}
}

// serve initializes every component, runs the bot until ctx is cancelled and
// shuts down in reverse order.
func serve(ctx context.Context, path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer database.CloseDB(db, log)
	store := database.NewStore(db, log)

	instructions, err := instruction.New(instruction.FileSource{Path: cfg.Assistant.InstructionPath}, log)
	if err != nil {
		return fmt.Errorf("failed to load instruction: %w", err)
	}

	var watcher *instruction.Watcher
	if cfg.Assistant.WatchInstruction {
		watcher, err = instruction.NewWatcher(instructions, instruction.FileSource{Path: cfg.Assistant.InstructionPath}, 0)
		if err != nil {
			log.Warn("Instruction watcher disabled", "error", err)
		}
	}

	client, err := backend.New(ctx, cfg.Backend, log)
	if err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}

	validator, err := response.NewValidator(cfg.Telegram.TargetBotUsername, log)
	if err != nil {
		return err
	}

	orchestrator := pipeline.New(pipeline.Deps{
		Builder:      chat.NewBuilder(cfg.Assistant.ContextWindowSize, cfg.Assistant.MaxContextLength),
		Instructions: instructions,
		Backend:      client,
		Validator:    validator,
		Mapper:       buttons.NewMapper(cfg.Telegram.TargetBotUsername, cfg.Buttons.MaxButtons, cfg.Buttons.PerRow),
		Journal:      store,
		Logger:       log,
	})

	deliveries := &sync.WaitGroup{}
	hDeps := handlers.HandlerDeps{
		Logger:       log,
		Config:       cfg,
		Store:        store,
		Pipeline:     orchestrator,
		Instructions: instructions,
		Backend:      client,
		Deliveries:   deliveries,
	}

	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log,
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewMessageHandler(hDeps)),
		tgbot.WithNotAsyncHandlers(),
	)
	if err != nil {
		return err
	}

	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username,
		"target_bot", cfg.Telegram.TargetBotUsername)

	if err := telegram.RegisterHandlers(ctx, tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		return err
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:       log,
		Store:        store,
		Context:      orchestrator,
		Instructions: instructions,
		Config:       cfg,
	}))
	if err != nil {
		return err
	}

	app := bot.NewBot(log, bot.Components{
		Telegram:   tg,
		Scheduler:  sched,
		Watcher:    watcher,
		Pipeline:   orchestrator,
		Backend:    client,
		Deliveries: deliveries,
	})

	log.Info("Starting bot")
	if err := app.Run(ctx); err != nil {
		return err
	}
	log.Info("Bot stopped")
	return nil
}
