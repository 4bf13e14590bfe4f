package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/database"
	"github.com/edgard/assistbot/internal/instruction"
	"github.com/edgard/assistbot/internal/logger"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration, the instruction file and the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}
}

func check(ctx context.Context, out io.Writer, path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(out, "FAIL configuration: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "ok   configuration: provider=%s model=%s target=@%s\n",
		cfg.Backend.Provider, cfg.Backend.Model, cfg.Telegram.TargetBotUsername)

	log := logger.New(io.Discard, cfg.Logger.Level, false)

	cache, err := instruction.New(instruction.FileSource{Path: cfg.Assistant.InstructionPath}, log)
	if err != nil {
		fmt.Fprintf(out, "FAIL instruction: %v\n", err)
		return err
	}
	snap := cache.Current()
	fmt.Fprintf(out, "ok   instruction: %s (%d chars)\n", snap.Source, len(snap.Text))

	db, err := database.NewDB(cfg.Database.Path, log)
	if err != nil {
		fmt.Fprintf(out, "FAIL database: %v\n", err)
		return err
	}
	defer database.CloseDB(db, log)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.NewStore(db, log).Ping(pingCtx); err != nil {
		fmt.Fprintf(out, "FAIL database: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "ok   database: %s\n", database.DBFileFromPath(cfg.Database.Path))
	return nil
}
