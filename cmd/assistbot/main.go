// Package main is the assistbot command line.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "assistbot",
		Short:         "Telegram assistant that suggests one-tap commands for another bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")

	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(validateCmd())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
