package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgard/assistbot/internal/buttons"
	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/logger"
	"github.com/edgard/assistbot/internal/response"
)

func validateCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Validate a saved backend reply and print the resulting keyboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			maxButtons, perRow := buttons.DefaultMaxButtons, buttons.DefaultPerRow
			if target == "" {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("no --target given and configuration failed to load: %w", err)
				}
				target = cfg.Telegram.TargetBotUsername
				maxButtons, perRow = cfg.Buttons.MaxButtons, cfg.Buttons.PerRow
			}
			return validateReply(cmd.OutOrStdout(), raw, target, maxButtons, perRow)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target bot username (defaults to the configured one)")
	return cmd
}

func readInput(stdin io.Reader, name string) (string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

func validateReply(out io.Writer, raw, target string, maxButtons, perRow int) error {
	v, err := response.NewValidator(target, logger.New(io.Discard, "error", false))
	if err != nil {
		return err
	}
	resp, err := v.Validate(raw)
	if err != nil {
		fmt.Fprintf(out, "rejected: %v\n", err)
		return err
	}

	fmt.Fprintf(out, "text: %s\n", resp.Text)
	for _, s := range resp.Suggestions {
		fmt.Fprintf(out, "suggestion: %s\n", s)
	}
	fmt.Fprintf(out, "confidence: %.2f\nmodel: %s\ndropped commands: %d\n", resp.Confidence, resp.ModelUsed, resp.Dropped)
	if resp.Degraded() {
		fmt.Fprintln(out, "degraded: every command was dropped")
	}

	layout := buttons.NewMapper(target, maxButtons, perRow).Map(resp.Commands)
	for i, row := range layout {
		fmt.Fprintf(out, "row %d:", i+1)
		for _, b := range row {
			fmt.Fprintf(out, " [%s]", b.Command)
		}
		fmt.Fprintln(out)
	}
	return nil
}
