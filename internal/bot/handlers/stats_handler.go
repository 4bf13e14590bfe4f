package handlers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/database"
)

const (
	statsWindow  = 24 * time.Hour
	statsTimeout = 10 * time.Second
)

// NewStatsHandler returns a handler for the /stats command.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

// statsReport is everything /stats prints.
type statsReport struct {
	Header             string
	Window             time.Duration
	Runs               database.RunStats
	Backend            backend.Stats
	Model              string
	ActiveLanes        int
	InstructionVersion uint64
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	queryCtx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	runs, err := h.deps.Store.RunStats(queryCtx, time.Now().Add(-statsWindow))
	if err != nil {
		log.ErrorContext(ctx, "Failed to load run statistics", "error", err, "chat_id", chatID)
		sendText(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	report := statsReport{
		Header:      h.deps.Config.Messages.StatsHeader,
		Window:      statsWindow,
		Runs:        runs,
		Backend:     h.deps.Backend.Stats(),
		Model:       h.deps.Backend.Model(),
		ActiveLanes: h.deps.Pipeline.ActiveLanes(),
	}
	if snap := h.deps.Instructions.Current(); snap != nil {
		report.InstructionVersion = snap.Version
	}
	sendText(ctx, b, log, chatID, formatStats(report))
}

func formatStats(r statsReport) string {
	var sb strings.Builder
	sb.WriteString(r.Header)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Runs (last %s): %d\n", r.Window, r.Runs.Total)
	outcomes := make([]string, 0, len(r.Runs.ByOutcome))
	for outcome := range r.Runs.ByOutcome {
		outcomes = append(outcomes, outcome)
	}
	slices.Sort(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(&sb, "  %s: %d\n", outcome, r.Runs.ByOutcome[outcome])
	}
	if r.Runs.Total > 0 {
		fmt.Fprintf(&sb, "Average duration: %.0f ms\n", r.Runs.AvgDurationMS)
	}

	fmt.Fprintf(&sb, "Backend model: %s\n", r.Model)
	fmt.Fprintf(&sb, "Backend attempts: %d, retries: %d, shared: %d\n", r.Backend.Attempts, r.Backend.Retries, r.Backend.Shared)
	fmt.Fprintf(&sb, "Active chats: %d\n", r.ActiveLanes)
	fmt.Fprintf(&sb, "Instruction version: %d", r.InstructionVersion)
	return sb.String()
}
