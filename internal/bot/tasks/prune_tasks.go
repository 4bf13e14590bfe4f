package tasks

import (
	"context"
	"fmt"
	"time"
)

// newContextPruneTask drops window messages older than assistant.message_max_age.
func newContextPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "context_prune")

	return func(ctx context.Context) error {
		maxAge := deps.Config.Assistant.MessageMaxAge
		removed, err := deps.Context.Prune(ctx, maxAge)
		if err != nil {
			return fmt.Errorf("context prune interrupted after %d messages: %w", removed, err)
		}
		if removed > 0 {
			log.InfoContext(ctx, "Pruned aged context messages", "removed", removed, "max_age", maxAge)
		}
		return nil
	}
}

// newJournalPruneTask deletes journaled runs older than database.run_retention.
func newJournalPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "journal_prune")

	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-deps.Config.Database.RunRetention)
		removed, err := deps.Store.PruneRuns(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("journal prune failed: %w", err)
		}
		log.InfoContext(ctx, "Pruned journaled runs", "removed", removed, "cutoff", cutoff.UTC())
		return nil
	}
}

// newInstructionReloadTask rereads the instruction file. A failed reload
// keeps the active snapshot.
func newInstructionReloadTask(deps TaskDeps) ScheduledTaskFunc {
	return func(context.Context) error {
		if err := deps.Instructions.ReloadDefault(); err != nil {
			return fmt.Errorf("instruction reload failed: %w", err)
		}
		return nil
	}
}
