// Package tasks implements the scheduled maintenance tasks of the assistant.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/database"
)

// ContextPruner evicts aged messages from the chat windows.
type ContextPruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// InstructionReloader rereads the instruction from its configured source.
type InstructionReloader interface {
	ReloadDefault() error
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger       *slog.Logger
	Store        database.Store
	Context      ContextPruner
	Instructions InstructionReloader
	Config       *config.Config
}
