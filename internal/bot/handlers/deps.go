package handlers

import (
	"log/slog"
	"sync"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/database"
	"github.com/edgard/assistbot/internal/instruction"
	"github.com/edgard/assistbot/internal/pipeline"
)

// HandlerDeps provides dependencies for Telegram command and message handlers.
type HandlerDeps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Store        database.Store
	Pipeline     *pipeline.Orchestrator
	Instructions *instruction.Cache
	Backend      *backend.Client

	// Deliveries tracks reply goroutines so shutdown can wait for them.
	Deliveries *sync.WaitGroup
}
