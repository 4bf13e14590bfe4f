package pipeline

import (
	"errors"
	"fmt"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/response"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageInstruction Stage = "instruction"
	StageBackend     Stage = "backend"
	StageValidate    Stage = "validate"
	StageQueue       Stage = "queue"
)

var (
	// ErrClosed is returned for messages submitted after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrNoInstruction is returned when no instruction snapshot is loaded.
	ErrNoInstruction = errors.New("no instruction loaded")
)

// Error aborts the pipeline for one message. Err is a *backend.Error,
// a *response.ValidationError or one of this package's sentinels.
type Error struct {
	Stage     Stage
	ChatID    int64
	MessageID int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline %s failed for chat %d message %d: %v", e.Stage, e.ChatID, e.MessageID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a backend timeout.
func IsTimeout(err error) bool {
	kind, ok := backend.KindOf(err)
	return ok && kind == backend.KindTimeout
}

// ErrorKind returns the kind name of the underlying cause of err.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if kind, ok := backend.KindOf(err); ok {
		return kind.String()
	}
	var ve *response.ValidationError
	if errors.As(err, &ve) {
		return ve.Kind.String()
	}
	switch {
	case errors.Is(err, ErrNoInstruction):
		return "no_instruction"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	return "unknown"
}
