// Package instruction holds the system instruction sent with every backend
// request. The current text is an immutable snapshot swapped atomically on
// reload, so readers never block and never see a partial update.
package instruction

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LoadErrorKind classifies a failed reload.
type LoadErrorKind int

const (
	KindNotFound LoadErrorKind = iota + 1
	KindUnreadable
	KindEmpty
)

func (k LoadErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnreadable:
		return "unreadable"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// LoadError is returned by Reload and New when a source cannot produce a snapshot.
type LoadError struct {
	Kind   LoadErrorKind
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("instruction %s (%s): %v", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("instruction %s (%s)", e.Kind, e.Source)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Snapshot is one loaded version of the instruction. It is never mutated.
type Snapshot struct {
	Text     string
	LoadedAt time.Time
	Source   string
	Version  uint64
}

// Source produces instruction text.
type Source interface {
	Name() string
	Read() (string, error)
}

// FileSource reads the instruction from a file on disk.
type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return f.Path }

func (f FileSource) Read() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &LoadError{Kind: KindNotFound, Source: f.Path, Err: err}
		}
		return "", &LoadError{Kind: KindUnreadable, Source: f.Path, Err: err}
	}
	return string(b), nil
}

// Cache owns the current snapshot.
type Cache struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes reloads
	source  Source
	log     *slog.Logger
	now     func() time.Time
}

// New loads the first snapshot from src. Unlike Reload, a failure here is
// returned to the caller because there is no previous snapshot to keep.
func New(src Source, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Cache{
		source: src,
		log:    logger.With("component", "instruction_cache"),
		now:    time.Now,
	}
	if err := c.Reload(src); err != nil {
		return nil, err
	}
	return c, nil
}

// Current returns the active snapshot.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Source returns the source the cache was created with.
func (c *Cache) Source() Source {
	return c.source
}

// Reload reads src and swaps in a new snapshot. On failure the previous
// snapshot stays active and the error is logged and returned.
func (c *Cache) Reload(src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	text, err := src.Read()
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = &LoadError{Kind: KindEmpty, Source: src.Name()}
		}
	}
	if err != nil {
		var le *LoadError
		if !errors.As(err, &le) {
			err = &LoadError{Kind: KindUnreadable, Source: src.Name(), Err: err}
		}
		prev := c.current.Load()
		if prev != nil {
			c.log.Warn("Instruction reload failed, keeping previous snapshot",
				"source", src.Name(), "error", err, "active_version", prev.Version)
		} else {
			c.log.Error("Instruction load failed", "source", src.Name(), "error", err)
		}
		return err
	}

	var version uint64 = 1
	if prev := c.current.Load(); prev != nil {
		version = prev.Version + 1
	}
	c.current.Store(&Snapshot{
		Text:     text,
		LoadedAt: c.now(),
		Source:   src.Name(),
		Version:  version,
	})
	c.log.Info("Instruction loaded", "source", src.Name(), "version", version, "length", len(text))
	return nil
}

// ReloadDefault reloads from the source the cache was created with.
func (c *Cache) ReloadDefault() error {
	return c.Reload(c.source)
}
