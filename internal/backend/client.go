// Package backend implements the resilient client for the text-generation
// backend: per-attempt timeouts, retry with exponential backoff and jitter,
// and deduplication of identical in-flight calls.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 16 * time.Second
)

// Request is one generation request built by the pipeline.
type Request struct {
	Instruction string
	Context     string
	UserMessage string
}

// UserContent is the user-role content sent to the backend.
func (r Request) UserContent() string {
	if r.Context == "" {
		return r.UserMessage
	}
	return "Conversation:\n" + r.Context + "\n\nMessage:\n" + r.UserMessage
}

// Call is a single outbound request as seen by a Transport.
type Call struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Fingerprint identifies calls that would produce the same backend request.
func (c Call) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		c.Model,
		c.System,
		c.User,
		strconv.FormatFloat(float64(c.Temperature), 'f', -1, 32),
		strconv.Itoa(c.MaxTokens),
	} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Transport performs exactly one attempt against a backend.
type Transport interface {
	Generate(ctx context.Context, call Call) (string, error)
}

// Config holds the client's call parameters and retry policy.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// Stats are cumulative counters since the client was created.
type Stats struct {
	Attempts int64
	Retries  int64
	Shared   int64
}

// Client wraps a Transport with timeout, retry and deduplication.
type Client struct {
	transport Transport
	cfg       Config
	log       *slog.Logger
	group     singleflight.Group
	timer     retry.Timer

	attempts atomic.Int64
	retries  atomic.Int64
	shared   atomic.Int64
}

// NewClient creates a Client. Zero values in cfg fall back to the defaults.
func NewClient(transport Transport, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		transport: transport,
		cfg:       cfg.withDefaults(),
		log:       logger.With("component", "backend_client"),
	}
}

// Model returns the model the client requests.
func (c *Client) Model() string { return c.cfg.Model }

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Attempts: c.attempts.Load(),
		Retries:  c.retries.Load(),
		Shared:   c.shared.Load(),
	}
}

// Complete sends req to the backend and returns the generated text.
// Concurrent calls with the same fingerprint share one outbound call.
// Every failure is an *Error; retryable kinds only surface once the retry
// budget is spent.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	call := Call{
		Model:       c.cfg.Model,
		System:      req.Instruction,
		User:        req.UserContent(),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	key := call.Fingerprint()

	// The shared call must not die with whichever caller started it.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.completeWithRetry(detached, call)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
			c.log.DebugContext(ctx, "Backend result shared between callers", "fingerprint", key[:12])
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &Error{Kind: KindTimeout, Err: ctx.Err()}
	}
}

func (c *Client) completeWithRetry(ctx context.Context, call Call) (string, error) {
	var (
		attempt        int
		networkRetried bool
	)

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		retry.Delay(c.cfg.BackoffBase),
		retry.MaxDelay(c.cfg.BackoffCap),
		retry.MaxJitter(max(c.cfg.BackoffBase/2, time.Millisecond)),
		retry.DelayType(retry.CombineDelay(backOffFromBase, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return c.shouldRetry(err, attempt, &networkRetried)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.retries.Add(1)
			var be *Error
			errors.As(err, &be)
			c.log.WarnContext(ctx, "Backend call failed, retrying",
				"attempt", n+1,
				"max_attempts", c.cfg.MaxAttempts,
				"kind", be.Kind.String(),
				"status", be.Status,
				"error", be.Err)
		}),
	}
	if c.timer != nil {
		opts = append(opts, retry.WithTimer(c.timer))
	}

	text, err := retry.DoWithData(func() (string, error) {
		attempt++
		out, attemptErr := c.attempt(ctx, call)
		if attemptErr != nil {
			return "", attemptErr
		}
		return out, nil
	}, opts...)
	if err == nil {
		if attempt > 1 {
			c.log.InfoContext(ctx, "Backend call succeeded after retry", "attempt", attempt)
		}
		return text, nil
	}

	var last *Error
	if !errors.As(err, &last) {
		last = &Error{Kind: KindTimeout, Err: err}
	}
	c.log.ErrorContext(ctx, "Backend call failed", "kind", last.Kind.String(), "status", last.Status, "error", last.Err)
	return "", last
}

func (c *Client) attempt(ctx context.Context, call Call) (string, *Error) {
	c.attempts.Add(1)

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	text, err := c.transport.Generate(attemptCtx, call)
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return "", &Error{Kind: KindTimeout, Err: fmt.Errorf("no response within %s: %w", c.cfg.Timeout, context.DeadlineExceeded)}
	}
	if err != nil {
		return "", classify(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindInvalidResponse, Err: errors.New("empty completion")}
	}
	return text, nil
}

// shouldRetry reports whether the failure of attempt (counted from 1) is
// followed by another attempt. Network errors are retried once per call.
func (c *Client) shouldRetry(err error, attempt int, networkRetried *bool) bool {
	var be *Error
	if !errors.As(err, &be) || attempt >= c.cfg.MaxAttempts {
		return false
	}
	switch be.Kind {
	case KindRateLimited, KindServerError:
		return true
	case KindNetworkError:
		if *networkRetried {
			return false
		}
		*networkRetried = true
		return true
	default:
		return false
	}
}

// backOffFromBase makes the first retry wait base: retry numbers retries
// from 1 and BackOffDelay doubles from n.
func backOffFromBase(n uint, err error, cfg *retry.Config) time.Duration {
	if n > 0 {
		n--
	}
	return retry.BackOffDelay(n, err, cfg)
}
