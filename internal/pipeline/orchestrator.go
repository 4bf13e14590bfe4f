// Package pipeline sequences context recording, generation, validation and
// button mapping for each message. Messages of one chat are processed
// strictly in arrival order; different chats run concurrently.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/buttons"
	"github.com/edgard/assistbot/internal/chat"
	"github.com/edgard/assistbot/internal/database"
	"github.com/edgard/assistbot/internal/instruction"
	"github.com/edgard/assistbot/internal/response"
)

const journalTimeout = 5 * time.Second

// Completer generates text for a request.
type Completer interface {
	Complete(ctx context.Context, req backend.Request) (string, error)
}

// Instructions provides the current instruction snapshot.
type Instructions interface {
	Current() *instruction.Snapshot
}

// Journal stores one entry per pipeline run.
type Journal interface {
	SaveRun(ctx context.Context, run *database.PipelineRun) error
}

// AssistantReply is what the transport renders for a message.
type AssistantReply struct {
	RunID       string
	Text        string
	Suggestions []string
	Layout      buttons.Layout
	Confidence  float64
	Model       string
	Degraded    bool
}

// Result is delivered once per submitted message.
type Result struct {
	Reply *AssistantReply
	Err   error
}

type jobKind int

const (
	jobRun jobKind = iota
	jobObserve
	jobReset
	jobPrune
)

type job struct {
	kind   jobKind
	ctx    context.Context
	msg    chat.Message
	done   chan Result
	cutoff time.Time
	pruned chan int
}

type lane struct {
	queue []job
}

// Deps are the collaborators of an Orchestrator. Journal may be nil.
type Deps struct {
	Builder      *chat.Builder
	Instructions Instructions
	Backend      Completer
	Validator    *response.Validator
	Mapper       *buttons.Mapper
	Journal      Journal
	Logger       *slog.Logger
}

// Orchestrator owns the per-chat lanes.
type Orchestrator struct {
	builder      *chat.Builder
	instructions Instructions
	backend      Completer
	validator    *response.Validator
	mapper       *buttons.Mapper
	journal      Journal
	log          *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	lanes  map[int64]*lane
	closed bool
	wg     sync.WaitGroup
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		builder:      deps.Builder,
		instructions: deps.Instructions,
		backend:      deps.Backend,
		validator:    deps.Validator,
		mapper:       deps.Mapper,
		journal:      deps.Journal,
		log:          logger.With("component", "pipeline"),
		now:          time.Now,
		lanes:        make(map[int64]*lane),
	}
}

// Handle runs the pipeline for msg and waits for the result.
func (o *Orchestrator) Handle(ctx context.Context, msg chat.Message) (*AssistantReply, error) {
	select {
	case res := <-o.Submit(ctx, msg):
		return res.Reply, res.Err
	case <-ctx.Done():
		return nil, &Error{
			Stage:     StageQueue,
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			Err:       &backend.Error{Kind: backend.KindTimeout, Err: ctx.Err()},
		}
	}
}

// Submit queues msg on its chat lane. The returned channel receives exactly
// one Result.
func (o *Orchestrator) Submit(ctx context.Context, msg chat.Message) <-chan Result {
	done := make(chan Result, 1)
	o.enqueue(job{kind: jobRun, ctx: ctx, msg: msg, done: done})
	return done
}

// Observe records msg in its chat window without running the pipeline.
func (o *Orchestrator) Observe(msg chat.Message) {
	o.enqueue(job{kind: jobObserve, msg: msg})
}

// Reset clears the chat window after every message already queued for it.
func (o *Orchestrator) Reset(chatID int64) {
	o.enqueue(job{kind: jobReset, msg: chat.Message{ChatID: chatID}})
}

// Prune evicts messages older than maxAge from every chat window. Each
// window is pruned on its own lane, after the work already queued for it.
// It returns the number of evicted messages once every lane has pruned, or
// the count so far and ctx's error.
func (o *Orchestrator) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := o.now().Add(-maxAge)
	ids := o.builder.ChatIDs()
	pruned := make(chan int, len(ids))
	for _, id := range ids {
		o.enqueue(job{kind: jobPrune, msg: chat.Message{ChatID: id}, cutoff: cutoff, pruned: pruned})
	}

	removed := 0
	for range ids {
		select {
		case n := <-pruned:
			removed += n
		case <-ctx.Done():
			return removed, ctx.Err()
		}
	}
	return removed, nil
}

// ActiveLanes returns the number of chats with queued or running work.
func (o *Orchestrator) ActiveLanes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lanes)
}

// Close stops accepting messages and waits for queued work to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) enqueue(j job) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		if j.done != nil {
			j.done <- Result{Err: &Error{Stage: StageQueue, ChatID: j.msg.ChatID, MessageID: j.msg.MessageID, Err: ErrClosed}}
		}
		if j.pruned != nil {
			j.pruned <- 0
		}
		return
	}

	chatID := j.msg.ChatID
	l, ok := o.lanes[chatID]
	if !ok {
		l = &lane{}
		o.lanes[chatID] = l
		o.wg.Add(1)
		go o.drain(chatID, l)
	}
	l.queue = append(l.queue, j)
	o.mu.Unlock()
}

// drain processes a lane until it is empty, then removes it.
func (o *Orchestrator) drain(chatID int64, l *lane) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		if len(l.queue) == 0 {
			delete(o.lanes, chatID)
			o.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue[0] = job{}
		l.queue = l.queue[1:]
		o.mu.Unlock()

		o.process(j)
	}
}

func (o *Orchestrator) process(j job) {
	switch j.kind {
	case jobObserve:
		o.builder.Record(j.msg)
	case jobReset:
		o.builder.Reset(j.msg.ChatID)
		o.log.Info("Chat context reset", "chat_id", j.msg.ChatID)
	case jobPrune:
		j.pruned <- o.builder.PruneChat(j.msg.ChatID, j.cutoff)
	case jobRun:
		reply, err := o.run(j.ctx, j.msg)
		j.done <- Result{Reply: reply, Err: err}
	}
}

func (o *Orchestrator) run(ctx context.Context, msg chat.Message) (*AssistantReply, error) {
	start := o.now()
	runID := ulid.Make().String()
	log := o.log.With("run_id", runID, "chat_id", msg.ChatID, "message_id", msg.MessageID)

	entry := &database.PipelineRun{
		ID:        runID,
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		CreatedAt: start,
	}
	fail := func(stage Stage, err error) (*AssistantReply, error) {
		perr := &Error{Stage: stage, ChatID: msg.ChatID, MessageID: msg.MessageID, Err: err}
		log.WarnContext(ctx, "Pipeline run failed", "stage", stage, "kind", ErrorKind(err), "error", err)
		entry.Outcome = database.OutcomeFailed
		entry.Stage = string(stage)
		entry.ErrorKind = ErrorKind(err)
		o.saveRun(ctx, entry, start)
		return nil, perr
	}

	o.builder.Record(msg)
	rendered := o.builder.Render(msg.ChatID)

	// One snapshot for the whole run, whatever reloads happen meanwhile.
	snap := o.instructions.Current()
	if snap == nil {
		return fail(StageInstruction, ErrNoInstruction)
	}
	entry.InstructionVersion = snap.Version

	if err := ctx.Err(); err != nil {
		return fail(StageBackend, &backend.Error{Kind: backend.KindTimeout, Err: err})
	}

	raw, err := o.backend.Complete(ctx, backend.Request{
		Instruction: snap.Text,
		Context:     rendered,
		UserMessage: msg.Text,
	})
	if err != nil {
		return fail(StageBackend, err)
	}

	resp, err := o.validator.Validate(raw)
	if err != nil {
		log.DebugContext(ctx, "Rejected backend output", "raw_length", len(raw))
		return fail(StageValidate, err)
	}

	layout := o.mapper.Map(resp.Commands)
	reply := &AssistantReply{
		RunID:       runID,
		Text:        resp.Text,
		Suggestions: resp.Suggestions,
		Layout:      layout,
		Confidence:  resp.Confidence,
		Model:       resp.ModelUsed,
		Degraded:    resp.Degraded(),
	}

	entry.Outcome = database.OutcomeOK
	if reply.Degraded {
		entry.Outcome = database.OutcomeDegraded
	}
	entry.Buttons = layout.Count()
	entry.Dropped = resp.Dropped
	entry.Model = resp.ModelUsed
	o.saveRun(ctx, entry, start)

	log.InfoContext(ctx, "Pipeline run completed",
		"buttons", entry.Buttons,
		"dropped", entry.Dropped,
		"degraded", reply.Degraded,
		"duration", o.now().Sub(start))
	return reply, nil
}

func (o *Orchestrator) saveRun(ctx context.Context, entry *database.PipelineRun, start time.Time) {
	if o.journal == nil {
		return
	}
	entry.DurationMS = o.now().Sub(start).Milliseconds()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := o.journal.SaveRun(saveCtx, entry); err != nil {
		o.log.ErrorContext(ctx, "Failed to journal pipeline run", "run_id", entry.ID, "error", err)
	}
}
