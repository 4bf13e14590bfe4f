package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/assistbot/internal/backend"
	"github.com/edgard/assistbot/internal/buttons"
	"github.com/edgard/assistbot/internal/chat"
	"github.com/edgard/assistbot/internal/database"
	"github.com/edgard/assistbot/internal/instruction"
	"github.com/edgard/assistbot/internal/response"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const target = "FlibustaRuBot"

const okPayload = `{
  "text": "Try these",
  "suggestions": ["Search by author"],
  "commands": [
    {"display_text": "Random", "command": "/random@FlibustaRuBot", "kind": "command", "priority": 3},
    {"display_text": "Fantasy", "command": "@FlibustaRuBot fantasy", "kind": "search", "priority": 9},
    {"display_text": "Broken", "command": "fantasy", "kind": "search", "priority": 10}
  ],
  "confidence": 0.9,
  "model_used": "test-model"
}`

type fakeBackend struct {
	mu       sync.Mutex
	requests []backend.Request
	respond  func(ctx context.Context, req backend.Request) (string, error)
}

func (f *fakeBackend) Complete(ctx context.Context, req backend.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond == nil {
		return okPayload, nil
	}
	return f.respond(ctx, req)
}

func (f *fakeBackend) Requests() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Request(nil), f.requests...)
}

type fakeJournal struct {
	mu   sync.Mutex
	runs []database.PipelineRun
}

func (j *fakeJournal) SaveRun(_ context.Context, run *database.PipelineRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, *run)
	return nil
}

func (j *fakeJournal) Runs() []database.PipelineRun {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]database.PipelineRun(nil), j.runs...)
}

type staticSource string

func (s staticSource) Name() string          { return "static" }
func (s staticSource) Read() (string, error) { return string(s), nil }

type fixture struct {
	orch    *Orchestrator
	builder *chat.Builder
	backend *fakeBackend
	journal *fakeJournal
	cache   *instruction.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cache, err := instruction.New(staticSource("v1 instruction"), nil)
	require.NoError(t, err)
	validator, err := response.NewValidator(target, nil)
	require.NoError(t, err)

	f := &fixture{
		builder: chat.NewBuilder(10, 0),
		backend: &fakeBackend{},
		journal: &fakeJournal{},
		cache:   cache,
	}
	f.orch = New(Deps{
		Builder:      f.builder,
		Instructions: cache,
		Backend:      f.backend,
		Validator:    validator,
		Mapper:       buttons.NewMapper(target, 6, 2),
		Journal:      f.journal,
	})
	t.Cleanup(f.orch.Close)
	return f
}

var t0 = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func message(chatID int64, id int, text string) chat.Message {
	return chat.Message{
		ChatID:    chatID,
		UserID:    7,
		MessageID: id,
		Text:      text,
		Timestamp: t0.Add(time.Duration(id) * time.Second),
		ChatKind:  chat.KindGroup,
	}
}

func TestHandleProducesReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reply, err := f.orch.Handle(context.Background(), message(1, 1, "any fantasy?"))
	require.NoError(t, err)

	assert.Equal(t, "Try these", reply.Text)
	assert.Equal(t, []string{"Search by author"}, reply.Suggestions)
	assert.InDelta(t, 0.9, reply.Confidence, 1e-9)
	assert.Equal(t, "test-model", reply.Model)
	assert.False(t, reply.Degraded)
	assert.Equal(t, buttons.Layout{{
		{DisplayText: "Fantasy", Command: "@FlibustaRuBot fantasy"},
		{DisplayText: "Random", Command: "/random@FlibustaRuBot"},
	}}, reply.Layout)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "v1 instruction", reqs[0].Instruction)
	assert.Equal(t, "any fantasy?", reqs[0].UserMessage)
	assert.Contains(t, reqs[0].Context, "#1 user 7: any fantasy?")

	runs := f.journal.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, reply.RunID, runs[0].ID)
	assert.Len(t, runs[0].ID, 26)
	assert.Equal(t, database.OutcomeOK, runs[0].Outcome)
	assert.Equal(t, 2, runs[0].Buttons)
	assert.Equal(t, 1, runs[0].Dropped)
	assert.Equal(t, uint64(1), runs[0].InstructionVersion)
}

func TestSameChatRunsDoNotInterleave(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var once sync.Once
	f.backend.respond = func(_ context.Context, req backend.Request) (string, error) {
		if req.UserMessage == "first" {
			once.Do(func() { close(firstEntered) })
			<-releaseFirst
		}
		return okPayload, nil
	}

	ctx := context.Background()
	r1 := f.orch.Submit(ctx, message(5, 1, "first"))
	<-firstEntered
	r2 := f.orch.Submit(ctx, message(5, 2, "second"))

	// The second message must wait for the first run to finish.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, f.builder.Len(5))
	close(releaseFirst)

	res1, res2 := <-r1, <-r2
	require.NoError(t, res1.Err)
	require.NoError(t, res2.Err)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].Context, "second")
	assert.Contains(t, reqs[1].Context, "first")
	assert.Less(t, strings.Index(reqs[1].Context, "first"), strings.Index(reqs[1].Context, "second"))

	msgs := f.builder.Messages(5)
	require.Len(t, msgs, 2)
	assert.Equal(t, []int{1, 2}, []int{msgs[0].MessageID, msgs[1].MessageID})
}

func TestManyConcurrentSubmissionsKeepArrivalOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var results []<-chan Result
	for i := 1; i <= 8; i++ {
		results = append(results, f.orch.Submit(ctx, message(9, i, "m")))
	}
	for _, ch := range results {
		require.NoError(t, (<-ch).Err)
	}

	msgs := f.builder.Messages(9)
	require.Len(t, msgs, 8)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.MessageID)
	}
}

func TestDifferentChatsRunConcurrently(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	otherDone := make(chan struct{})
	f.backend.respond = func(ctx context.Context, req backend.Request) (string, error) {
		if req.UserMessage == "slow" {
			select {
			case <-otherDone:
			case <-ctx.Done():
				return "", &backend.Error{Kind: backend.KindTimeout, Err: ctx.Err()}
			}
		}
		return okPayload, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	slow := f.orch.Submit(ctx, message(1, 1, "slow"))
	_, err := f.orch.Handle(ctx, message(2, 1, "fast"))
	require.NoError(t, err)
	close(otherDone)
	require.NoError(t, (<-slow).Err)
}

func TestBackendErrorAbortsRun(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		err     error
		kind    string
		timeout bool
	}{
		{name: "timeout", err: &backend.Error{Kind: backend.KindTimeout, Err: context.DeadlineExceeded}, kind: "timeout", timeout: true},
		{name: "rate limited", err: backend.FromStatus(429, errors.New("slow")), kind: "rate_limited"},
		{name: "invalid response", err: backend.FromStatus(400, errors.New("bad")), kind: "invalid_response"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.backend.respond = func(context.Context, backend.Request) (string, error) { return "", tc.err }

			reply, err := f.orch.Handle(context.Background(), message(3, 1, "hello"))
			assert.Nil(t, reply)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, StageBackend, perr.Stage)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.timeout, IsTimeout(err))
			assert.Equal(t, tc.kind, ErrorKind(err))

			runs := f.journal.Runs()
			require.Len(t, runs, 1)
			assert.Equal(t, database.OutcomeFailed, runs[0].Outcome)
			assert.Equal(t, tc.kind, runs[0].ErrorKind)
			assert.Equal(t, 1, f.builder.Len(3), "message stays in the window")
		})
	}
}

func TestValidationErrorAbortsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.backend.respond = func(context.Context, backend.Request) (string, error) {
		return `{"text": "hi", "suggestions": [], "commands": [], "confidence": 1.5, "model_used": "m"}`, nil
	}

	_, err := f.orch.Handle(context.Background(), message(4, 1, "hello"))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageValidate, perr.Stage)

	var ve *response.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, response.KindOutOfRange, ve.Kind)
	assert.False(t, IsTimeout(err))
}

func TestDegradedReplyKeepsText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.backend.respond = func(context.Context, backend.Request) (string, error) {
		return `{"text": "Only text", "suggestions": ["s"], "commands": [
		  {"display_text": "x", "command": "search fantasy", "kind": "search", "priority": 5}
		], "confidence": 0.4, "model_used": "m"}`, nil
	}

	reply, err := f.orch.Handle(context.Background(), message(6, 1, "hello"))
	require.NoError(t, err)
	assert.True(t, reply.Degraded)
	assert.Equal(t, "Only text", reply.Text)
	assert.Empty(t, reply.Layout)
	assert.Equal(t, database.OutcomeDegraded, f.journal.Runs()[0].Outcome)
}

func TestRunUsesSnapshotCapturedAtStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.backend.respond = func(context.Context, backend.Request) (string, error) {
		require.NoError(t, f.cache.Reload(staticSource("v2 instruction")))
		return okPayload, nil
	}

	_, err := f.orch.Handle(context.Background(), message(1, 1, "a"))
	require.NoError(t, err)
	_, err = f.orch.Handle(context.Background(), message(1, 2, "b"))
	require.NoError(t, err)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "v1 instruction", reqs[0].Instruction)
	assert.Equal(t, "v2 instruction", reqs[1].Instruction)
}

func TestObserveAndResetFollowLaneOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orch.Observe(message(8, 1, "chatter"))
	fromBot := message(8, 2, "results")
	fromBot.FromTargetBot = true
	f.orch.Observe(fromBot)

	_, err := f.orch.Handle(context.Background(), message(8, 3, "question"))
	require.NoError(t, err)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Context, "#1 user 7: chatter")
	assert.Contains(t, reqs[0].Context, "#2 target-bot: results")

	f.orch.Reset(8)
	_, err = f.orch.Handle(context.Background(), message(8, 4, "again"))
	require.NoError(t, err)

	reqs = f.backend.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[1].Context, "chatter")
	assert.Equal(t, 1, f.builder.Len(8))
}

func TestCancelledContextSkipsBackend(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := <-f.orch.Submit(ctx, message(2, 1, "late"))
	require.Error(t, res.Err)
	assert.True(t, IsTimeout(res.Err))
	assert.Empty(t, f.backend.Requests())
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orch.Close()

	_, err := f.orch.Handle(context.Background(), message(1, 1, "x"))
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, f.orch.ActiveLanes())
}

func TestPruneUsesMaxAge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orch.now = func() time.Time { return t0.Add(time.Hour) }

	old := message(1, 1, "old")
	fresh := message(1, 2, "fresh")
	fresh.Timestamp = t0.Add(59 * time.Minute)
	f.orch.Observe(old)
	_, err := f.orch.Handle(context.Background(), fresh)
	require.NoError(t, err)

	removed, err := f.orch.Prune(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, f.builder.Len(1))
}

func TestPruneWaitsForQueuedWork(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orch.now = func() time.Time { return t0.Add(time.Hour) }

	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.respond = func(context.Context, backend.Request) (string, error) {
		close(entered)
		<-release
		return okPayload, nil
	}

	f.orch.Observe(message(1, 1, "old"))
	results := f.orch.Submit(context.Background(), message(1, 2, "question"))
	<-entered

	done := make(chan int, 1)
	go func() {
		removed, _ := f.orch.Prune(context.Background(), 30*time.Minute)
		done <- removed
	}()

	select {
	case <-done:
		t.Fatal("prune must wait behind the running message")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, f.builder.Len(1), "window untouched while the run is in progress")

	close(release)
	res := <-results
	require.NoError(t, res.Err)
	assert.Equal(t, 2, <-done)
}

func TestPruneCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.respond = func(context.Context, backend.Request) (string, error) {
		close(entered)
		<-release
		return okPayload, nil
	}

	results := f.orch.Submit(context.Background(), message(1, 1, "question"))
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.orch.Prune(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, (<-results).Err)
}
