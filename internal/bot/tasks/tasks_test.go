package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/assistbot/internal/config"
	"github.com/edgard/assistbot/internal/database"
)

type fakeStore struct {
	database.Store

	pruneCutoff    time.Time
	pruneErr       error
	maintenanceErr error
	maintenanceRan bool
}

func (s *fakeStore) PruneRuns(_ context.Context, cutoff time.Time) (int64, error) {
	s.pruneCutoff = cutoff
	return 4, s.pruneErr
}

func (s *fakeStore) RunSQLMaintenance(context.Context) error {
	s.maintenanceRan = true
	return s.maintenanceErr
}

type fakePruner struct{ maxAge time.Duration }

func (p *fakePruner) Prune(_ context.Context, maxAge time.Duration) (int, error) {
	p.maxAge = maxAge
	return 2, nil
}

type fakeReloader struct {
	calls int
	err   error
}

func (r *fakeReloader) ReloadDefault() error {
	r.calls++
	return r.err
}

func newDeps(store *fakeStore, pruner *fakePruner, reloader *fakeReloader) TaskDeps {
	return TaskDeps{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:        store,
		Context:      pruner,
		Instructions: reloader,
		Config: &config.Config{
			Assistant: config.AssistantConfig{MessageMaxAge: 24 * time.Hour},
			Database:  config.DatabaseConfig{RunRetention: 7 * 24 * time.Hour},
		},
	}
}

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()

	tasks := RegisterAllTasks(newDeps(&fakeStore{}, &fakePruner{}, &fakeReloader{}))
	for _, name := range []string{"instruction_reload", "context_prune", "journal_prune", "sql_maintenance"} {
		assert.Contains(t, tasks, name)
	}
	assert.Len(t, tasks, 4)
}

func TestContextPruneUsesMaxAge(t *testing.T) {
	t.Parallel()

	pruner := &fakePruner{}
	tasks := RegisterAllTasks(newDeps(&fakeStore{}, pruner, &fakeReloader{}))

	require.NoError(t, tasks["context_prune"](context.Background()))
	assert.Equal(t, 24*time.Hour, pruner.maxAge)
}

func TestJournalPruneUsesRetention(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tasks := RegisterAllTasks(newDeps(store, &fakePruner{}, &fakeReloader{}))

	before := time.Now()
	require.NoError(t, tasks["journal_prune"](context.Background()))
	assert.WithinDuration(t, before.Add(-7*24*time.Hour), store.pruneCutoff, time.Minute)

	store.pruneErr = errors.New("locked")
	require.ErrorContains(t, tasks["journal_prune"](context.Background()), "locked")
}

func TestInstructionReloadReportsFailure(t *testing.T) {
	t.Parallel()

	reloader := &fakeReloader{}
	tasks := RegisterAllTasks(newDeps(&fakeStore{}, &fakePruner{}, reloader))

	require.NoError(t, tasks["instruction_reload"](context.Background()))
	reloader.err = errors.New("empty instruction")
	require.Error(t, tasks["instruction_reload"](context.Background()))
	assert.Equal(t, 2, reloader.calls)
}

func TestSQLMaintenance(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tasks := RegisterAllTasks(newDeps(store, &fakePruner{}, &fakeReloader{}))

	require.NoError(t, tasks["sql_maintenance"](context.Background()))
	assert.True(t, store.maintenanceRan)

	store.maintenanceErr = errors.New("disk full")
	require.ErrorContains(t, tasks["sql_maintenance"](context.Background()), "disk full")
}
