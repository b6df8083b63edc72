package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/ordering"
	"github.com/roach88/theatresync/internal/reconcile"
	"github.com/roach88/theatresync/internal/schema"
	"github.com/roach88/theatresync/internal/state"
	"github.com/roach88/theatresync/internal/store"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	snap    state.Snapshot
	err     error
	gate    chan struct{}
	started chan struct{}
}

func newFakeFetcher(snap state.Snapshot) *fakeFetcher {
	return &fakeFetcher{snap: snap, started: make(chan struct{}, 16)}
}

func (f *fakeFetcher) FetchState(ctx context.Context) (state.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	gate, snap, err := f.gate, f.snap, f.err
	f.mu.Unlock()

	f.started <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return state.Snapshot{}, ctx.Err()
		}
	}
	return snap, err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeJournal struct {
	mu     sync.Mutex
	events []store.EventRecord
	snaps  []store.SnapshotRecord
}

func (j *fakeJournal) AppendEvent(_ context.Context, rec store.EventRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, rec)
	return nil
}

func (j *fakeJournal) SaveSnapshot(_ context.Context, rec store.SnapshotRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snaps = append(j.snaps, rec)
	return nil
}

func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	st := state.New()
	opts = append([]Option{
		WithDensityGrace(0),
		WithResyncBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1) }),
	}, opts...)
	e := New(st, reconcile.New(st, schema.MustNew()), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func settle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Settle(ctx))
}

func sched(id, sessionID string, idx int) domain.CaseSchedule {
	return domain.CaseSchedule{
		Base:          domain.Base{ID: id},
		CaseID:        "case-" + id,
		SessionID:     sessionID,
		ScheduledDate: "2026-03-04",
		OrderIndex:    idx,
		Status:        domain.ScheduleScheduled,
	}
}

func push(t *testing.T, action domain.Action, s domain.CaseSchedule) []byte {
	t.Helper()
	env := map[string]any{"entity_kind": domain.KindSchedule, "action": action, "entity_id": s.ID}
	if action != domain.ActionDelete {
		env["payload"] = s
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestEngine_AppliesPushesInOrder(t *testing.T) {
	j := &fakeJournal{}
	e := startEngine(t, WithJournal(j))

	require.True(t, e.Deliver(push(t, domain.ActionCreate, sched("a", "s1", 1))))
	require.True(t, e.Deliver([]byte(`{"entity_kind":"case_schedule"`)))
	require.True(t, e.Deliver(push(t, domain.ActionCreate, sched("b", "s1", 2))))
	require.True(t, e.Deliver(push(t, domain.ActionDelete, sched("ghost", "s1", 1))))
	settle(t, e)

	assert.Equal(t, []ordering.Item{{ID: "a", Index: 1}, {ID: "b", Index: 2}}, e.Store().SessionScope("s1"))

	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.events, 4)
	for i, rec := range j.events {
		assert.Equal(t, int64(i+1), rec.Seq)
	}
	assert.Equal(t, OutcomeApplied, j.events[0].Outcome)
	assert.Equal(t, OutcomeDropped, j.events[1].Outcome, "a bad envelope is dropped, not fatal")
	assert.Equal(t, OutcomeApplied, j.events[2].Outcome)
	assert.Equal(t, OutcomeNoop, j.events[3].Outcome)
	assert.NotEmpty(t, j.events[0].Fingerprint)
	assert.Equal(t, int64(4), e.Clock().Current())
}

func TestEngine_SubmitRunsOnLoop(t *testing.T) {
	e := startEngine(t)

	var ran bool
	require.NoError(t, e.Submit(context.Background(), func() {
		e.Store().Upsert(state.OriginCommand, sched("a", "s1", 1))
		ran = true
	}))
	assert.True(t, ran)
	_, ok := e.Store().Schedule("a")
	assert.True(t, ok)
}

func TestEngine_SubmitAfterStop(t *testing.T) {
	st := state.New()
	e := New(st, reconcile.New(st, nil))
	done := make(chan error)
	go func() { done <- e.Run(context.Background()) }()

	e.Stop()
	require.NoError(t, <-done)

	err := e.Submit(context.Background(), func() {})
	assert.True(t, IsStopped(err))
	assert.False(t, e.Deliver([]byte(`{}`)))
}

func TestEngine_ResyncReplacesStoreAndReplaysBuffered(t *testing.T) {
	snap := state.Snapshot{Schedules: []domain.CaseSchedule{sched("x", "s1", 1), sched("y", "s1", 2)}}
	f := newFakeFetcher(snap)
	f.gate = make(chan struct{})
	j := &fakeJournal{}
	e := startEngine(t, WithFetcher(f), WithJournal(j))

	require.NoError(t, e.Submit(context.Background(), func() {
		e.Store().Upsert(state.OriginCommand, sched("stale", "s9", 1))
	}))

	e.RequestResync(ReasonManual)
	<-f.started

	e.Deliver(push(t, domain.ActionCreate, sched("z", "s1", 3)))
	close(f.gate)
	settle(t, e)

	_, stale := e.Store().Schedule("stale")
	assert.False(t, stale, "resync replaces the store wholesale")
	assert.Equal(t, []ordering.Item{{ID: "x", Index: 1}, {ID: "y", Index: 2}, {ID: "z", Index: 3}}, e.Store().SessionScope("s1"),
		"envelopes received during the fetch are applied after the snapshot")

	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.snaps, 1)
	assert.Equal(t, ReasonManual, j.snaps[0].Reason)
	assert.NotEmpty(t, j.snaps[0].Hash)
}

func TestEngine_ResyncRequestsCoalesce(t *testing.T) {
	f := newFakeFetcher(state.Snapshot{})
	f.gate = make(chan struct{})
	e := startEngine(t, WithFetcher(f))

	e.RequestResync("connect")
	<-f.started
	e.RequestResync("density")
	e.RequestResync("manual")
	require.NoError(t, e.Submit(context.Background(), func() {}))
	close(f.gate)
	settle(t, e)

	assert.Equal(t, 2, f.Calls(), "requests during a fetch collapse into one follow-up")
}

func TestEngine_ResyncFailureLeavesStore(t *testing.T) {
	f := newFakeFetcher(state.Snapshot{})
	f.err = errors.New("authority down")
	e := startEngine(t, WithFetcher(f))

	e.Deliver(push(t, domain.ActionCreate, sched("a", "s1", 1)))
	e.RequestResync(ReasonManual)
	settle(t, e)

	assert.Equal(t, 2, f.Calls(), "one try plus one retry")
	_, ok := e.Store().Schedule("a")
	assert.True(t, ok)
}

func TestEngine_DensityWatchTriggersResync(t *testing.T) {
	f := newFakeFetcher(state.Snapshot{Schedules: []domain.CaseSchedule{sched("a", "s1", 1), sched("b", "s1", 2)}})
	e := startEngine(t, WithFetcher(f))

	e.Deliver(push(t, domain.ActionCreate, sched("a", "s1", 1)))
	e.Deliver(push(t, domain.ActionCreate, sched("b", "s1", 2)))
	settle(t, e)
	assert.Equal(t, 0, f.Calls())

	e.Deliver(push(t, domain.ActionUpdate, sched("b", "s1", 5)))
	settle(t, e)

	assert.Equal(t, 1, f.Calls())
	assert.True(t, ordering.Dense(e.Store().SessionScope("s1")))
}

func TestEngine_DensityGraceToleratesTransientGap(t *testing.T) {
	f := newFakeFetcher(state.Snapshot{})
	e := startEngine(t, WithFetcher(f), WithDensityGrace(50*time.Millisecond))

	e.Deliver(push(t, domain.ActionCreate, sched("a", "s1", 1)))
	e.Deliver(push(t, domain.ActionCreate, sched("c", "s1", 3)))
	e.Deliver(push(t, domain.ActionCreate, sched("b", "s1", 2)))
	settle(t, e)

	assert.Equal(t, 0, f.Calls(), "gap closed before the grace interval elapsed")
}

func TestEngine_ReorderMismatchTriggersResync(t *testing.T) {
	f := newFakeFetcher(state.Snapshot{})
	e := startEngine(t, WithFetcher(f))

	e.Deliver(push(t, domain.ActionCreate, sched("a", "s1", 1)))
	raw, err := json.Marshal(map[string]any{
		"entity_kind": "case_schedule",
		"action":      "reorder",
		"payload":     []domain.CaseSchedule{sched("b", "s1", 1), sched("a", "s1", 2)},
	})
	require.NoError(t, err)
	e.Deliver(raw)
	settle(t, e)

	assert.Equal(t, 1, f.Calls())
}

func TestEngine_CheckScopesAfterRollback(t *testing.T) {
	f := newFakeFetcher(state.Snapshot{})
	e := startEngine(t, WithFetcher(f))

	require.NoError(t, e.Submit(context.Background(), func() {
		e.Store().Upsert(state.OriginRollback, sched("a", "s1", 2))
	}))
	require.True(t, e.CheckScopes("s1"))
	settle(t, e)

	assert.Equal(t, 1, f.Calls())
}

func TestEngine_NoFetcherIgnoresResync(t *testing.T) {
	e := startEngine(t)
	assert.True(t, e.RequestResync(ReasonManual))
	settle(t, e)
}

func TestEngine_ResyncWaitsAndReportsFailure(t *testing.T) {
	f := newFakeFetcher(state.Snapshot{Schedules: []domain.CaseSchedule{sched("a", "s1", 1)}})
	e := startEngine(t, WithFetcher(f))

	ctx := context.Background()
	require.NoError(t, e.Resync(ctx, ReasonManual))
	_, ok := e.Store().Schedule("a")
	assert.True(t, ok)

	f.mu.Lock()
	f.err = errors.New("authority down")
	f.mu.Unlock()
	assert.ErrorContains(t, e.Resync(ctx, ReasonManual), "authority down")

	assert.Error(t, startEngine(t).Resync(ctx, ReasonManual), "no fetcher")
}
