package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/state"
)

// Operation names recorded by FakeAuthority and accepted by its failure
// injection.
const (
	OpFetchState       = "FetchState"
	OpCreateCase       = "CreateCase"
	OpUpdateCase       = "UpdateCase"
	OpDeleteCase       = "DeleteCase"
	OpCreateSchedule   = "CreateSchedule"
	OpUpdateSchedule   = "UpdateSchedule"
	OpDeleteSchedule   = "DeleteSchedule"
	OpReorderSchedules = "ReorderSchedules"
)

// ErrInjected is the default injected failure.
var ErrInjected = errors.New("injected failure")

// FakeAuthority is an in-memory server of record. It accepts every write
// the real authority would, renumbers sessions on reorder, and can be told
// to fail or block specific operations.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeAuthority struct {
	mu        sync.Mutex
	cases     map[string]domain.Case
	sessions  map[string]domain.TheatreSession
	schedules map[string]domain.CaseSchedule
	failNext  map[string][]error
	failAll   map[string]error
	blocks    map[string]chan struct{}
	calls     []string
	idPrefix  string
	n         int
}

// NewFakeAuthority returns an empty authority.
func NewFakeAuthority() *FakeAuthority {
	return &FakeAuthority{
		cases:     make(map[string]domain.Case),
		sessions:  make(map[string]domain.TheatreSession),
		schedules: make(map[string]domain.CaseSchedule),
		failNext:  make(map[string][]error),
		failAll:   make(map[string]error),
		blocks:    make(map[string]chan struct{}),
	}
}

// Seed replaces the authority's state.
func (f *FakeAuthority) Seed(snap state.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.cases)
	clear(f.sessions)
	clear(f.schedules)
	for _, v := range snap.Cases {
		f.cases[v.ID] = v.Clone()
	}
	for _, v := range snap.Sessions {
		f.sessions[v.ID] = v.Clone()
	}
	for _, v := range snap.Schedules {
		f.schedules[v.ID] = v
	}
}

// State returns the authority's state, sorted.
func (f *FakeAuthority) State() state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// FailNext makes the next call of op fail with err (ErrInjected if nil).
// Repeated calls queue further failures.
func (f *FakeAuthority) FailNext(op string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = append(f.failNext[op], err)
}

// FailAlways makes every call of op fail until Heal.
func (f *FakeAuthority) FailAlways(op string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll[op] = err
}

// Heal clears every injected failure.
func (f *FakeAuthority) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.failNext)
	clear(f.failAll)
}

// Block makes calls of op wait until the returned release is called or
// their context ends.
func (f *FakeAuthority) Block(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocks[op] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.blocks, op)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// RewriteIDs makes created entities get server-assigned ids prefix-1,
// prefix-2, ... instead of the client's.
func (f *FakeAuthority) RewriteIDs(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idPrefix = prefix
}

// Calls returns the operations invoked so far, in order.
func (f *FakeAuthority) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// enter records op and applies blocking and failure injection.
func (f *FakeAuthority) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	block := f.blocks[op]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.failNext[op]; len(q) > 0 {
		f.failNext[op] = q[1:]
		return q[0]
	}
	return f.failAll[op]
}

func (f *FakeAuthority) newID(id string) string {
	if f.idPrefix == "" {
		return id
	}
	f.n++
	return fmt.Sprintf("%s-%d", f.idPrefix, f.n)
}

// FetchState implements the resync fetch.
func (f *FakeAuthority) FetchState(ctx context.Context) (state.Snapshot, error) {
	if err := f.enter(ctx, OpFetchState); err != nil {
		return state.Snapshot{}, err
	}
	return f.State(), nil
}

// CreateCase stores a new case.
func (f *FakeAuthority) CreateCase(ctx context.Context, c domain.Case) (domain.Case, error) {
	if err := f.enter(ctx, OpCreateCase); err != nil {
		return domain.Case{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.newID(c.ID)
	f.cases[c.ID] = c.Clone()
	return c, nil
}

// UpdateCase replaces an existing case.
func (f *FakeAuthority) UpdateCase(ctx context.Context, c domain.Case) (domain.Case, error) {
	if err := f.enter(ctx, OpUpdateCase); err != nil {
		return domain.Case{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[c.ID]; !ok {
		return domain.Case{}, fmt.Errorf("case %s: not found", c.ID)
	}
	f.cases[c.ID] = c.Clone()
	return c, nil
}

// DeleteCase removes a case.
func (f *FakeAuthority) DeleteCase(ctx context.Context, id string) error {
	if err := f.enter(ctx, OpDeleteCase); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[id]; !ok {
		return fmt.Errorf("case %s: not found", id)
	}
	delete(f.cases, id)
	return nil
}

// CreateSchedule stores a new schedule.
func (f *FakeAuthority) CreateSchedule(ctx context.Context, s domain.CaseSchedule) (domain.CaseSchedule, error) {
	if err := f.enter(ctx, OpCreateSchedule); err != nil {
		return domain.CaseSchedule{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.newID(s.ID)
	f.schedules[s.ID] = s
	return s, nil
}

// UpdateSchedule replaces an existing schedule.
func (f *FakeAuthority) UpdateSchedule(ctx context.Context, s domain.CaseSchedule) (domain.CaseSchedule, error) {
	if err := f.enter(ctx, OpUpdateSchedule); err != nil {
		return domain.CaseSchedule{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[s.ID]; !ok {
		return domain.CaseSchedule{}, fmt.Errorf("schedule %s: not found", s.ID)
	}
	f.schedules[s.ID] = s
	return s, nil
}

// DeleteSchedule removes a schedule.
func (f *FakeAuthority) DeleteSchedule(ctx context.Context, id string) error {
	if err := f.enter(ctx, OpDeleteSchedule); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return fmt.Errorf("schedule %s: not found", id)
	}
	delete(f.schedules, id)
	return nil
}

// ReorderSchedules renumbers a session's live schedules by position in ids
// and returns the normalized set. ids must name exactly those schedules.
func (f *FakeAuthority) ReorderSchedules(ctx context.Context, sessionID string, ids []string) ([]domain.CaseSchedule, error) {
	if err := f.enter(ctx, OpReorderSchedules); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	live := 0
	for _, v := range f.schedules {
		if v.SessionID == sessionID && v.Live() {
			live++
		}
	}
	if live != len(ids) {
		return nil, fmt.Errorf("session %s has %d live schedules, reorder lists %d", sessionID, live, len(ids))
	}
	out := make([]domain.CaseSchedule, 0, len(ids))
	for i, id := range ids {
		v, ok := f.schedules[id]
		if !ok || v.SessionID != sessionID || !v.Live() {
			return nil, fmt.Errorf("schedule %s is not live in session %s", id, sessionID)
		}
		v.OrderIndex = i + 1
		out = append(out, v)
	}
	for _, v := range out {
		f.schedules[v.ID] = v
	}
	return out, nil
}

func (f *FakeAuthority) snapshotLocked() state.Snapshot {
	var snap state.Snapshot
	for _, v := range f.cases {
		snap.Cases = append(snap.Cases, v.Clone())
	}
	for _, v := range f.sessions {
		snap.Sessions = append(snap.Sessions, v.Clone())
	}
	for _, v := range f.schedules {
		snap.Schedules = append(snap.Schedules, v)
	}
	sort.Slice(snap.Cases, func(i, j int) bool { return snap.Cases[i].ID < snap.Cases[j].ID })
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].ID < snap.Sessions[j].ID })
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].ID < snap.Schedules[j].ID })
	return snap
}
