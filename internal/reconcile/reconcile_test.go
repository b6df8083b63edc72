package reconcile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/ordering"
	"github.com/roach88/theatresync/internal/schema"
	"github.com/roach88/theatresync/internal/state"
)

func schedule(id, caseID, sessionID string, idx int) domain.CaseSchedule {
	return domain.CaseSchedule{
		Base:          domain.Base{ID: id},
		CaseID:        caseID,
		SessionID:     sessionID,
		ScheduledDate: "2026-03-04",
		OrderIndex:    idx,
		Status:        domain.ScheduleScheduled,
	}
}

func envelope(t *testing.T, kind domain.EntityKind, action domain.Action, id string, payload any) []byte {
	t.Helper()
	env := map[string]any{"entity_kind": kind, "action": action}
	if id != "" {
		env["entity_id"] = id
	}
	if payload != nil {
		env["payload"] = payload
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func newReconciler(t *testing.T) (*Reconciler, *state.Store) {
	t.Helper()
	st := state.New()
	return New(st, schema.MustNew()), st
}

func seedSession(st *state.Store, ids ...string) {
	muts := []state.Mutation{}
	for i, id := range ids {
		muts = append(muts, state.Put(schedule(id, "case-"+id, "s1", i+1)))
	}
	st.Apply(state.OriginResync, muts...)
}

func TestHandlePush_CreateUpdateIdempotent(t *testing.T) {
	r, st := newReconciler(t)

	c := domain.Case{Base: domain.Base{ID: "c1"}, Name: "A", Status: domain.StatusNewReferral, OrderIndex: 1}
	raw := envelope(t, domain.KindCase, domain.ActionCreate, "c1", c)

	res, err := r.HandlePush(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.KindCase, res.Kind)
	assert.Equal(t, domain.ActionCreate, res.Action)
	once := st.Snapshot()

	_, err = r.HandlePush(raw)
	require.NoError(t, err)
	assert.Equal(t, once, st.Snapshot())

	c.Name = "B"
	upd := envelope(t, domain.KindCase, domain.ActionUpdate, "c1", c)
	_, err = r.HandlePush(upd)
	require.NoError(t, err)
	twice := st.Snapshot()
	_, err = r.HandlePush(upd)
	require.NoError(t, err)
	assert.Equal(t, twice, st.Snapshot())

	got, _ := st.Case("c1")
	assert.Equal(t, "B", got.Name)
}

func TestHandlePush_UpdateUnknownInserts(t *testing.T) {
	r, st := newReconciler(t)
	raw := envelope(t, domain.KindSchedule, domain.ActionUpdate, "", schedule("x1", "c1", "s1", 1))

	res, err := r.HandlePush(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, res.Touched)
	_, ok := st.Schedule("x1")
	assert.True(t, ok)
}

func TestHandlePush_DeleteIdempotentAndCloses(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a", "b", "c")

	raw := envelope(t, domain.KindSchedule, domain.ActionDelete, "a", nil)
	res, err := r.HandlePush(raw)
	require.NoError(t, err)
	assert.False(t, res.Noop)
	once := st.Snapshot()

	res, err = r.HandlePush(raw)
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, once, st.Snapshot())

	assert.Equal(t, []ordering.Item{{ID: "b", Index: 1}, {ID: "c", Index: 2}}, st.SessionScope("s1"))
}

func TestHandlePush_DeleteBeforeCreate(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a", "b")

	res, err := r.HandlePush(envelope(t, domain.KindSchedule, domain.ActionDelete, "ghost", nil))
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, 2, st.Len(domain.KindSchedule))

	_, err = r.HandlePush(envelope(t, domain.KindSchedule, domain.ActionCreate, "c", schedule("c", "case-c", "s1", 3)))
	require.NoError(t, err)
	assert.True(t, ordering.Dense(st.SessionScope("s1")))
}

func TestHandlePush_FollowerUpdatesBeforeDelete(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a", "b", "c")

	for _, s := range []domain.CaseSchedule{schedule("b", "case-b", "s1", 1), schedule("c", "case-c", "s1", 2)} {
		_, err := r.HandlePush(envelope(t, domain.KindSchedule, domain.ActionUpdate, s.ID, s))
		require.NoError(t, err)
	}
	_, err := r.HandlePush(envelope(t, domain.KindSchedule, domain.ActionDelete, "a", nil))
	require.NoError(t, err)

	assert.Equal(t, []ordering.Item{{ID: "b", Index: 1}, {ID: "c", Index: 2}}, st.SessionScope("s1"))
}

func TestHandlePush_MoveTouchesBothSessions(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a")

	res, err := r.HandlePush(envelope(t, domain.KindSchedule, domain.ActionUpdate, "a", schedule("a", "case-a", "s2", 1)))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, res.Touched)
}

func TestHandlePush_ReorderReplacesScope(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a", "b", "c")

	payload := []domain.CaseSchedule{
		schedule("c", "case-c", "s1", 1),
		schedule("a", "case-a", "s1", 2),
		schedule("b", "case-b", "s1", 3),
	}
	raw := envelope(t, domain.KindSchedule, domain.ActionReorder, "", payload)

	res, err := r.HandlePush(raw)
	require.NoError(t, err)
	assert.Empty(t, res.Resync)
	assert.Equal(t, []ordering.Item{{ID: "c", Index: 1}, {ID: "a", Index: 2}, {ID: "b", Index: 3}}, st.SessionScope("s1"))

	again := st.Snapshot()
	_, err = r.HandlePush(raw)
	require.NoError(t, err)
	assert.Equal(t, again, st.Snapshot())
}

func TestHandlePush_ReorderByIDs(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a", "b")

	raw, err := json.Marshal(map[string]any{
		"entity_kind": "case_schedule",
		"action":      "reorder",
		"scope_id":    "s1",
		"entity_ids":  []string{"b", "a"},
	})
	require.NoError(t, err)

	res, err := r.HandlePush(raw)
	require.NoError(t, err)
	assert.Empty(t, res.Resync)
	assert.Equal(t, []ordering.Item{{ID: "b", Index: 1}, {ID: "a", Index: 2}}, st.SessionScope("s1"))
}

func TestHandlePush_ReorderMismatchRequestsResync(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a", "b")

	payload := []domain.CaseSchedule{
		schedule("z", "case-z", "s1", 1),
		schedule("b", "case-b", "s1", 2),
		schedule("a", "case-a", "s1", 3),
	}
	res, err := r.HandlePush(envelope(t, domain.KindSchedule, domain.ActionReorder, "", payload))
	require.NoError(t, err)
	assert.Equal(t, ResyncReorderMismatch, res.Resync)

	assert.Equal(t, []ordering.Item{{ID: "z", Index: 1}, {ID: "b", Index: 2}, {ID: "a", Index: 3}}, st.SessionScope("s1"),
		"the event is still adopted wholesale")
}

func TestHandlePush_CaseReorder(t *testing.T) {
	r, st := newReconciler(t)
	st.Apply(state.OriginResync,
		state.Put(domain.Case{Base: domain.Base{ID: "c1"}, Status: domain.StatusAwaitingSurgery, OrderIndex: 1}),
		state.Put(domain.Case{Base: domain.Base{ID: "c2"}, Status: domain.StatusAwaitingSurgery, OrderIndex: 2}),
	)
	payload := []domain.Case{
		{Base: domain.Base{ID: "c2"}, Name: "two", Status: domain.StatusAwaitingSurgery, OrderIndex: 1},
		{Base: domain.Base{ID: "c1"}, Name: "one", Status: domain.StatusAwaitingSurgery, OrderIndex: 2},
	}
	res, err := r.HandlePush(envelope(t, domain.KindCase, domain.ActionReorder, "", payload))
	require.NoError(t, err)
	assert.Empty(t, res.Resync)
	assert.Equal(t, []ordering.Item{{ID: "c2", Index: 1}, {ID: "c1", Index: 2}}, st.CaseGroupScope("awaiting_surgery"))
}

func seedReferrals(st *state.Store, ids ...string) {
	muts := []state.Mutation{}
	for i, id := range ids {
		muts = append(muts, state.Put(domain.Case{Base: domain.Base{ID: id}, Name: id, Status: domain.StatusNewReferral, OrderIndex: i + 1}))
	}
	st.Apply(state.OriginResync, muts...)
}

func TestHandlePush_CaseDeleteClosesGroupGap(t *testing.T) {
	r, st := newReconciler(t)
	seedReferrals(st, "a", "b", "c")

	raw := envelope(t, domain.KindCase, domain.ActionDelete, "a", nil)
	res, err := r.HandlePush(raw)
	require.NoError(t, err)
	assert.False(t, res.Noop)
	once := st.Snapshot()

	res, err = r.HandlePush(raw)
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, once, st.Snapshot())

	assert.Equal(t, []ordering.Item{{ID: "b", Index: 1}, {ID: "c", Index: 2}}, st.CaseGroupScope("new_referral"))
}

func TestHandlePush_CaseRegroupClosesOldGroupGap(t *testing.T) {
	r, st := newReconciler(t)
	seedReferrals(st, "a", "b", "c")

	triaged := domain.Case{Base: domain.Base{ID: "b"}, Name: "b", Status: domain.StatusAwaitingSurgery, OrderIndex: 1}
	_, err := r.HandlePush(envelope(t, domain.KindCase, domain.ActionUpdate, "b", triaged))
	require.NoError(t, err)

	assert.Equal(t, []ordering.Item{{ID: "a", Index: 1}, {ID: "c", Index: 2}}, st.CaseGroupScope("new_referral"))
	assert.Equal(t, []ordering.Item{{ID: "b", Index: 1}}, st.CaseGroupScope("awaiting_surgery"))
}

func TestHandlePush_CaseUpdateInGroupKeepsFollowers(t *testing.T) {
	r, st := newReconciler(t)
	seedReferrals(st, "a", "b")

	renamed := domain.Case{Base: domain.Base{ID: "a"}, Name: "renamed", Status: domain.StatusNewReferral, OrderIndex: 1}
	_, err := r.HandlePush(envelope(t, domain.KindCase, domain.ActionUpdate, "a", renamed))
	require.NoError(t, err)

	assert.Equal(t, []ordering.Item{{ID: "a", Index: 1}, {ID: "b", Index: 2}}, st.CaseGroupScope("new_referral"))
}

func TestHandlePush_MalformedLeavesStoreUntouched(t *testing.T) {
	r, st := newReconciler(t)
	seedSession(st, "a")
	before := st.Snapshot()

	bad := [][]byte{
		[]byte(`{"entity_kind":`),
		[]byte(`{"entity_kind":"case","action":"explode","entity_id":"a"}`),
		[]byte(`{"entity_kind":"case","action":"create"}`),
		envelope(t, domain.KindSchedule, domain.ActionUpdate, "other", schedule("a", "case-a", "s1", 1)),
		envelope(t, domain.KindSession, domain.ActionReorder, "", []any{}),
	}
	for _, raw := range bad {
		_, err := r.HandlePush(raw)
		assert.Error(t, err, string(raw))
	}
	assert.Equal(t, before, st.Snapshot())
}

func TestHandlePush_ErrorTypes(t *testing.T) {
	r, _ := newReconciler(t)

	_, err := r.HandlePush([]byte(`{"entity_kind":"case","action":"delete"}`))
	var ve *schema.ValidationError
	assert.True(t, errors.As(err, &ve))

	noSchema := New(state.New(), nil)
	_, err = noSchema.HandlePush([]byte(`{"entity_kind":"case","action":"delete"}`))
	var me *MalformedError
	assert.True(t, errors.As(err, &me))
}
