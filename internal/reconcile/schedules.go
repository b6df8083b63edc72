package reconcile

import (
	"fmt"
	"sort"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/ordering"
	"github.com/roach88/theatresync/internal/state"
)

type scheduleHandler struct{ store *state.Store }

// create upserts the schedule and reports the session scopes it touches:
// its own and, when it moved, the one it left.
func (h scheduleHandler) create(c Change[domain.CaseSchedule]) Result {
	res := Result{EntityID: c.ID, Touched: []string{c.Entity.SessionID}}
	if prev, ok := h.store.Schedule(c.ID); ok && prev.SessionID != c.Entity.SessionID {
		res.Touched = append(res.Touched, prev.SessionID)
	}
	h.store.Upsert(state.OriginReconcile, c.Entity)
	return res
}

func (h scheduleHandler) update(c Change[domain.CaseSchedule]) Result { return h.create(c) }

// delete removes a known schedule and closes the gap it leaves, renumbering
// the remaining live members of its session. An unknown id is a no-op: the
// matching create may never have reached this client.
func (h scheduleHandler) delete(c Change[domain.CaseSchedule]) Result {
	prev, ok := h.store.Schedule(c.ID)
	if !ok {
		return Result{EntityID: c.ID, Noop: true}
	}

	muts := []state.Mutation{state.Delete(domain.KindSchedule, c.ID)}
	if prev.Live() {
		patch := ordering.Remove(h.store.SessionScope(prev.SessionID), c.ID)
		muts = append(muts, patchMutations(h.store, patch)...)
	}
	h.store.Apply(state.OriginReconcile, muts...)
	return Result{EntityID: c.ID, Touched: []string{prev.SessionID}}
}

// reorder replaces the session's ordering with the event's: position in the
// event is the new order_index. If the event's member set differs from the
// locally known live members, the event is still adopted and a resync is
// requested.
func (h scheduleHandler) reorder(c Change[domain.CaseSchedule]) (Result, error) {
	session := c.Scope
	if session == "" && len(c.Members) > 0 {
		session = c.Members[0].SessionID
	}
	if session == "" {
		return Result{}, malformed("schedule reorder without scope", nil)
	}
	for _, m := range c.Members {
		if m.SessionID != session {
			return Result{}, malformed(fmt.Sprintf("schedule %s belongs to session %s, not %s", m.ID, m.SessionID, session), nil)
		}
	}

	res := Result{EntityID: session, Touched: []string{session}}
	if !ordering.SameMembers(h.store.SessionScope(session), c.Order) {
		res.Resync = ResyncReorderMismatch
	}

	var muts []state.Mutation
	if c.Members != nil {
		for i, m := range c.Members {
			m.OrderIndex = i + 1
			muts = append(muts, state.Put(m))
		}
	} else {
		for i, id := range c.Order {
			v, ok := h.store.Schedule(id)
			if !ok {
				continue
			}
			v.OrderIndex = i + 1
			v.SessionID = session
			muts = append(muts, state.Put(v))
		}
	}
	h.store.Apply(state.OriginReconcile, muts...)
	return res, nil
}

// patchMutations turns an ordering patch over schedules into store writes.
func patchMutations(st *state.Store, patch ordering.Patch) []state.Mutation {
	muts := make([]state.Mutation, 0, len(patch))
	for _, id := range sortedIDs(patch) {
		v, ok := st.Schedule(id)
		if !ok {
			continue
		}
		v.OrderIndex = patch[id]
		muts = append(muts, state.Put(v))
	}
	return muts
}

// caseMutations is patchMutations for cases. Unchanged positions are skipped.
func caseMutations(st *state.Store, patch ordering.Patch) []state.Mutation {
	var muts []state.Mutation
	for _, id := range sortedIDs(patch) {
		v, ok := st.Case(id)
		if !ok || v.OrderIndex == patch[id] {
			continue
		}
		v.OrderIndex = patch[id]
		muts = append(muts, state.Put(v))
	}
	return muts
}

func sortedIDs(p ordering.Patch) []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
