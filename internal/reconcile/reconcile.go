// Package reconcile applies server-originated change events to the entity
// store.
//
// Envelopes are validated once at the boundary (CUE schema), decoded into a
// typed Change per entity kind, and dispatched through a handler that must
// implement every action for that kind. create and update upsert wholesale,
// delete removes and is a no-op for unknown ids, reorder replaces a whole
// scope's ordering. No ordering is assumed from the transport.
package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/ordering"
	"github.com/roach88/theatresync/internal/schema"
	"github.com/roach88/theatresync/internal/state"
)

// Resync reasons reported by the reconciler.
const (
	ResyncReorderMismatch = "reorder_mismatch"
)

// Result describes what one event did to the store.
type Result struct {
	Kind     domain.EntityKind
	Action   domain.Action
	EntityID string
	// Noop is set when the event changed nothing (unknown id on delete).
	Noop bool
	// Touched lists session ids whose ordering the event may have disturbed.
	Touched []string
	// Resync names the reason a full resynchronization is needed, if any.
	Resync string
}

// handler must handle every action for one entity kind.
type handler[T domain.Entity] interface {
	create(c Change[T]) Result
	update(c Change[T]) Result
	delete(c Change[T]) Result
	reorder(c Change[T]) (Result, error)
}

var (
	_ handler[domain.Case]           = caseHandler{}
	_ handler[domain.TheatreSession] = sessionHandler{}
	_ handler[domain.CaseSchedule]   = scheduleHandler{}
)

// Reconciler applies push events to a store. Call it from the store's single
// writer only.
type Reconciler struct {
	store     *state.Store
	validator *schema.Validator
}

// New returns a reconciler writing to st. A nil validator skips schema
// validation (replay of already-journaled events).
func New(st *state.Store, v *schema.Validator) *Reconciler {
	return &Reconciler{store: st, validator: v}
}

// HandlePush validates, decodes and applies one raw envelope. Errors are
// *MalformedError or *schema.ValidationError; the store is untouched when
// an error is returned.
func (r *Reconciler) HandlePush(raw []byte) (Result, error) {
	if r.validator != nil {
		if err := r.validator.Validate(raw); err != nil {
			return Result{}, err
		}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, malformed("decode envelope", err)
	}
	return r.Apply(env)
}

// Apply dispatches a decoded envelope to the handler of its entity kind.
func (r *Reconciler) Apply(env Envelope) (Result, error) {
	var (
		res Result
		err error
	)
	switch env.EntityKind {
	case domain.KindCase:
		res, err = dispatch[domain.Case](caseHandler{r.store}, env)
	case domain.KindSession:
		res, err = dispatch[domain.TheatreSession](sessionHandler{r.store}, env)
	case domain.KindSchedule:
		res, err = dispatch[domain.CaseSchedule](scheduleHandler{r.store}, env)
	default:
		return Result{}, malformed(fmt.Sprintf("unknown entity kind %q", env.EntityKind), nil)
	}
	if err != nil {
		return Result{}, err
	}
	res.Kind = env.EntityKind
	res.Action = env.Action
	return res, nil
}

func dispatch[T domain.Entity](h handler[T], env Envelope) (Result, error) {
	c, err := decodeChange[T](env)
	if err != nil {
		return Result{}, err
	}
	switch c.Action {
	case domain.ActionCreate:
		return h.create(c), nil
	case domain.ActionUpdate:
		return h.update(c), nil
	case domain.ActionDelete:
		return h.delete(c), nil
	case domain.ActionReorder:
		return h.reorder(c)
	}
	return Result{}, malformed(fmt.Sprintf("unknown action %q", c.Action), nil)
}

type caseHandler struct{ store *state.Store }

// create upserts the case. When the case left its grouping (another client
// triaged or scheduled it), the grouping it left is renumbered in the same
// write.
func (h caseHandler) create(c Change[domain.Case]) Result {
	muts := []state.Mutation{state.Put(c.Entity)}
	if prev, ok := h.store.Case(c.ID); ok && prev.GroupKey() != c.Entity.GroupKey() {
		patch := ordering.Remove(h.store.CaseGroupScope(prev.GroupKey()), c.ID)
		muts = append(muts, caseMutations(h.store, patch)...)
	}
	h.store.Apply(state.OriginReconcile, muts...)
	return Result{EntityID: c.ID}
}

func (h caseHandler) update(c Change[domain.Case]) Result { return h.create(c) }

// delete removes a known case and closes the gap it leaves in its grouping.
func (h caseHandler) delete(c Change[domain.Case]) Result {
	prev, ok := h.store.Case(c.ID)
	if !ok {
		return Result{EntityID: c.ID, Noop: true}
	}
	muts := []state.Mutation{state.Delete(domain.KindCase, c.ID)}
	patch := ordering.Remove(h.store.CaseGroupScope(prev.GroupKey()), c.ID)
	muts = append(muts, caseMutations(h.store, patch)...)
	h.store.Apply(state.OriginReconcile, muts...)
	return Result{EntityID: c.ID}
}

// reorder adopts the members' positions wholesale. The scope is the group
// key the members share.
func (h caseHandler) reorder(c Change[domain.Case]) (Result, error) {
	members := c.Members
	if members == nil {
		for _, id := range c.Order {
			if v, ok := h.store.Case(id); ok {
				members = append(members, v)
			}
		}
	}
	if len(members) == 0 {
		return Result{Noop: true}, nil
	}

	group := c.Scope
	if group == "" {
		group = members[0].GroupKey()
	}
	for _, m := range members {
		if m.GroupKey() != group {
			return Result{}, malformed(fmt.Sprintf("case %s is not in group %s", m.ID, group), nil)
		}
	}

	res := Result{EntityID: group}
	if !ordering.SameMembers(h.store.CaseGroupScope(group), c.Order) {
		res.Resync = ResyncReorderMismatch
	}

	muts := make([]state.Mutation, 0, len(members))
	for i, m := range members {
		m.OrderIndex = i + 1
		muts = append(muts, state.Put(m))
	}
	h.store.Apply(state.OriginReconcile, muts...)
	return res, nil
}

type sessionHandler struct{ store *state.Store }

func (h sessionHandler) create(c Change[domain.TheatreSession]) Result {
	h.store.Upsert(state.OriginReconcile, c.Entity)
	return Result{EntityID: c.ID}
}

func (h sessionHandler) update(c Change[domain.TheatreSession]) Result { return h.create(c) }

func (h sessionHandler) delete(c Change[domain.TheatreSession]) Result {
	if _, ok := h.store.Session(c.ID); !ok {
		return Result{EntityID: c.ID, Noop: true}
	}
	h.store.Remove(state.OriginReconcile, domain.KindSession, c.ID)
	return Result{EntityID: c.ID}
}

func (h sessionHandler) reorder(Change[domain.TheatreSession]) (Result, error) {
	return Result{}, malformed("theatre sessions have no order", nil)
}
