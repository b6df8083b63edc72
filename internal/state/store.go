// Package state holds the in-memory entity store: the single owner of every
// case, theatre session and case schedule the client knows about.
//
// Writes are expected from one goroutine only (the engine loop). Reads may
// come from anywhere and see a consistent view; the RWMutex guards readers
// against the writer, not writers against each other.
//
// Every write goes through Apply, which returns an Undo record scoped to that
// write. Reverting an Undo restores only the entries nobody has written
// since, so two in-flight commands never clobber each other's rollback data.
package state

import (
	"sort"
	"sync"

	"github.com/roach88/theatresync/internal/domain"
)

// Origin names the writer of a change.
type Origin string

// Writers of the entity store.
const (
	OriginCommand   Origin = "command"
	OriginConfirm   Origin = "confirm"
	OriginRollback  Origin = "rollback"
	OriginReconcile Origin = "reconcile"
	OriginResync    Origin = "resync"
)

// Key identifies one entity.
type Key struct {
	Kind domain.EntityKind
	ID   string
}

// KeyOf returns the key of e.
func KeyOf(e domain.Entity) Key {
	return Key{Kind: e.Kind(), ID: e.EntityID()}
}

// Mutation is one proposed write. A nil Entity removes the key.
type Mutation struct {
	Key    Key
	Entity domain.Entity
}

// Put proposes replacing (or inserting) e wholesale.
func Put(e domain.Entity) Mutation {
	return Mutation{Key: KeyOf(e), Entity: e}
}

// Delete proposes removing an entity. Removing an absent key is a no-op.
func Delete(kind domain.EntityKind, id string) Mutation {
	return Mutation{Key: Key{Kind: kind, ID: id}}
}

// Change is delivered to subscribers after each applied write.
type Change struct {
	Origin Origin
	Keys   []Key
}

// Undo restores the entries a single Apply call overwrote.
type Undo struct {
	entries []undoEntry
}

type undoEntry struct {
	key    Key
	before domain.Entity
	rev    uint64
}

// Empty reports whether the undo record holds nothing.
func (u Undo) Empty() bool { return len(u.entries) == 0 }

// Keys lists the entries the undo record covers.
func (u Undo) Keys() []Key {
	keys := make([]Key, len(u.entries))
	for i, e := range u.entries {
		keys[i] = e.key
	}
	return keys
}

// Merge combines undo records. Later records are reverted first.
func (u Undo) Merge(other Undo) Undo {
	out := make([]undoEntry, 0, len(u.entries)+len(other.entries))
	out = append(out, u.entries...)
	out = append(out, other.entries...)
	return Undo{entries: out}
}

// Store is the entity store.
type Store struct {
	mu        sync.RWMutex
	cases     map[string]domain.Case
	sessions  map[string]domain.TheatreSession
	schedules map[string]domain.CaseSchedule

	rev  uint64
	revs map[Key]uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		cases:     make(map[string]domain.Case),
		sessions:  make(map[string]domain.TheatreSession),
		schedules: make(map[string]domain.CaseSchedule),
		revs:      make(map[Key]uint64),
		subs:      make(map[int]func(Change)),
	}
}

// Get returns a copy of the entity under kind/id.
func (s *Store) Get(kind domain.EntityKind, id string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(Key{Kind: kind, ID: id})
}

func (s *Store) getLocked(k Key) (domain.Entity, bool) {
	switch k.Kind {
	case domain.KindCase:
		v, ok := s.cases[k.ID]
		if !ok {
			return nil, false
		}
		return v.Clone(), true
	case domain.KindSession:
		v, ok := s.sessions[k.ID]
		if !ok {
			return nil, false
		}
		return v.Clone(), true
	case domain.KindSchedule:
		v, ok := s.schedules[k.ID]
		if !ok {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

// Case returns a copy of the case with id.
func (s *Store) Case(id string) (domain.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	return c.Clone(), ok
}

// Session returns a copy of the theatre session with id.
func (s *Store) Session(id string) (domain.TheatreSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sessions[id]
	return v.Clone(), ok
}

// Schedule returns the case schedule with id.
func (s *Store) Schedule(id string) (domain.CaseSchedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.schedules[id]
	return v, ok
}

// List returns the entities of kind matching pred, ordered by id. A nil
// pred matches everything.
func (s *Store) List(kind domain.EntityKind, pred func(domain.Entity) bool) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	switch kind {
	case domain.KindCase:
		ids = sortedKeys(s.cases)
	case domain.KindSession:
		ids = sortedKeys(s.sessions)
	case domain.KindSchedule:
		ids = sortedKeys(s.schedules)
	}

	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		e, _ := s.getLocked(Key{Kind: kind, ID: id})
		if pred == nil || pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entities of kind.
func (s *Store) Len(kind domain.EntityKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case domain.KindCase:
		return len(s.cases)
	case domain.KindSession:
		return len(s.sessions)
	case domain.KindSchedule:
		return len(s.schedules)
	}
	return 0
}

// Upsert replaces or inserts e wholesale.
func (s *Store) Upsert(origin Origin, e domain.Entity) Undo {
	return s.Apply(origin, Put(e))
}

// Remove deletes kind/id if present.
func (s *Store) Remove(origin Origin, kind domain.EntityKind, id string) Undo {
	return s.Apply(origin, Delete(kind, id))
}

// Apply performs muts in order as one write and notifies subscribers once.
// The returned Undo restores what the write replaced.
func (s *Store) Apply(origin Origin, muts ...Mutation) Undo {
	if len(muts) == 0 {
		return Undo{}
	}

	s.mu.Lock()
	undo := Undo{entries: make([]undoEntry, 0, len(muts))}
	keys := make([]Key, 0, len(muts))
	for _, m := range muts {
		before, _ := s.getLocked(m.Key)
		rev := s.writeLocked(m.Key, m.Entity)
		undo.entries = append(undo.entries, undoEntry{key: m.Key, before: before, rev: rev})
		keys = append(keys, m.Key)
	}
	s.mu.Unlock()

	s.notify(Change{Origin: origin, Keys: keys})
	return undo
}

// Revert restores the entries recorded in u whose entity has not been
// written since. It returns the keys it restored and the keys it skipped
// because a later write superseded them.
func (s *Store) Revert(u Undo) (restored, superseded []Key) {
	if u.Empty() {
		return nil, nil
	}

	entries := make([]undoEntry, len(u.entries))
	copy(entries, u.entries)

	s.mu.Lock()
	// Later entries of the same key hold the more recent revision; walk
	// backwards so the first write's "before" wins.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if s.revs[e.key] != e.rev {
			if !containsKey(restored, e.key) && !containsKey(superseded, e.key) {
				superseded = append(superseded, e.key)
			}
			continue
		}
		rev := s.writeLocked(e.key, e.before)
		if !containsKey(restored, e.key) {
			restored = append(restored, e.key)
		}
		// The earlier entry of this key recorded the revision this entry
		// just overwrote.
		for j := i - 1; j >= 0; j-- {
			if entries[j].key == e.key {
				entries[j].rev = rev
				break
			}
		}
	}
	s.mu.Unlock()

	if len(restored) > 0 {
		s.notify(Change{Origin: OriginRollback, Keys: restored})
	}
	return restored, superseded
}

// writeLocked stores ent under k (nil removes) and bumps the key's revision.
func (s *Store) writeLocked(k Key, ent domain.Entity) uint64 {
	switch k.Kind {
	case domain.KindCase:
		if ent == nil {
			delete(s.cases, k.ID)
		} else {
			s.cases[k.ID] = ent.(domain.Case).Clone()
		}
	case domain.KindSession:
		if ent == nil {
			delete(s.sessions, k.ID)
		} else {
			s.sessions[k.ID] = ent.(domain.TheatreSession).Clone()
		}
	case domain.KindSchedule:
		if ent == nil {
			delete(s.schedules, k.ID)
		} else {
			s.schedules[k.ID] = ent.(domain.CaseSchedule)
		}
	}
	s.rev++
	s.revs[k] = s.rev
	return s.rev
}

// Subscribe registers fn to be called after every applied write. Callbacks
// run synchronously on the writer's goroutine and must not write to the
// store. The returned func unregisters fn.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func containsKey(keys []Key, k Key) bool {
	for _, v := range keys {
		if v == k {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
