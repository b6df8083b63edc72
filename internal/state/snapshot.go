package state

import (
	"sort"

	"github.com/roach88/theatresync/internal/domain"
)

// Snapshot captures a point-in-time copy of the store. Slices are sorted by
// id so equal stores produce equal snapshots.
type Snapshot struct {
	Cases     []domain.Case           `json:"cases"`
	Sessions  []domain.TheatreSession `json:"sessions"`
	Schedules []domain.CaseSchedule   `json:"schedules"`
}

// Entities flattens the snapshot into one slice: sessions, cases, schedules.
func (snap Snapshot) Entities() []domain.Entity {
	out := make([]domain.Entity, 0, len(snap.Cases)+len(snap.Sessions)+len(snap.Schedules))
	for _, v := range snap.Sessions {
		out = append(out, v)
	}
	for _, v := range snap.Cases {
		out = append(out, v)
	}
	for _, v := range snap.Schedules {
		out = append(out, v)
	}
	return out
}

// Sorted returns a copy of snap with every slice ordered by id.
func (snap Snapshot) Sorted() Snapshot {
	out := Snapshot{
		Cases:     make([]domain.Case, len(snap.Cases)),
		Sessions:  make([]domain.TheatreSession, len(snap.Sessions)),
		Schedules: make([]domain.CaseSchedule, len(snap.Schedules)),
	}
	for i, v := range snap.Cases {
		out.Cases[i] = v.Clone()
	}
	for i, v := range snap.Sessions {
		out.Sessions[i] = v.Clone()
	}
	copy(out.Schedules, snap.Schedules)
	sort.Slice(out.Cases, func(i, j int) bool { return out.Cases[i].ID < out.Cases[j].ID })
	sort.Slice(out.Sessions, func(i, j int) bool { return out.Sessions[i].ID < out.Sessions[j].ID })
	sort.Slice(out.Schedules, func(i, j int) bool { return out.Schedules[i].ID < out.Schedules[j].ID })
	return out
}

// Snapshot clones the current store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Cases:     make([]domain.Case, 0, len(s.cases)),
		Sessions:  make([]domain.TheatreSession, 0, len(s.sessions)),
		Schedules: make([]domain.CaseSchedule, 0, len(s.schedules)),
	}
	for _, v := range s.cases {
		snap.Cases = append(snap.Cases, v)
	}
	for _, v := range s.sessions {
		snap.Sessions = append(snap.Sessions, v)
	}
	for _, v := range s.schedules {
		snap.Schedules = append(snap.Schedules, v)
	}
	s.mu.RUnlock()
	return snap.Sorted()
}

// Restore replaces the store contents with snap wholesale. Entities absent
// from snap are removed. Every restored key gets a new revision, so undo
// records taken before the restore no longer apply to them.
func (s *Store) Restore(origin Origin, snap Snapshot) Undo {
	keep := make(map[Key]bool)
	var muts []Mutation
	for _, e := range snap.Entities() {
		keep[KeyOf(e)] = true
		muts = append(muts, Put(e))
	}

	s.mu.RLock()
	for id := range s.cases {
		if k := (Key{Kind: domain.KindCase, ID: id}); !keep[k] {
			muts = append(muts, Mutation{Key: k})
		}
	}
	for id := range s.sessions {
		if k := (Key{Kind: domain.KindSession, ID: id}); !keep[k] {
			muts = append(muts, Mutation{Key: k})
		}
	}
	for id := range s.schedules {
		if k := (Key{Kind: domain.KindSchedule, ID: id}); !keep[k] {
			muts = append(muts, Mutation{Key: k})
		}
	}
	s.mu.RUnlock()

	if len(muts) == 0 {
		return Undo{}
	}
	return s.Apply(origin, muts...)
}
