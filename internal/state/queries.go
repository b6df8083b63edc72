package state

import (
	"sort"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/ordering"
)

// ListOptions filters case listings.
type ListOptions struct {
	// IncludeArchived keeps archived cases in the result.
	IncludeArchived bool
	// Status restricts the result to one status when set.
	Status domain.CaseStatus
}

// Cases lists cases ordered by (group, order_index, id). Archived cases are
// excluded unless opts.IncludeArchived is set.
func (s *Store) Cases(opts ListOptions) []domain.Case {
	s.mu.RLock()
	out := make([]domain.Case, 0, len(s.cases))
	for _, c := range s.cases {
		if c.Archived && !opts.IncludeArchived {
			continue
		}
		if opts.Status != "" && c.Status != opts.Status {
			continue
		}
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		gi, gj := out[i].GroupKey(), out[j].GroupKey()
		if gi != gj {
			return gi < gj
		}
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sessions lists theatre sessions ordered by (date, start time, id).
func (s *Store) Sessions() []domain.TheatreSession {
	s.mu.RLock()
	out := make([]domain.TheatreSession, 0, len(s.sessions))
	for _, v := range s.sessions {
		out = append(out, v.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Schedules lists every case schedule ordered by (session, order_index, id).
func (s *Store) Schedules() []domain.CaseSchedule {
	s.mu.RLock()
	out := make([]domain.CaseSchedule, 0, len(s.schedules))
	for _, v := range s.schedules {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sortSchedules(out)
	return out
}

// SessionSchedules lists the live schedules of a session in position order.
// Only live schedules take part in a session's ordering.
func (s *Store) SessionSchedules(sessionID string) []domain.CaseSchedule {
	s.mu.RLock()
	var out []domain.CaseSchedule
	for _, v := range s.schedules {
		if v.SessionID == sessionID && v.Live() {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()
	sortSchedules(out)
	return out
}

// LiveSchedules returns every live schedule of caseID. At rest there is at
// most one.
func (s *Store) LiveSchedules(caseID string) []domain.CaseSchedule {
	s.mu.RLock()
	var out []domain.CaseSchedule
	for _, v := range s.schedules {
		if v.CaseID == caseID && v.Live() {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()
	sortSchedules(out)
	return out
}

// LiveSchedule returns the live schedule of caseID when exactly one exists.
func (s *Store) LiveSchedule(caseID string) (domain.CaseSchedule, bool) {
	live := s.LiveSchedules(caseID)
	if len(live) != 1 {
		return domain.CaseSchedule{}, false
	}
	return live[0], true
}

// SessionScope returns the ordering scope of a session.
func (s *Store) SessionScope(sessionID string) []ordering.Item {
	schedules := s.SessionSchedules(sessionID)
	items := make([]ordering.Item, len(schedules))
	for i, v := range schedules {
		items[i] = ordering.Item{ID: v.ID, Index: v.OrderIndex}
	}
	return items
}

// CaseGroupScope returns the ordering scope of a case grouping key.
func (s *Store) CaseGroupScope(group string) []ordering.Item {
	s.mu.RLock()
	var items []ordering.Item
	for _, c := range s.cases {
		if c.GroupKey() == group {
			items = append(items, ordering.Item{ID: c.ID, Index: c.OrderIndex})
		}
	}
	s.mu.RUnlock()
	return ordering.Sorted(items)
}

// SessionIDs lists every session id referenced by a live schedule or known
// as a session, sorted.
func (s *Store) SessionIDs() []string {
	s.mu.RLock()
	set := make(map[string]struct{}, len(s.sessions))
	for id := range s.sessions {
		set[id] = struct{}{}
	}
	for _, v := range s.schedules {
		if v.Live() {
			set[v.SessionID] = struct{}{}
		}
	}
	s.mu.RUnlock()
	return sortedKeys(set)
}

func sortSchedules(out []domain.CaseSchedule) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
}
