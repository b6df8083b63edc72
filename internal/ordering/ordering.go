// Package ordering computes dense 1-based positions within a scope.
//
// Every function is pure: it reads a snapshot of one scope's members and
// returns a Patch naming the new order_index of each member whose position
// changes. Callers apply the patch to the entity store in one step so no
// half-applied ordering is ever observed.
//
// Results are always dense (1..N) regardless of the gaps or duplicates in the
// input. Members are ranked by (Index, ID) before renumbering.
package ordering

import (
	"fmt"
	"sort"

	"github.com/roach88/theatresync/internal/domain"
)

// Item is one member of a scope.
type Item struct {
	ID    string
	Index int
}

// Patch maps member id to its new order_index. Members absent from the
// patch keep their index.
type Patch map[string]int

// Merge returns a patch holding p's entries overridden by other's.
func (p Patch) Merge(other Patch) Patch {
	out := make(Patch, len(p)+len(other))
	for id, idx := range p {
		out[id] = idx
	}
	for id, idx := range other {
		out[id] = idx
	}
	return out
}

// Sorted returns a copy of items ranked by (Index, ID).
func Sorted(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Dense reports whether the indices in items form a permutation of 1..N.
func Dense(items []Item) bool {
	seen := make([]bool, len(items)+1)
	for _, it := range items {
		if it.Index < 1 || it.Index > len(items) || seen[it.Index] {
			return false
		}
		seen[it.Index] = true
	}
	return true
}

// Normalize renumbers the scope 1..N keeping its current relative order.
func Normalize(items []Item) Patch {
	return renumber(items, idsOf(Sorted(items)))
}

// AppendPosition returns the 1-based position one past the end of the scope.
func AppendPosition(items []Item) int {
	return len(items) + 1
}

// InsertAt proposes the patch for inserting id at position pos. Members at
// pos and after shift by +1. A pos below 1 or beyond the end appends.
// The patch includes id itself.
func InsertAt(items []Item, id string, pos int) Patch {
	rest := idsOf(Sorted(without(items, id)))
	return renumber(items, insert(rest, id, pos))
}

// Remove proposes the patch for removing id. Members after it shift by -1.
// The patch never names id.
func Remove(items []Item, id string) Patch {
	rest := without(items, id)
	return renumber(rest, idsOf(Sorted(rest)))
}

// Reposition moves id to pos within its own scope.
func Reposition(items []Item, id string, pos int) Patch {
	return InsertAt(items, id, pos)
}

// Move proposes one combined patch for moving id out of src and into dst at
// pos. src and dst must be different scopes.
func Move(src, dst []Item, id string, pos int) Patch {
	return Remove(src, id).Merge(InsertAt(dst, id, pos))
}

// Reorder assigns positions 1..N from order. order must be a permutation of
// exactly the scope's members; anything else is a SCOPE_MISMATCH naming
// scope. Reapplying an order already in effect yields an empty patch.
func Reorder(scope string, items []Item, order []string) (Patch, error) {
	if len(order) != len(items) {
		return nil, domain.NewScopeMismatch(scope,
			fmt.Sprintf("reorder lists %d ids but scope has %d members", len(order), len(items)))
	}
	members := make(map[string]bool, len(items))
	for _, it := range items {
		members[it.ID] = true
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if !members[id] {
			return nil, domain.NewScopeMismatch(scope, fmt.Sprintf("%s is not a member of the scope", id))
		}
		if seen[id] {
			return nil, domain.NewScopeMismatch(scope, fmt.Sprintf("%s listed twice", id))
		}
		seen[id] = true
	}
	return renumber(items, order), nil
}

// Apply returns items with patch applied.
func Apply(items []Item, patch Patch) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		if idx, ok := patch[it.ID]; ok {
			it.Index = idx
		}
		out[i] = it
	}
	return out
}

// SameMembers reports whether items and ids name exactly the same set.
func SameMembers(items []Item, ids []string) bool {
	if len(items) != len(ids) {
		return false
	}
	set := make(map[string]int, len(items))
	for _, it := range items {
		set[it.ID]++
	}
	for _, id := range ids {
		if set[id] == 0 {
			return false
		}
		set[id]--
	}
	return true
}

// renumber gives order[i] the index i+1 and reports only the members of
// items whose index changes. Ids in order but not in items are new and
// always reported.
func renumber(items []Item, order []string) Patch {
	current := make(map[string]int, len(items))
	for _, it := range items {
		current[it.ID] = it.Index
	}
	patch := make(Patch)
	for i, id := range order {
		idx, ok := current[id]
		if !ok || idx != i+1 {
			patch[id] = i + 1
		}
	}
	return patch
}

func insert(ids []string, id string, pos int) []string {
	if pos < 1 || pos > len(ids) {
		return append(ids, id)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:pos-1]...)
	out = append(out, id)
	return append(out, ids[pos-1:]...)
}

func without(items []Item, id string) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

func idsOf(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
