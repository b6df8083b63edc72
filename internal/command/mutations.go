package command

import (
	"sort"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/ordering"
	"github.com/roach88/theatresync/internal/state"
)

// schedulePatch turns an ordering patch over schedules into writes. skip
// names an id the caller writes itself.
func schedulePatch(st *state.Store, patch ordering.Patch, skip string) []state.Mutation {
	var muts []state.Mutation
	for _, id := range patchIDs(patch) {
		if id == skip {
			continue
		}
		v, ok := st.Schedule(id)
		if !ok || v.OrderIndex == patch[id] {
			continue
		}
		v.OrderIndex = patch[id]
		muts = append(muts, state.Put(v))
	}
	return muts
}

// casePatch is schedulePatch for cases.
func casePatch(st *state.Store, patch ordering.Patch, skip string) []state.Mutation {
	var muts []state.Mutation
	for _, id := range patchIDs(patch) {
		if id == skip {
			continue
		}
		v, ok := st.Case(id)
		if !ok || v.OrderIndex == patch[id] {
			continue
		}
		v.OrderIndex = patch[id]
		muts = append(muts, state.Put(v))
	}
	return muts
}

// regroup writes after, moving it out of before's grouping (followers shift
// up) and onto the end of its new grouping. It returns after with its new
// order_index.
func regroup(st *state.Store, before, after domain.Case) (domain.Case, []state.Mutation) {
	from, to := before.GroupKey(), after.GroupKey()
	if from == to {
		return after, []state.Mutation{state.Put(after)}
	}
	muts := casePatch(st, ordering.Remove(st.CaseGroupScope(from), before.ID), before.ID)
	after.OrderIndex = ordering.AppendPosition(st.CaseGroupScope(to))
	return after, append(muts, state.Put(after))
}

// orderOf returns the member ids of items once patch is applied, in
// position order. add joins the scope and drop leaves it.
func orderOf(items []ordering.Item, patch ordering.Patch, add, drop string) []string {
	members := make([]ordering.Item, 0, len(items)+1)
	for _, it := range items {
		if it.ID != add && it.ID != drop {
			members = append(members, it)
		}
	}
	if add != "" {
		members = append(members, ordering.Item{ID: add})
	}
	sorted := ordering.Sorted(ordering.Apply(members, patch))
	ids := make([]string, len(sorted))
	for i, it := range sorted {
		ids[i] = it.ID
	}
	return ids
}

// replaced removes an optimistic entity the authority stored under a
// different id.
func replaced(kind domain.EntityKind, optimistic, confirmed string) []state.Mutation {
	if optimistic == confirmed {
		return nil
	}
	return []state.Mutation{state.Delete(kind, optimistic)}
}

func putSchedules(list []domain.CaseSchedule) []state.Mutation {
	muts := make([]state.Mutation, len(list))
	for i, v := range list {
		muts[i] = state.Put(v)
	}
	return muts
}

func patchIDs(p ordering.Patch) []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
