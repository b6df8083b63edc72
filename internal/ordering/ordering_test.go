package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/theatresync/internal/domain"
)

func scope(ids ...string) []Item {
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id, Index: i + 1}
	}
	return items
}

func indexOf(items []Item) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ID] = it.Index
	}
	return out
}

func TestDense(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  bool
	}{
		{"empty", nil, true},
		{"ordered", scope("a", "b", "c"), true},
		{"shuffled", []Item{{"a", 2}, {"b", 1}}, true},
		{"gap", []Item{{"a", 1}, {"b", 3}}, false},
		{"duplicate", []Item{{"a", 1}, {"b", 1}}, false},
		{"zero", []Item{{"a", 0}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dense(tt.items))
		})
	}
}

func TestInsertAt(t *testing.T) {
	items := scope("a", "b", "c")

	t.Run("middle shifts followers", func(t *testing.T) {
		patch := InsertAt(items, "x", 2)
		assert.Equal(t, Patch{"x": 2, "b": 3, "c": 4}, patch)
		assert.True(t, Dense(Apply(append(scope("a", "b", "c"), Item{ID: "x"}), patch)))
	})

	t.Run("zero appends", func(t *testing.T) {
		assert.Equal(t, Patch{"x": 4}, InsertAt(items, "x", 0))
	})

	t.Run("beyond end clamps to append", func(t *testing.T) {
		assert.Equal(t, Patch{"x": 4}, InsertAt(items, "x", 99))
	})

	t.Run("empty scope", func(t *testing.T) {
		assert.Equal(t, Patch{"x": 1}, InsertAt(nil, "x", 5))
	})
}

func TestRemove(t *testing.T) {
	patch := Remove(scope("a", "b", "c", "d"), "b")
	assert.Equal(t, Patch{"c": 2, "d": 3}, patch)

	assert.Empty(t, Remove(scope("a", "b"), "b"))
	assert.Empty(t, Remove(scope("a", "b"), "missing"))
}

func TestRemove_RepairsGaps(t *testing.T) {
	items := []Item{{"a", 1}, {"b", 4}, {"c", 9}}
	patch := Remove(items, "a")
	assert.Equal(t, Patch{"b": 1, "c": 2}, patch)
}

func TestMove(t *testing.T) {
	src := scope("a", "b", "c")
	dst := scope("x", "y")

	patch := Move(src, dst, "a", 1)
	assert.Equal(t, Patch{"b": 1, "c": 2, "a": 1, "x": 2, "y": 3}, patch)

	srcAfter := Apply(without(src, "a"), patch)
	dstAfter := Apply(append(dst, Item{ID: "a"}), patch)
	assert.True(t, Dense(srcAfter))
	assert.True(t, Dense(dstAfter))
}

func TestReposition(t *testing.T) {
	items := scope("a", "b", "c")
	patch := Reposition(items, "c", 1)
	assert.Equal(t, map[string]int{"c": 1, "a": 2, "b": 3}, indexOf(Apply(items, patch)))

	assert.Empty(t, Reposition(items, "b", 2))
}

func TestReorder(t *testing.T) {
	items := scope("A", "B", "C")

	patch, err := Reorder("s1", items, []string{"C", "A", "B"})
	require.NoError(t, err)
	after := Apply(items, patch)
	assert.Equal(t, map[string]int{"C": 1, "A": 2, "B": 3}, indexOf(after))

	again, err := Reorder("s1", after, []string{"C", "A", "B"})
	require.NoError(t, err)
	assert.Empty(t, again, "second application must be a no-op")
}

func TestReorder_ScopeMismatch(t *testing.T) {
	items := scope("A", "B", "C")

	tests := []struct {
		name  string
		order []string
	}{
		{"partial", []string{"A", "B"}},
		{"foreign id", []string{"A", "B", "Z"}},
		{"duplicate", []string{"A", "A", "B"}},
		{"extra", []string{"A", "B", "C", "D"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, err := Reorder("s1", items, tt.order)
			require.Error(t, err)
			assert.Nil(t, patch)
			assert.True(t, domain.IsScopeMismatch(err))
		})
	}
}

func TestNormalize(t *testing.T) {
	items := []Item{{"a", 5}, {"b", 2}, {"c", 2}}
	patch := Normalize(items)
	assert.Equal(t, map[string]int{"b": 1, "c": 2, "a": 3}, indexOf(Apply(items, patch)))
	assert.Empty(t, Normalize(scope("a", "b")))
}

func TestSameMembers(t *testing.T) {
	items := scope("a", "b")
	assert.True(t, SameMembers(items, []string{"b", "a"}))
	assert.False(t, SameMembers(items, []string{"a"}))
	assert.False(t, SameMembers(items, []string{"a", "a"}))
	assert.False(t, SameMembers(items, []string{"a", "c"}))
}

func TestSequences_StayDense(t *testing.T) {
	items := []Item{}
	apply := func(p Patch, added string) {
		if added != "" {
			items = append(items, Item{ID: added})
		}
		items = Apply(items, p)
		require.True(t, Dense(items), "scope not dense: %v", items)
	}

	apply(InsertAt(items, "a", 0), "a")
	apply(InsertAt(items, "b", 1), "b")
	apply(InsertAt(items, "c", 2), "c")
	apply(InsertAt(items, "d", 0), "d")

	p := Remove(items, "c")
	items = without(items, "c")
	apply(p, "")

	apply(Reposition(items, "d", 1), "")

	assert.Equal(t, map[string]int{"d": 1, "b": 2, "a": 3}, indexOf(items))
}
