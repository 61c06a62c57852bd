package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/dyncomp/internal/instance"
)

type box struct{ n int }

func (b *box) N() int { return b.n }

func newInstance(n int) instance.Instance {
	return instance.Reflect(&box{n: n})
}

// requireInverse asserts byID and byInstance mirror each other exactly.
func requireInverse(t require.TestingT, r *Registry) {
	require.Equal(t, len(r.byID), len(r.byInstance))
	for id, inst := range r.byID {
		require.Equal(t, id, r.byInstance[instance.Identity(inst)])
	}
	for key, id := range r.byInstance {
		inst, ok := r.byID[id]
		require.True(t, ok)
		require.Equal(t, key, instance.Identity(inst))
	}
}

// === Unit Tests: Register ===

func TestRegistry_Register(t *testing.T) {
	r := New()
	inst := newInstance(1)

	require.NoError(t, r.Register("a", inst))

	got, ok := r.Lookup("a")
	require.True(t, ok)
	require.Same(t, inst, got)
	require.Equal(t, "a", r.ReverseLookup(inst))
	require.True(t, r.Contains("a"))
	require.Equal(t, 1, r.Len())
}

func TestRegistry_Register_TwiceFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", newInstance(1)))

	err := r.Register("a", newInstance(2))
	require.ErrorIs(t, err, ErrDuplicateIdentifier)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_Register_SameInstanceTwiceFails(t *testing.T) {
	r := New()
	inst := newInstance(1)
	require.NoError(t, r.Register("a", inst))

	err := r.Register("b", inst)
	require.ErrorIs(t, err, ErrDuplicateIdentifier)
	requireInverse(t, r)
}

func TestRegistry_Register_RejectsEmptyAndNil(t *testing.T) {
	r := New()
	require.ErrorIs(t, r.Register("", newInstance(1)), ErrInvalidIdentifier)
	require.ErrorIs(t, r.Register("a", nil), ErrInvalidIdentifier)
	require.Equal(t, 0, r.Len())
}

func TestRegistry_RegisterAfterUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", newInstance(1)))
	_, ok := r.Unregister("a")
	require.True(t, ok)
	require.NoError(t, r.Register("a", newInstance(2)))
}

// === Unit Tests: Unregister ===

func TestRegistry_Unregister_AbsentIsNoop(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", newInstance(1)))

	inst, ok := r.Unregister("missing")
	require.False(t, ok)
	require.Nil(t, inst)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_Unregister_RemovesBothMappings(t *testing.T) {
	r := New()
	inst := newInstance(1)
	require.NoError(t, r.Register("a", inst))

	_, ok := r.Unregister("a")
	require.True(t, ok)

	_, found := r.Lookup("a")
	require.False(t, found)
	require.Empty(t, r.ReverseLookup(inst))
}

// === Unit Tests: Rename ===

func TestRegistry_Rename(t *testing.T) {
	r := New()
	inst := newInstance(1)
	require.NoError(t, r.Register("old", inst))

	require.NoError(t, r.Rename("old", "new"))

	_, ok := r.Lookup("old")
	require.False(t, ok)
	got, ok := r.Lookup("new")
	require.True(t, ok)
	require.Same(t, inst, got)
	require.Equal(t, "new", r.ReverseLookup(inst))
}

func TestRegistry_Rename_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		from, to string
	}{
		{name: "missing source", existing: []string{"b"}, from: "a", to: "c"},
		{name: "taken target", existing: []string{"a", "b"}, from: "a", to: "b"},
		{name: "same id", existing: []string{"a"}, from: "a", to: "a"},
		{name: "empty target", existing: []string{"a"}, from: "a", to: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			for i, id := range tt.existing {
				require.NoError(t, r.Register(id, newInstance(i)))
			}

			err := r.Rename(tt.from, tt.to)
			require.ErrorIs(t, err, ErrInvalidIdentifier)
			require.Equal(t, tt.existing, r.IDs())
		})
	}
}

// === Unit Tests: RenameMatching ===

func TestRegistry_RenameMatching(t *testing.T) {
	r := New()
	for i, id := range []string{"card1", "card1_title", "card1_body", "card2"} {
		require.NoError(t, r.Register(id, newInstance(i)))
	}
	title, _ := r.Lookup("card1_title")

	moves, err := r.RenameMatching("card1", "hero")
	require.NoError(t, err)
	require.Equal(t, []Renamed{
		{From: "card1", To: "hero"},
		{From: "card1_body", To: "hero_body"},
		{From: "card1_title", To: "hero_title"},
	}, moves)
	require.Equal(t, []string{"card2", "hero", "hero_body", "hero_title"}, r.IDs())
	require.Equal(t, "hero_title", r.ReverseLookup(title))
	requireInverse(t, r)
}

func TestRegistry_RenameMatching_CollisionMovesNothing(t *testing.T) {
	r := New()
	for i, id := range []string{"a", "a_x", "b_x"} {
		require.NoError(t, r.Register(id, newInstance(i)))
	}

	_, err := r.RenameMatching("a", "b")
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	require.Equal(t, []string{"a", "a_x", "b_x"}, r.IDs())
	requireInverse(t, r)
}

func TestRegistry_RenameMatching_RequiresExactSource(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("card1_title", newInstance(1)))

	_, err := r.RenameMatching("card1", "hero")
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := New()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(id, newInstance(i)))
	}
	require.Equal(t, []string{"a", "b", "c"}, r.IDs())
}

func TestRegistry_ReverseLookupByWrappedValue(t *testing.T) {
	r := New()
	b := &box{n: 7}
	require.NoError(t, r.Register("seven", instance.Reflect(b)))

	require.Equal(t, "seven", r.ReverseLookup(b))
	require.Equal(t, "seven", r.ReverseLookup(instance.Reflect(b)))
	require.Empty(t, r.ReverseLookup(&box{n: 7}))
	require.Empty(t, r.ReverseLookup(nil))
}

// === Property-Based Tests ===

func TestRegistry_Property_MapsStayInverse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		ids := rapid.SliceOfN(rapid.StringMatching(`[a-d]{1,2}`), 1, 8).Draw(t, "ids")
		pool := make([]instance.Instance, 6)
		for i := range pool {
			pool[i] = newInstance(i)
		}

		numOps := rapid.IntRange(1, 60).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			id := rapid.SampledFrom(ids).Draw(t, "id")
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				inst := rapid.SampledFrom(pool).Draw(t, "inst")
				_ = r.Register(id, inst)
			case 1:
				r.Unregister(id)
			case 2:
				to := rapid.SampledFrom(ids).Draw(t, "to")
				before := r.Contains(id) && !r.Contains(to)
				inst, _ := r.Lookup(id)
				err := r.Rename(id, to)
				if before {
					if err != nil {
						t.Fatalf("rename %q -> %q failed: %v", id, to, err)
					}
					if got, _ := r.Lookup(to); got != inst {
						t.Fatalf("rename %q -> %q lost the instance", id, to)
					}
				} else if err == nil {
					t.Fatalf("rename %q -> %q should fail", id, to)
				}
			case 3:
				to := rapid.SampledFrom(ids).Draw(t, "to")
				_, _ = r.RenameMatching(id, to)
			}
			requireInverse(t, r)
		}
	})
}

func TestRegistry_Property_DoubleRegisterFails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		id := rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "id")
		if err := r.Register(id, newInstance(1)); err != nil {
			t.Fatal(err)
		}
		err := r.Register(id, newInstance(2))
		if err == nil {
			t.Fatalf("second register of %q succeeded", id)
		}
		require.ErrorIs(t, err, ErrDuplicateIdentifier)
	})
}
