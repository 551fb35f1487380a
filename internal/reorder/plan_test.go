package reorder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(ids ...uint) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{ID: id, Position: i + 1}
	}
	return out
}

func order(list []Item) []uint {
	ids := make([]uint, len(list))
	for i, it := range sorted(list) {
		ids[i] = it.ID
	}
	return ids
}

func positions(list []Item) []int {
	out := make([]int, len(list))
	for i, it := range sorted(list) {
		out[i] = it.Position
	}
	return out
}

func TestPlan_MoveForward(t *testing.T) {
	siblings := items(1, 2, 3)

	changes, err := Plan(siblings, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{ID: 2, From: 2, To: 1},
		{ID: 3, From: 3, To: 2},
		{ID: 1, From: 1, To: 3},
	}, changes)

	after := Apply(siblings, changes)
	assert.Equal(t, []uint{2, 3, 1}, order(after))
	assert.Equal(t, []int{1, 2, 3}, positions(after))
}

func TestPlan_MoveBackward(t *testing.T) {
	siblings := items(1, 2, 3)

	changes, err := Plan(siblings, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{ID: 1, From: 1, To: 2},
		{ID: 2, From: 2, To: 3},
		{ID: 3, From: 3, To: 1},
	}, changes)
	assert.Equal(t, []uint{3, 1, 2}, order(Apply(siblings, changes)))
}

func TestPlan_MovedItemIsLast(t *testing.T) {
	changes, err := Plan(items(10, 20, 30, 40), 30, 1)
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	assert.Equal(t, uint(30), changes[len(changes)-1].ID)
}

func TestPlan_OnlyTouchesRange(t *testing.T) {
	siblings := items(1, 2, 3, 4, 5)

	changes, err := Plan(siblings, 2, 4)
	require.NoError(t, err)
	touched := map[uint]bool{}
	for _, c := range changes {
		touched[c.ID] = true
	}
	assert.False(t, touched[1])
	assert.False(t, touched[5])
	assert.Equal(t, []uint{1, 3, 4, 2, 5}, order(Apply(siblings, changes)))
}

func TestPlan_NoOp(t *testing.T) {
	changes, err := Plan(items(1, 2), 2, 2)
	require.NoError(t, err)
	assert.Nil(t, changes)
}

func TestPlan_Errors(t *testing.T) {
	_, err := Plan(items(1, 2), 9, 1)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = Plan(items(1, 2), 1, 0)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestPlan_SparsePositionsStayUnique(t *testing.T) {
	siblings := []Item{{ID: 1, Position: 1}, {ID: 2, Position: 3}, {ID: 3, Position: 4}}

	changes, err := Plan(siblings, 3, 2)
	require.NoError(t, err)
	after := Apply(siblings, changes)
	assert.Equal(t, []uint{1, 3, 2}, order(after))
	assertUnique(t, after)
}

// Random sequences of moves over a dense set must keep positions a
// permutation of 1..n.
func TestPlan_RandomMovesKeepPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	siblings := items(1, 2, 3, 4, 5, 6, 7)

	for i := 0; i < 500; i++ {
		moved := uint(rng.Intn(len(siblings)) + 1)
		target := rng.Intn(len(siblings)) + 1

		changes, err := Plan(siblings, moved, target)
		require.NoError(t, err)
		siblings = Apply(siblings, changes)

		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, positions(siblings))
		for _, it := range siblings {
			if it.ID == moved {
				assert.Equal(t, target, it.Position)
			}
		}
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 3))
	assert.Equal(t, 2, Clamp(2, 3))
	assert.Equal(t, 3, Clamp(99, 3))
	assert.Equal(t, 1, Clamp(5, 0))
}

func TestRelayout(t *testing.T) {
	ordered := []Item{{ID: 5, Position: 0}, {ID: 6, Position: 2}, {ID: 7, Position: 9}}
	assert.Equal(t, []Change{
		{ID: 5, From: 0, To: 1},
		{ID: 7, From: 9, To: 3},
	}, Relayout(ordered, 1))
}

func TestTransfer_AcrossSets(t *testing.T) {
	source := items(1, 2, 3)
	target := []Item{{ID: 10, Position: 1}, {ID: 11, Position: 2}}

	src, dst, err := Transfer(source, target, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []Change{{ID: 3, From: 3, To: 2}}, src)
	assert.Equal(t, []Change{
		{ID: 11, From: 2, To: 3},
		{ID: 2, From: 2, To: 2},
	}, dst)
}

func TestTransfer_KeepsUnchangedMovedItem(t *testing.T) {
	source := items(1)
	target := []Item{{ID: 10, Position: 2}}

	_, dst, err := Transfer(source, target, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []Change{{ID: 10, From: 2, To: 1}, {ID: 1, From: 1, To: 2}}, dst)
}

func TestTransfer_WithinSameSet(t *testing.T) {
	set := items(1, 2, 3)

	src, dst, err := Transfer(set, set, 3, 0)
	require.NoError(t, err)
	assert.Nil(t, src)
	assert.Equal(t, []uint{3, 1, 2}, order(Apply(set, dst)))
}

func TestTransfer_UnknownItem(t *testing.T) {
	_, _, err := Transfer(items(1), items(2), 7, 0)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func assertUnique(t *testing.T, list []Item) {
	t.Helper()
	seen := map[int]uint{}
	for _, it := range list {
		if other, ok := seen[it.Position]; ok {
			t.Fatalf("items %d and %d share position %d", other, it.ID, it.Position)
		}
		seen[it.Position] = it.ID
	}
}
