// Package reorder computes position changes for ordered sibling sets:
// lists within a board and tasks within a list. It does no I/O; callers
// apply the returned changes to their own storage.
package reorder

import (
	"errors"
	"sort"
)

var (
	ErrItemNotFound    = errors.New("reorder: item not among siblings")
	ErrInvalidPosition = errors.New("reorder: position must be >= 1")
)

type Item struct {
	ID       uint
	Position int
}

type Change struct {
	ID   uint
	From int
	To   int
}

// Plan moves movedID to newPosition among siblings. Siblings between the
// old and new position shift by one toward the vacated slot. The returned
// changes list every shifted sibling first, in position order, and the
// moved item last. Moving an item to its current position yields nil.
func Plan(siblings []Item, movedID uint, newPosition int) ([]Change, error) {
	if newPosition < 1 {
		return nil, ErrInvalidPosition
	}

	oldPosition, found := 0, false
	for _, s := range siblings {
		if s.ID == movedID {
			oldPosition, found = s.Position, true
			break
		}
	}
	if !found {
		return nil, ErrItemNotFound
	}
	if oldPosition == newPosition {
		return nil, nil
	}

	var changes []Change
	for _, s := range sorted(siblings) {
		if s.ID == movedID {
			continue
		}
		switch {
		case newPosition < oldPosition && s.Position >= newPosition && s.Position < oldPosition:
			changes = append(changes, Change{ID: s.ID, From: s.Position, To: s.Position + 1})
		case newPosition > oldPosition && s.Position > oldPosition && s.Position <= newPosition:
			changes = append(changes, Change{ID: s.ID, From: s.Position, To: s.Position - 1})
		}
	}
	return append(changes, Change{ID: movedID, From: oldPosition, To: newPosition}), nil
}

// Clamp bounds a requested 1-based position to the sibling count.
func Clamp(position, count int) int {
	if count < 1 {
		return 1
	}
	if position < 1 {
		return 1
	}
	if position > count {
		return count
	}
	return position
}

// Apply returns a copy of items with changes applied, ordered by position.
func Apply(items []Item, changes []Change) []Item {
	byID := make(map[uint]int, len(changes))
	for _, c := range changes {
		byID[c.ID] = c.To
	}
	out := make([]Item, len(items))
	for i, it := range items {
		if to, ok := byID[it.ID]; ok {
			it.Position = to
		}
		out[i] = it
	}
	return sorted(out)
}

// Relayout assigns dense positions start, start+1, ... to items in their
// given order and reports the items whose position differs.
func Relayout(ordered []Item, start int) []Change {
	var changes []Change
	for i, it := range ordered {
		want := start + i
		if it.Position != want {
			changes = append(changes, Change{ID: it.ID, From: it.Position, To: want})
		}
	}
	return changes
}

// Transfer removes movedID from source and inserts it into target at the
// 0-based index, then lays both sets out densely from 1. Changes for the
// source come first. When source and target are the same set, pass the
// same slice for both.
func Transfer(source, target []Item, movedID uint, index int) (sourceChanges, targetChanges []Change, err error) {
	src := sorted(source)
	moved, rest, ok := remove(src, movedID)
	if !ok {
		return nil, nil, ErrItemNotFound
	}

	same := sameSet(source, target)
	var dst []Item
	if same {
		dst = rest
	} else {
		dst = sorted(target)
		if _, _, dup := remove(dst, movedID); dup {
			return nil, nil, ErrItemNotFound
		}
		sourceChanges = Relayout(rest, 1)
	}

	if index < 0 {
		index = 0
	}
	if index > len(dst) {
		index = len(dst)
	}
	laid := make([]Item, 0, len(dst)+1)
	laid = append(laid, dst[:index]...)
	laid = append(laid, moved)
	laid = append(laid, dst[index:]...)

	targetChanges = Relayout(laid, 1)
	if !same && !containsID(targetChanges, movedID) {
		// The moved item changes container even when its number is unchanged.
		targetChanges = append(targetChanges, Change{ID: movedID, From: moved.Position, To: moved.Position})
	}
	return sourceChanges, targetChanges, nil
}

func sorted(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func remove(items []Item, id uint) (Item, []Item, bool) {
	for i, it := range items {
		if it.ID == id {
			rest := make([]Item, 0, len(items)-1)
			rest = append(rest, items[:i]...)
			rest = append(rest, items[i+1:]...)
			return it, rest, true
		}
	}
	return Item{}, items, false
}

func containsID(changes []Change, id uint) bool {
	for _, c := range changes {
		if c.ID == id {
			return true
		}
	}
	return false
}

func sameSet(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[uint]struct{}, len(a))
	for _, it := range a {
		ids[it.ID] = struct{}{}
	}
	for _, it := range b {
		if _, ok := ids[it.ID]; !ok {
			return false
		}
	}
	return true
}
