// Package projection keeps a client-side copy of one board, ordered the
// way the server orders it, and folds realtime frames into it. Local moves
// are applied optimistically and return the request that makes them
// durable.
package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"taskboard/backend/internal/models"
	"taskboard/backend/internal/realtime"
	"taskboard/backend/internal/reorder"
)

var (
	ErrUnknownList = errors.New("list not in projection")
	ErrUnknownTask = errors.New("task not in projection")
)

// Snapshot is the body of GET /boards/:id.
type Snapshot struct {
	Board     models.Board  `json:"board"`
	Lists     []models.List `json:"lists"`
	JoinToken string        `json:"join_token,omitempty"`
}

type Board struct {
	mu      sync.RWMutex
	board   models.Board
	deleted bool
	lists   []models.List
	tasks   map[uint][]models.Task
}

func NewBoard() *Board {
	return &Board{tasks: make(map[uint][]models.Task)}
}

// Load replaces the projection with a full snapshot.
func (b *Board) Load(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.board = s.Board
	b.board.Lists = nil
	b.deleted = false
	b.lists = make([]models.List, 0, len(s.Lists))
	b.tasks = make(map[uint][]models.Task, len(s.Lists))
	for _, l := range s.Lists {
		tasks := append([]models.Task(nil), l.Tasks...)
		l.Tasks = nil
		b.lists = append(b.lists, l)
		b.tasks[l.ID] = tasks
		sortTasks(tasks)
	}
	sortLists(b.lists)
}

func (b *Board) ID() uint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.board.ID
}

func (b *Board) Board() models.Board {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.board
}

func (b *Board) Deleted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deleted
}

// Lists returns a copy of the lists in position order, tasks included.
func (b *Board) Lists() []models.List {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.List, len(b.lists))
	for i, l := range b.lists {
		l.Tasks = append([]models.Task(nil), b.tasks[l.ID]...)
		out[i] = l
	}
	return out
}

func (b *Board) Tasks(listID uint) []models.Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.Task(nil), b.tasks[listID]...)
}

func (b *Board) Task(taskID uint) (models.Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	listID, i := b.findTask(taskID)
	if i < 0 {
		return models.Task{}, false
	}
	return b.tasks[listID][i], true
}

// Apply folds one server frame into the projection. Frames for other
// boards, connection frames and unknown events are ignored. An event
// without data is a no-op.
func (b *Board) Apply(frame realtime.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frame.BoardID != 0 && b.board.ID != 0 && frame.BoardID != b.board.ID {
		return nil
	}
	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		return nil
	}

	switch frame.Event {
	case realtime.EventListCreated:
		var list models.List
		if err := decode(frame, &list); err != nil {
			return err
		}
		b.upsertList(list)
	case realtime.EventListUpdated:
		var list models.List
		if err := decode(frame, &list); err != nil {
			return err
		}
		b.updateList(list)
	case realtime.EventListDeleted:
		var id uint
		if err := decode(frame, &id); err != nil {
			return err
		}
		b.deleteList(id)
	case realtime.EventTaskCreated:
		var task models.Task
		if err := decode(frame, &task); err != nil {
			return err
		}
		b.placeTasks([]models.Task{task})
	case realtime.EventTasksUpdated:
		var tasks []models.Task
		if err := decode(frame, &tasks); err != nil {
			return err
		}
		b.placeTasks(tasks)
	case realtime.EventTaskDeleted:
		var id uint
		if err := decode(frame, &id); err != nil {
			return err
		}
		if listID, i := b.findTask(id); i >= 0 {
			b.tasks[listID] = append(b.tasks[listID][:i], b.tasks[listID][i+1:]...)
		}
	case realtime.EventCommentCreated:
		var comment models.Comment
		if err := decode(frame, &comment); err != nil {
			return err
		}
		b.addComment(comment)
	case realtime.EventBoardUpdated:
		var board models.Board
		if err := decode(frame, &board); err != nil {
			return err
		}
		board.Lists = nil
		b.board = board
	case realtime.EventBoardDeleted:
		b.deleted = true
		b.lists = nil
		b.tasks = make(map[uint][]models.Task)
	}
	return nil
}

func decode(frame realtime.Frame, v any) error {
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", frame.Event, err)
	}
	return nil
}

func (b *Board) upsertList(list models.List) {
	list.Tasks = nil
	if i := b.listIndex(list.ID); i >= 0 {
		b.lists[i] = list
	} else {
		b.lists = append(b.lists, list)
		if _, ok := b.tasks[list.ID]; !ok {
			b.tasks[list.ID] = nil
		}
	}
	sortLists(b.lists)
}

// updateList re-derives the sibling shifts the server applied, since only
// the moved list is broadcast.
func (b *Board) updateList(list models.List) {
	i := b.listIndex(list.ID)
	if i < 0 {
		b.upsertList(list)
		return
	}
	if b.lists[i].Position != list.Position {
		changes, err := reorder.Plan(listItems(b.lists), list.ID, reorder.Clamp(list.Position, len(b.lists)))
		if err == nil {
			b.applyListChanges(changes)
		}
	}
	i = b.listIndex(list.ID)
	list.Tasks = nil
	b.lists[i] = list
	sortLists(b.lists)
}

func (b *Board) deleteList(id uint) {
	i := b.listIndex(id)
	if i < 0 {
		return
	}
	removed := b.lists[i]
	b.lists = append(b.lists[:i], b.lists[i+1:]...)
	delete(b.tasks, id)
	for j := range b.lists {
		if b.lists[j].Position > removed.Position {
			b.lists[j].Position--
		}
	}
}

// placeTasks removes each task from wherever it is held and reinserts it
// under its current list_id. Null comments or assignees keep what the
// projection already holds; an empty array clears them. Touched lists are re-sorted afterwards, so
// the result does not depend on the order of tasks in the batch.
func (b *Board) placeTasks(tasks []models.Task) {
	touched := map[uint]struct{}{}
	for _, incoming := range tasks {
		if listID, i := b.findTask(incoming.ID); i >= 0 {
			existing := b.tasks[listID][i]
			if incoming.Comments == nil {
				incoming.Comments = existing.Comments
			}
			if incoming.Assignees == nil {
				incoming.Assignees = existing.Assignees
			}
			b.tasks[listID] = append(b.tasks[listID][:i], b.tasks[listID][i+1:]...)
			touched[listID] = struct{}{}
		}
		if b.listIndex(incoming.ListID) < 0 {
			continue
		}
		b.tasks[incoming.ListID] = append(b.tasks[incoming.ListID], incoming)
		touched[incoming.ListID] = struct{}{}
	}
	for listID := range touched {
		sortTasks(b.tasks[listID])
	}
}

func (b *Board) addComment(comment models.Comment) {
	listID, i := b.findTask(comment.TaskID)
	if i < 0 {
		return
	}
	task := &b.tasks[listID][i]
	for _, c := range task.Comments {
		if c.ID == comment.ID {
			return
		}
	}
	task.Comments = append(task.Comments, comment)
}

// MoveTask moves a task to index (0-based) of the target list, applies
// the new layout locally and returns the batch that persists it. The
// batch carries every task whose position or list changed.
func (b *Board) MoveTask(taskID, toListID uint, index int) ([]models.TaskPatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fromListID, i := b.findTask(taskID)
	if i < 0 {
		return nil, ErrUnknownTask
	}
	if b.listIndex(toListID) < 0 {
		return nil, ErrUnknownList
	}

	source := taskItems(b.tasks[fromListID])
	target := source
	if toListID != fromListID {
		target = taskItems(b.tasks[toListID])
	}
	srcChanges, dstChanges, err := reorder.Transfer(source, target, taskID, index)
	if err != nil {
		return nil, err
	}

	patches := make([]models.TaskPatch, 0, len(srcChanges)+len(dstChanges))
	for _, ch := range srcChanges {
		patches = append(patches, models.TaskPatch{ID: ch.ID, Position: models.Some(ch.To)})
	}
	for _, ch := range dstChanges {
		patch := models.TaskPatch{ID: ch.ID, Position: models.Some(ch.To)}
		if ch.ID == taskID && toListID != fromListID {
			patch.ListID = models.Some(toListID)
		}
		patches = append(patches, patch)
	}

	moved := b.tasks[fromListID][i]
	b.setTaskPositions(fromListID, srcChanges)
	if toListID == fromListID {
		b.setTaskPositions(fromListID, dstChanges)
		sortTasks(b.tasks[fromListID])
		return patches, nil
	}

	_, i = b.findTask(taskID)
	b.tasks[fromListID] = append(b.tasks[fromListID][:i], b.tasks[fromListID][i+1:]...)
	moved.ListID = toListID
	b.tasks[toListID] = append(b.tasks[toListID], moved)
	b.setTaskPositions(toListID, dstChanges)
	sortTasks(b.tasks[fromListID])
	sortTasks(b.tasks[toListID])
	return patches, nil
}

// MoveList applies a list move locally and returns the position to send
// to the server, clamped to the board's list count.
func (b *Board) MoveList(listID uint, newPosition int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listIndex(listID) < 0 {
		return 0, ErrUnknownList
	}
	if newPosition < 1 {
		return 0, reorder.ErrInvalidPosition
	}
	position := reorder.Clamp(newPosition, len(b.lists))
	changes, err := reorder.Plan(listItems(b.lists), listID, position)
	if err != nil {
		return 0, err
	}
	b.applyListChanges(changes)
	return position, nil
}

func (b *Board) applyListChanges(changes []reorder.Change) {
	for _, ch := range changes {
		if i := b.listIndex(ch.ID); i >= 0 {
			b.lists[i].Position = ch.To
		}
	}
	sortLists(b.lists)
}

func (b *Board) setTaskPositions(listID uint, changes []reorder.Change) {
	tasks := b.tasks[listID]
	for _, ch := range changes {
		for i := range tasks {
			if tasks[i].ID == ch.ID {
				tasks[i].Position = ch.To
			}
		}
	}
}

func (b *Board) listIndex(id uint) int {
	for i, l := range b.lists {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) findTask(id uint) (uint, int) {
	for listID, tasks := range b.tasks {
		for i, t := range tasks {
			if t.ID == id {
				return listID, i
			}
		}
	}
	return 0, -1
}

func listItems(lists []models.List) []reorder.Item {
	items := make([]reorder.Item, len(lists))
	for i, l := range lists {
		items[i] = reorder.Item{ID: l.ID, Position: l.Position}
	}
	return items
}

func taskItems(tasks []models.Task) []reorder.Item {
	items := make([]reorder.Item, len(tasks))
	for i, t := range tasks {
		items[i] = reorder.Item{ID: t.ID, Position: t.Position}
	}
	return items
}

func sortLists(lists []models.List) {
	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].Position == lists[j].Position {
			return lists[i].ID < lists[j].ID
		}
		return lists[i].Position < lists[j].Position
	})
}

func sortTasks(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position == tasks[j].Position {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].Position < tasks[j].Position
	})
}
