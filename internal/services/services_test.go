package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskboard/backend/internal/cache"
	"taskboard/backend/internal/database"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/projection"
	"taskboard/backend/internal/realtime"
	"taskboard/backend/internal/services"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type BoardServicesTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	recorder *realtime.Recorder

	guard       *services.AccessGuard
	engine      *services.ReorderEngine
	boards      *services.BoardServiceImpl
	lists       *services.ListServiceImpl
	tasks       *services.TaskServiceImpl
	comments    *services.CommentServiceImpl
	invitations *services.InvitationServiceImpl

	owner    models.User
	member   models.User
	outsider models.User
	board    models.Board
}

func (s *BoardServicesTestSuite) SetupTest() {
	db, err := database.OpenInMemory()
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.db = db
	s.recorder = realtime.NewRecorder()
	s.guard = services.NewAccessGuard(db)
	s.engine = services.NewReorderEngine(db, s.guard, s.recorder)
	s.boards = services.NewBoardService(db, s.guard, s.recorder)
	s.lists = services.NewListService(db, s.guard, s.engine, s.recorder)
	s.tasks = services.NewTaskService(db, s.guard, s.recorder)
	s.comments = services.NewCommentService(db, s.guard, s.recorder)
	s.invitations = services.NewInvitationService(db, s.guard, s.recorder, nil, time.Hour)

	s.owner = s.createUser("owner@example.com")
	s.member = s.createUser("member@example.com")
	s.outsider = s.createUser("outsider@example.com")

	board, err := s.boards.CreateBoard(s.ctx, s.owner.ID, services.CreateBoardRequest{Title: "Sprint 1"})
	s.Require().NoError(err)
	s.board = *board
	s.Require().NoError(db.Create(&models.BoardUser{BoardID: board.ID, UserID: s.member.ID, Role: models.RoleMember}).Error)
}

func (s *BoardServicesTestSuite) TearDownTest() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (s *BoardServicesTestSuite) createUser(email string) models.User {
	user := models.User{Email: email, Name: email, Password: "x"}
	s.Require().NoError(s.db.Create(&user).Error)
	return user
}

func (s *BoardServicesTestSuite) createList(title string) *models.List {
	list, err := s.lists.CreateList(s.ctx, s.owner.ID, services.CreateListRequest{BoardID: s.board.ID, Title: title})
	s.Require().NoError(err)
	return list
}

func (s *BoardServicesTestSuite) createTask(listID uint, title string) *models.Task {
	task, err := s.tasks.CreateTask(s.ctx, s.owner.ID, services.CreateTaskRequest{ListID: listID, Title: title})
	s.Require().NoError(err)
	return task
}

func (s *BoardServicesTestSuite) listPositions() map[uint]int {
	var lists []models.List
	s.Require().NoError(s.db.Where("board_id = ?", s.board.ID).Find(&lists).Error)
	out := make(map[uint]int, len(lists))
	for _, l := range lists {
		out[l.ID] = l.Position
	}
	return out
}

func (s *BoardServicesTestSuite) TestCreateBoardMakesCreatorOwner() {
	role, err := s.guard.Role(s.ctx, s.owner.ID, s.board.ID)
	s.Require().NoError(err)
	s.Equal(models.RoleOwner, role)

	boards, err := s.boards.ListBoards(s.ctx, s.member.ID)
	s.Require().NoError(err)
	s.Len(boards, 1)

	boards, err = s.boards.ListBoards(s.ctx, s.outsider.ID)
	s.Require().NoError(err)
	s.Empty(boards)
}

func (s *BoardServicesTestSuite) TestListsAppendAtEnd() {
	todo := s.createList("Todo")
	doing := s.createList("Doing")

	s.Equal(1, todo.Position)
	s.Equal(2, doing.Position)
	s.Len(s.recorder.Named(realtime.EventListCreated), 2)
}

// Scenario: create two lists and move the second to the front.
func (s *BoardServicesTestSuite) TestMoveListToFront() {
	todo := s.createList("Todo")
	doing := s.createList("Doing")
	s.recorder.Reset()

	moved, err := s.engine.MoveList(s.ctx, s.member.ID, s.board.ID, doing.ID, 1)
	s.Require().NoError(err)
	s.Equal(1, moved.Position)

	positions := s.listPositions()
	s.Equal(1, positions[doing.ID])
	s.Equal(2, positions[todo.ID])

	events := s.recorder.Named(realtime.EventListUpdated)
	s.Require().Len(events, 1)
	var payload models.List
	s.Require().NoError(json.Unmarshal(events[0].Data, &payload))
	s.Equal(doing.ID, payload.ID)
	s.Equal(1, payload.Position)
}

func (s *BoardServicesTestSuite) TestMoveListToCurrentPositionIsNoop() {
	s.createList("Todo")
	doing := s.createList("Doing")
	var before models.List
	s.Require().NoError(s.db.First(&before, doing.ID).Error)
	s.recorder.Reset()

	list, err := s.engine.MoveList(s.ctx, s.owner.ID, s.board.ID, doing.ID, 2)
	s.Require().NoError(err)
	s.Equal(2, list.Position)
	s.Empty(s.recorder.Events())

	var after models.List
	s.Require().NoError(s.db.First(&after, doing.ID).Error)
	s.Equal(before.UpdatedAt, after.UpdatedAt)
}

func (s *BoardServicesTestSuite) TestMoveListBackwardShiftsOnlyRange() {
	var ids []uint
	for _, title := range []string{"a", "b", "c", "d", "e", "f"} {
		ids = append(ids, s.createList(title).ID)
	}

	_, err := s.engine.MoveList(s.ctx, s.owner.ID, s.board.ID, ids[4], 2)
	s.Require().NoError(err)

	positions := s.listPositions()
	s.Equal(1, positions[ids[0]])
	s.Equal(2, positions[ids[4]])
	s.Equal(3, positions[ids[1]])
	s.Equal(4, positions[ids[2]])
	s.Equal(5, positions[ids[3]])
	s.Equal(6, positions[ids[5]])
}

func (s *BoardServicesTestSuite) TestMoveListForwardAndClamp() {
	a := s.createList("a")
	b := s.createList("b")
	c := s.createList("c")

	moved, err := s.engine.MoveList(s.ctx, s.owner.ID, s.board.ID, a.ID, 99)
	s.Require().NoError(err)
	s.Equal(3, moved.Position)

	positions := s.listPositions()
	s.Equal(1, positions[b.ID])
	s.Equal(2, positions[c.ID])
	s.Equal(3, positions[a.ID])

	_, err = s.engine.MoveList(s.ctx, s.owner.ID, s.board.ID, a.ID, 0)
	s.ErrorIs(err, services.ErrValidation)
}

func (s *BoardServicesTestSuite) TestMoveListByNonMemberIsForbidden() {
	todo := s.createList("Todo")
	doing := s.createList("Doing")
	before := s.listPositions()
	s.recorder.Reset()

	_, err := s.engine.MoveList(s.ctx, s.outsider.ID, s.board.ID, doing.ID, 1)
	s.ErrorIs(err, services.ErrForbidden)

	_, err = s.lists.UpdateList(s.ctx, s.outsider.ID, todo.ID, services.UpdateListRequest{Position: models.Some(2)})
	s.ErrorIs(err, services.ErrForbidden)

	s.Equal(before, s.listPositions())
	s.Empty(s.recorder.Events())
}

func (s *BoardServicesTestSuite) TestMoveListUnknownList() {
	s.createList("Todo")
	_, err := s.engine.MoveList(s.ctx, s.owner.ID, s.board.ID, 9999, 1)
	s.ErrorIs(err, services.ErrNotFound)

	_, err = s.engine.MoveList(s.ctx, 0, s.board.ID, 9999, 1)
	s.ErrorIs(err, services.ErrUnauthorized)
}

func (s *BoardServicesTestSuite) TestConcurrentMovesKeepPositionsUnique() {
	var ids []uint
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, s.createList(title).ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.engine.MoveList(s.ctx, s.owner.ID, s.board.ID, ids[i%len(ids)], (i*3)%len(ids)+1)
			assert.NoError(s.T(), err)
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, pos := range s.listPositions() {
		s.False(seen[pos], "duplicate position %d", pos)
		seen[pos] = true
	}
	s.Len(seen, len(ids))
}

func (s *BoardServicesTestSuite) TestUpdateListRenameAndMoveBroadcastsOnce() {
	todo := s.createList("Todo")
	s.createList("Doing")
	s.recorder.Reset()

	list, err := s.lists.UpdateList(s.ctx, s.owner.ID, todo.ID, services.UpdateListRequest{
		Title:    models.Some("Backlog"),
		Position: models.Some(2),
	})
	s.Require().NoError(err)
	s.Equal("Backlog", list.Title)
	s.Equal(2, list.Position)
	s.Len(s.recorder.Named(realtime.EventListUpdated), 1)

	_, err = s.lists.UpdateList(s.ctx, s.owner.ID, todo.ID, services.UpdateListRequest{Title: models.Null[string]()})
	s.ErrorIs(err, services.ErrValidation)
}

func (s *BoardServicesTestSuite) TestDeleteListCascadesAndCompacts() {
	todo := s.createList("Todo")
	doing := s.createList("Doing")
	done := s.createList("Done")
	task := s.createTask(todo.ID, "Fix bug")
	_, err := s.comments.CreateComment(s.ctx, s.owner.ID, services.CreateCommentRequest{TaskID: task.ID, Content: "on it"})
	s.Require().NoError(err)
	s.recorder.Reset()

	s.Require().NoError(s.lists.DeleteList(s.ctx, s.member.ID, todo.ID))

	var count int64
	s.db.Model(&models.Task{}).Where("id = ?", task.ID).Count(&count)
	s.Zero(count)
	s.db.Model(&models.Comment{}).Where("task_id = ?", task.ID).Count(&count)
	s.Zero(count)

	positions := s.listPositions()
	s.Equal(1, positions[doing.ID])
	s.Equal(2, positions[done.ID])

	events := s.recorder.Named(realtime.EventListDeleted)
	s.Require().Len(events, 1)
	s.JSONEq(jsonID(todo.ID), string(events[0].Data))
}

func (s *BoardServicesTestSuite) TestTasksAppendWithinList() {
	todo := s.createList("Todo")
	first := s.createTask(todo.ID, "Fix bug")
	second := s.createTask(todo.ID, "Write docs")

	s.Equal(1, first.Position)
	s.Equal(2, second.Position)

	events := s.recorder.Named(realtime.EventTaskCreated)
	s.Require().Len(events, 2)
	s.Equal(s.board.ID, events[0].BoardID)
}

func (s *BoardServicesTestSuite) TestCreateTaskKeepsRowWhenBroadcastFails() {
	todo := s.createList("Todo")
	s.recorder.FailWith(errors.New("socket layer down"))

	task, err := s.tasks.CreateTask(s.ctx, s.owner.ID, services.CreateTaskRequest{ListID: todo.ID, Title: "Fix bug"})
	s.Require().Error(err)
	s.Require().NotNil(task)

	var stored models.Task
	s.Require().NoError(s.db.First(&stored, task.ID).Error)
	s.Equal("Fix bug", stored.Title)
}

// Scenario: reverse two tasks with one batch carrying the whole layout.
func (s *BoardServicesTestSuite) TestBatchReordersTasks() {
	todo := s.createList("Todo")
	fix := s.createTask(todo.ID, "Fix bug")
	docs := s.createTask(todo.ID, "Write docs")
	s.recorder.Reset()

	updated, err := s.tasks.UpdateTasksBatch(s.ctx, s.member.ID, []models.TaskPatch{
		{ID: docs.ID, Position: models.Some(1)},
		{ID: fix.ID, Position: models.Some(2)},
	})
	s.Require().NoError(err)
	s.Len(updated, 2)

	var ordered []models.Task
	s.Require().NoError(s.db.Where("list_id = ?", todo.ID).Order("position ASC").Find(&ordered).Error)
	s.Require().Len(ordered, 2)
	s.Equal(docs.ID, ordered[0].ID)
	s.Equal(fix.ID, ordered[1].ID)

	events := s.recorder.Named(realtime.EventTasksUpdated)
	s.Require().Len(events, 1)
	var payload []models.Task
	s.Require().NoError(json.Unmarshal(events[0].Data, &payload))
	s.Len(payload, 2)
}

func (s *BoardServicesTestSuite) TestBatchSkipsFailingItems() {
	todo := s.createList("Todo")
	doing := s.createList("Doing")
	task := s.createTask(todo.ID, "Fix bug")

	other, err := s.boards.CreateBoard(s.ctx, s.outsider.ID, services.CreateBoardRequest{Title: "Private"})
	s.Require().NoError(err)
	foreignList, err := s.lists.CreateList(s.ctx, s.outsider.ID, services.CreateListRequest{BoardID: other.ID, Title: "Secret"})
	s.Require().NoError(err)
	foreignTask, err := s.tasks.CreateTask(s.ctx, s.outsider.ID, services.CreateTaskRequest{ListID: foreignList.ID, Title: "Hidden"})
	s.Require().NoError(err)
	s.recorder.Reset()

	updated, err := s.tasks.UpdateTasksBatch(s.ctx, s.member.ID, []models.TaskPatch{
		{ID: task.ID, ListID: models.Some(doing.ID), Position: models.Some(1)},
		{ID: foreignTask.ID, Position: models.Some(7)},
		{ID: 424242, Position: models.Some(1)},
		{ID: task.ID, ListID: models.Some(foreignList.ID)},
	})
	s.Require().NoError(err)
	s.Require().Len(updated, 1)
	s.Equal(doing.ID, updated[0].ListID)

	var untouched models.Task
	s.Require().NoError(s.db.First(&untouched, foreignTask.ID).Error)
	s.Equal(1, untouched.Position)

	events := s.recorder.Named(realtime.EventTasksUpdated)
	s.Require().Len(events, 1)
	s.Equal(s.board.ID, events[0].BoardID)
}

func (s *BoardServicesTestSuite) TestBatchRejectsExplicitNulls() {
	todo := s.createList("Todo")
	task := s.createTask(todo.ID, "Fix bug")

	for _, patch := range []models.TaskPatch{
		{ID: task.ID, Position: models.Null[int]()},
		{ID: task.ID, ListID: models.Null[uint]()},
		{ID: task.ID, Title: models.Null[string]()},
		{ID: task.ID, Position: models.Some(-1)},
	} {
		_, err := s.tasks.UpdateTasksBatch(s.ctx, s.owner.ID, []models.TaskPatch{patch})
		s.ErrorIs(err, services.ErrValidation)
	}

	var stored models.Task
	s.Require().NoError(s.db.First(&stored, task.ID).Error)
	s.Equal(1, stored.Position)
	s.Equal(todo.ID, stored.ListID)
}

func (s *BoardServicesTestSuite) TestBatchEmptyIsAllowed() {
	updated, err := s.tasks.UpdateTasksBatch(s.ctx, s.owner.ID, nil)
	s.Require().NoError(err)
	s.Empty(updated)
	s.Empty(s.recorder.Named(realtime.EventTasksUpdated))
}

func (s *BoardServicesTestSuite) TestUpdateTaskAssigneesMustBeMembers() {
	todo := s.createList("Todo")
	task := s.createTask(todo.ID, "Fix bug")

	_, err := s.tasks.UpdateTask(s.ctx, s.owner.ID, task.ID, services.UpdateTaskRequest{
		AssigneeIDs: models.Some([]uint{s.outsider.ID}),
	})
	s.ErrorIs(err, services.ErrValidation)

	updated, err := s.tasks.UpdateTask(s.ctx, s.owner.ID, task.ID, services.UpdateTaskRequest{
		Description: models.Some("details"),
		AssigneeIDs: models.Some([]uint{s.member.ID, s.owner.ID}),
	})
	s.Require().NoError(err)
	s.Len(updated.Assignees, 2)
	s.Require().NotNil(updated.Description)
	s.Equal("details", *updated.Description)

	cleared, err := s.tasks.UpdateTask(s.ctx, s.owner.ID, task.ID, services.UpdateTaskRequest{
		Description: models.Null[string](),
		AssigneeIDs: models.Null[[]uint](),
	})
	s.Require().NoError(err)
	s.Empty(cleared.Assignees)
	s.Nil(cleared.Description)
}

func (s *BoardServicesTestSuite) TestDeleteTaskCascadesComments() {
	todo := s.createList("Todo")
	task := s.createTask(todo.ID, "Fix bug")
	_, err := s.comments.CreateComment(s.ctx, s.member.ID, services.CreateCommentRequest{TaskID: task.ID, Content: "first"})
	s.Require().NoError(err)
	s.recorder.Reset()

	_, err = s.tasks.GetTask(s.ctx, s.outsider.ID, task.ID)
	s.ErrorIs(err, services.ErrForbidden)

	s.Require().NoError(s.tasks.DeleteTask(s.ctx, s.owner.ID, task.ID))

	var count int64
	s.db.Model(&models.Comment{}).Where("task_id = ?", task.ID).Count(&count)
	s.Zero(count)

	events := s.recorder.Named(realtime.EventTaskDeleted)
	s.Require().Len(events, 1)
	s.JSONEq(jsonID(task.ID), string(events[0].Data))

	_, err = s.tasks.GetTask(s.ctx, s.owner.ID, task.ID)
	s.ErrorIs(err, services.ErrNotFound)
}

func (s *BoardServicesTestSuite) TestCommentsBroadcastTaskWithComments() {
	todo := s.createList("Todo")
	task := s.createTask(todo.ID, "Fix bug")
	s.recorder.Reset()

	comment, err := s.comments.CreateComment(s.ctx, s.member.ID, services.CreateCommentRequest{TaskID: task.ID, Content: "looking"})
	s.Require().NoError(err)
	s.Require().NotNil(comment.Author)
	s.Equal(s.member.Email, comment.Author.Email)

	s.Len(s.recorder.Named(realtime.EventCommentCreated), 1)
	updates := s.recorder.Named(realtime.EventTasksUpdated)
	s.Require().Len(updates, 1)
	var payload []models.Task
	s.Require().NoError(json.Unmarshal(updates[0].Data, &payload))
	s.Require().Len(payload, 1)
	s.Require().Len(payload[0].Comments, 1)
	s.Equal("looking", payload[0].Comments[0].Content)

	_, err = s.comments.UpdateComment(s.ctx, s.owner.ID, comment.ID, services.UpdateCommentRequest{Content: "hijack"})
	s.ErrorIs(err, services.ErrForbidden)
	s.ErrorIs(s.comments.DeleteComment(s.ctx, s.owner.ID, comment.ID), services.ErrForbidden)

	edited, err := s.comments.UpdateComment(s.ctx, s.member.ID, comment.ID, services.UpdateCommentRequest{Content: "done"})
	s.Require().NoError(err)
	s.Equal("done", edited.Content)

	s.Require().NoError(s.comments.DeleteComment(s.ctx, s.member.ID, comment.ID))
	updates = s.recorder.Named(realtime.EventTasksUpdated)
	s.Require().Len(updates, 3)
	var afterDelete []models.Task
	s.Require().NoError(json.Unmarshal(updates[2].Data, &afterDelete))
	s.Require().Len(afterDelete, 1)
	s.Empty(afterDelete[0].Comments)
}

// Another member's projection follows comment and assignee removals.
func (s *BoardServicesTestSuite) TestProjectionDropsRemovedCommentsAndAssignees() {
	todo := s.createList("Todo")
	task := s.createTask(todo.ID, "Fix bug")

	snapshot, err := s.boards.GetBoard(s.ctx, s.member.ID, s.board.ID)
	s.Require().NoError(err)
	view := projection.NewBoard()
	view.Load(projection.Snapshot{Board: snapshot.Board, Lists: snapshot.Lists})
	s.recorder.Reset()

	comment, err := s.comments.CreateComment(s.ctx, s.member.ID, services.CreateCommentRequest{TaskID: task.ID, Content: "hi"})
	s.Require().NoError(err)
	_, err = s.tasks.UpdateTask(s.ctx, s.owner.ID, task.ID, services.UpdateTaskRequest{
		AssigneeIDs: models.Some([]uint{s.member.ID}),
	})
	s.Require().NoError(err)
	s.replay(view)

	got, ok := view.Task(task.ID)
	s.Require().True(ok)
	s.Len(got.Comments, 1)
	s.Len(got.Assignees, 1)

	s.Require().NoError(s.comments.DeleteComment(s.ctx, s.member.ID, comment.ID))
	_, err = s.tasks.UpdateTask(s.ctx, s.owner.ID, task.ID, services.UpdateTaskRequest{
		AssigneeIDs: models.Some([]uint{}),
	})
	s.Require().NoError(err)
	s.replay(view)

	got, ok = view.Task(task.ID)
	s.Require().True(ok)
	s.Empty(got.Comments)
	s.Empty(got.Assignees)
}

// replay applies and clears the recorded events.
func (s *BoardServicesTestSuite) replay(view *projection.Board) {
	for _, ev := range s.recorder.Events() {
		s.Require().NoError(view.Apply(realtime.Frame{Event: ev.Event, BoardID: ev.BoardID, Data: ev.Data}))
	}
	s.recorder.Reset()
}

func (s *BoardServicesTestSuite) TestGetBoardSnapshotIsOrdered() {
	todo := s.createList("Todo")
	doing := s.createList("Doing")
	s.createTask(todo.ID, "one")
	s.createTask(todo.ID, "two")
	_, err := s.engine.MoveList(s.ctx, s.owner.ID, s.board.ID, doing.ID, 1)
	s.Require().NoError(err)

	snapshot, err := s.boards.GetBoard(s.ctx, s.member.ID, s.board.ID)
	s.Require().NoError(err)
	s.Require().Len(snapshot.Lists, 2)
	s.Equal(doing.ID, snapshot.Lists[0].ID)
	s.Require().Len(snapshot.Lists[1].Tasks, 2)
	s.Equal("one", snapshot.Lists[1].Tasks[0].Title)

	_, err = s.boards.GetBoard(s.ctx, s.outsider.ID, s.board.ID)
	s.ErrorIs(err, services.ErrForbidden)
}

func (s *BoardServicesTestSuite) TestUpdateBoard() {
	board, err := s.boards.UpdateBoard(s.ctx, s.member.ID, s.board.ID, services.UpdateBoardRequest{
		Title:           models.Some("Sprint 2"),
		BackgroundColor: models.Some("#112233"),
	})
	s.Require().NoError(err)
	s.Equal("Sprint 2", board.Title)
	s.Equal("#112233", board.BackgroundColor)
	s.Len(s.recorder.Named(realtime.EventBoardUpdated), 1)

	_, err = s.boards.UpdateBoard(s.ctx, s.member.ID, s.board.ID, services.UpdateBoardRequest{Title: models.Some("  ")})
	s.ErrorIs(err, services.ErrValidation)
}

func (s *BoardServicesTestSuite) TestDeleteBoardIsOwnerOnlyAndCascades() {
	todo := s.createList("Todo")
	task := s.createTask(todo.ID, "Fix bug")
	_, err := s.comments.CreateComment(s.ctx, s.member.ID, services.CreateCommentRequest{TaskID: task.ID, Content: "hi"})
	s.Require().NoError(err)

	s.ErrorIs(s.boards.DeleteBoard(s.ctx, s.member.ID, s.board.ID), services.ErrForbidden)
	s.Require().NoError(s.boards.DeleteBoard(s.ctx, s.owner.ID, s.board.ID))

	for _, model := range []interface{}{&models.List{}, &models.Task{}, &models.Comment{}, &models.BoardUser{}, &models.Board{}} {
		var count int64
		s.Require().NoError(s.db.Model(model).Count(&count).Error)
		s.Zero(count, "%T rows left", model)
	}
	s.Len(s.recorder.Named(realtime.EventBoardDeleted), 1)
}

func (s *BoardServicesTestSuite) TestListMembers() {
	members, err := s.boards.ListMembers(s.ctx, s.member.ID, s.board.ID)
	s.Require().NoError(err)
	s.Require().Len(members, 2)
	s.Equal(models.RoleOwner, members[0].Role)
	s.Equal(s.owner.Email, members[0].Email)
}

func (s *BoardServicesTestSuite) TestInvitationFlow() {
	_, err := s.invitations.CreateInvitation(s.ctx, s.member.ID, s.board.ID, services.CreateInvitationRequest{Email: "outsider@example.com"})
	s.ErrorIs(err, services.ErrForbidden)

	_, err = s.invitations.CreateInvitation(s.ctx, s.owner.ID, s.board.ID, services.CreateInvitationRequest{Email: "member@example.com"})
	s.ErrorIs(err, services.ErrValidation)

	_, err = s.invitations.CreateInvitation(s.ctx, s.owner.ID, s.board.ID, services.CreateInvitationRequest{Email: "x@example.com", Role: models.RoleOwner})
	s.ErrorIs(err, services.ErrValidation)

	inv, err := s.invitations.CreateInvitation(s.ctx, s.owner.ID, s.board.ID, services.CreateInvitationRequest{Email: "Outsider@Example.com", Role: models.RoleAdmin})
	s.Require().NoError(err)
	s.NotEmpty(inv.Token)
	s.Equal("outsider@example.com", inv.Email)

	pending, err := s.invitations.ListInvitations(s.ctx, s.owner.ID, s.board.ID)
	s.Require().NoError(err)
	s.Len(pending, 1)

	_, err = s.invitations.AcceptInvitation(s.ctx, s.member.ID, inv.Token)
	s.ErrorIs(err, services.ErrForbidden)

	membership, err := s.invitations.AcceptInvitation(s.ctx, s.outsider.ID, inv.Token)
	s.Require().NoError(err)
	s.Equal(models.RoleAdmin, membership.Role)

	ok, err := s.guard.Authorize(s.ctx, s.outsider.ID, s.board.ID)
	s.Require().NoError(err)
	s.True(ok)
	s.Len(s.recorder.Named(realtime.EventMemberJoined), 1)

	_, err = s.invitations.AcceptInvitation(s.ctx, s.outsider.ID, inv.Token)
	s.ErrorIs(err, services.ErrNotFound)
}

func (s *BoardServicesTestSuite) TestExpiredInvitationIsRejectedAndPurged() {
	expired := models.Invitation{
		BoardID:   s.board.ID,
		InviterID: s.owner.ID,
		Email:     "outsider@example.com",
		Role:      models.RoleMember,
		Token:     "expired-token",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	stale := expired
	stale.Token = "stale-token"
	s.Require().NoError(s.db.Create(&expired).Error)
	s.Require().NoError(s.db.Create(&stale).Error)

	_, err := s.invitations.AcceptInvitation(s.ctx, s.outsider.ID, "expired-token")
	s.ErrorIs(err, services.ErrNotFound)

	var count int64
	s.db.Model(&models.Invitation{}).Where("token = ?", "expired-token").Count(&count)
	s.Zero(count)

	purged, err := s.invitations.PurgeExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), purged)
}

func (s *BoardServicesTestSuite) TestRevokeInvitation() {
	inv, err := s.invitations.CreateInvitation(s.ctx, s.owner.ID, s.board.ID, services.CreateInvitationRequest{Email: "new@example.com"})
	s.Require().NoError(err)

	s.ErrorIs(s.invitations.RevokeInvitation(s.ctx, s.member.ID, inv.ID), services.ErrForbidden)
	s.Require().NoError(s.invitations.RevokeInvitation(s.ctx, s.owner.ID, inv.ID))
	s.ErrorIs(s.invitations.RevokeInvitation(s.ctx, s.owner.ID, inv.ID), services.ErrNotFound)
}

func (s *BoardServicesTestSuite) TestCachedSnapshotInvalidatedByBroadcast() {
	memory := cache.NewMemoryCache(100)
	invalidator := services.NewSnapshotInvalidator(s.recorder, memory)
	lists := services.NewListService(s.db, s.guard, s.engine, invalidator)
	cached := services.NewCachedBoardService(s.boards, s.guard, memory, time.Minute)

	first, err := cached.GetBoard(s.ctx, s.owner.ID, s.board.ID)
	s.Require().NoError(err)
	s.Empty(first.Lists)

	hit, err := memory.Exists(s.ctx, fmt.Sprintf("board_snapshot:%d", s.board.ID))
	s.Require().NoError(err)
	s.True(hit)

	_, err = cached.GetBoard(s.ctx, s.outsider.ID, s.board.ID)
	s.ErrorIs(err, services.ErrForbidden)

	_, err = lists.CreateList(s.ctx, s.owner.ID, services.CreateListRequest{BoardID: s.board.ID, Title: "Todo"})
	s.Require().NoError(err)

	second, err := cached.GetBoard(s.ctx, s.owner.ID, s.board.ID)
	s.Require().NoError(err)
	s.Len(second.Lists, 1)
}

// slowBoards runs during after loading a snapshot and before handing it
// back, standing in for a write that commits while the load is in flight.
type slowBoards struct {
	services.BoardService
	during func()
}

func (b *slowBoards) GetBoard(ctx context.Context, userID, boardID uint) (*services.BoardSnapshot, error) {
	snapshot, err := b.BoardService.GetBoard(ctx, userID, boardID)
	if b.during != nil {
		during := b.during
		b.during = nil
		during()
	}
	return snapshot, err
}

func (s *BoardServicesTestSuite) TestCachedSnapshotSkipsStoreWhenBoardChangedDuringLoad() {
	memory := cache.NewMemoryCache(100)
	invalidator := services.NewSnapshotInvalidator(s.recorder, memory)
	lists := services.NewListService(s.db, s.guard, s.engine, invalidator)
	inner := &slowBoards{BoardService: s.boards}
	cached := services.NewCachedBoardService(inner, s.guard, memory, time.Minute)

	inner.during = func() {
		_, err := lists.CreateList(s.ctx, s.owner.ID, services.CreateListRequest{BoardID: s.board.ID, Title: "Todo"})
		s.Require().NoError(err)
	}
	stale, err := cached.GetBoard(s.ctx, s.owner.ID, s.board.ID)
	s.Require().NoError(err)
	s.Empty(stale.Lists)

	hit, err := memory.Exists(s.ctx, fmt.Sprintf("board_snapshot:%d", s.board.ID))
	s.Require().NoError(err)
	s.False(hit)

	fresh, err := cached.GetBoard(s.ctx, s.owner.ID, s.board.ID)
	s.Require().NoError(err)
	s.Len(fresh.Lists, 1)

	hit, err = memory.Exists(s.ctx, fmt.Sprintf("board_snapshot:%d", s.board.ID))
	s.Require().NoError(err)
	s.True(hit)
}

func TestBoardServicesTestSuite(t *testing.T) {
	suite.Run(t, new(BoardServicesTestSuite))
}

func TestAuthService(t *testing.T) {
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	svc := services.NewAuthService(db, services.AuthConfig{
		Secret:     "test-secret",
		Issuer:     "taskboard",
		TokenTTL:   time.Hour,
		BCryptCost: bcrypt.MinCost,
	})
	ctx := context.Background()

	_, err = svc.Register(ctx, services.RegisterRequest{Email: "a@example.com", Password: "short"})
	assert.ErrorIs(t, err, services.ErrValidation)

	user, err := svc.Register(ctx, services.RegisterRequest{Email: " A@Example.com ", Password: "password123"})
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "a@example.com", user.Email)
	assert.Equal(t, "a", user.Name)
	assert.NotEqual(t, "password123", user.Password)

	_, err = svc.Register(ctx, services.RegisterRequest{Email: "a@example.com", Password: "password123"})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = svc.Login(ctx, "a@example.com", "wrong-password1")
	assert.ErrorIs(t, err, services.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	loggedIn, err := svc.Login(ctx, "A@example.com", "password123")
	if !assert.NoError(t, err) {
		return
	}

	signed, expiresAt, err := svc.IssueToken(loggedIn)
	if !assert.NoError(t, err) {
		return
	}
	assert.True(t, expiresAt.After(time.Now()))

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	assert.NoError(t, err)
	assert.Equal(t, float64(user.ID), claims["user_id"])
	assert.Equal(t, "taskboard", claims["iss"])
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
