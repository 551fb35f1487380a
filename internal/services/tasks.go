package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"taskboard/backend/internal/models"
	"taskboard/backend/internal/realtime"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CreateTaskRequest struct {
	Title       string  `json:"title" binding:"required"`
	ListID      uint    `json:"list_id" binding:"required"`
	Description *string `json:"description"`
}

type UpdateTaskRequest struct {
	Title       models.Optional[string] `json:"title"`
	Description models.Optional[string] `json:"description"`
	AssigneeIDs models.Optional[[]uint] `json:"assignees"`
}

type TaskService interface {
	CreateTask(ctx context.Context, userID uint, req CreateTaskRequest) (*models.Task, error)
	GetTask(ctx context.Context, userID, taskID uint) (*models.Task, error)
	UpdateTask(ctx context.Context, userID, taskID uint, req UpdateTaskRequest) (*models.Task, error)
	UpdateTasksBatch(ctx context.Context, userID uint, patches []models.TaskPatch) ([]models.Task, error)
	DeleteTask(ctx context.Context, userID, taskID uint) error
}

type TaskServiceImpl struct {
	db          *gorm.DB
	guard       BoardAccessGuard
	broadcaster realtime.Broadcaster
}

func NewTaskService(db *gorm.DB, guard BoardAccessGuard, broadcaster realtime.Broadcaster) *TaskServiceImpl {
	return &TaskServiceImpl{db: db, guard: guard, broadcaster: broadcaster}
}

// CreateTask appends the task after the list's last one. The row stays
// committed even when the broadcast that follows fails.
func (s *TaskServiceImpl) CreateTask(ctx context.Context, userID uint, req CreateTaskRequest) (*models.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if req.ListID == 0 {
		return nil, invalid("list_id is required")
	}

	boardID, err := s.guard.BoardOfList(ctx, req.ListID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	var maxPosition int
	if err := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("list_id = ?", req.ListID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&maxPosition).Error; err != nil {
		return nil, fmt.Errorf("read max task position: %w", err)
	}

	task := models.Task{
		ListID:      req.ListID,
		Title:       title,
		Description: req.Description,
		Position:    maxPosition + 1,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return &task, notify(ctx, s.broadcaster, boardID, realtime.EventTaskCreated, task)
}

func (s *TaskServiceImpl) GetTask(ctx context.Context, userID, taskID uint) (*models.Task, error) {
	boardID, err := s.guard.BoardOfTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}
	return loadTaskDetail(ctx, s.db, taskID)
}

// UpdateTask edits the descriptive fields of one task. Assignees must be
// members of the task's board; a null assignees field clears them.
func (s *TaskServiceImpl) UpdateTask(ctx context.Context, userID, taskID uint, req UpdateTaskRequest) (*models.Task, error) {
	if req.Title.Null || (req.Title.Present() && strings.TrimSpace(req.Title.Value) == "") {
		return nil, invalid("title must not be empty")
	}

	boardID, err := s.guard.BoardOfTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	updates := map[string]interface{}{}
	if req.Title.Present() {
		updates["title"] = strings.TrimSpace(req.Title.Value)
	}
	if req.Description.Set {
		if req.Description.Null {
			updates["description"] = nil
		} else {
			updates["description"] = req.Description.Value
		}
	}
	if len(updates) > 0 {
		if err := db.Model(&models.Task{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update task %d: %w", taskID, err)
		}
	}

	if req.AssigneeIDs.Set {
		if err := s.replaceAssignees(ctx, boardID, taskID, req.AssigneeIDs.Value); err != nil {
			return nil, err
		}
	}

	task, err := loadTaskDetail(ctx, s.db, taskID)
	if err != nil {
		return nil, err
	}
	return task, notify(ctx, s.broadcaster, boardID, realtime.EventTasksUpdated, []models.Task{*task})
}

func (s *TaskServiceImpl) replaceAssignees(ctx context.Context, boardID, taskID uint, userIDs []uint) error {
	db := s.db.WithContext(ctx)
	task := models.Task{ID: taskID}

	if len(userIDs) == 0 {
		if err := db.Model(&task).Association("Assignees").Clear(); err != nil {
			return fmt.Errorf("clear assignees: %w", err)
		}
		return nil
	}

	var members int64
	if err := db.Model(&models.BoardUser{}).
		Where("board_id = ? AND user_id IN ?", boardID, userIDs).
		Count(&members).Error; err != nil {
		return fmt.Errorf("check assignee membership: %w", err)
	}
	if int(members) != len(uniqueIDs(userIDs)) {
		return invalid("assignees must be members of the board")
	}

	var users []models.User
	if err := db.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}
	if err := db.Model(&task).Association("Assignees").Replace(users); err != nil {
		return fmt.Errorf("replace assignees: %w", err)
	}
	return nil
}

// UpdateTasksBatch applies each patch on its own, without a shared
// transaction and without shifting siblings: callers send the complete
// new layout. Patches whose task or target list is missing, whose target
// list belongs to another board, or whose board the user is not a member
// of are skipped and left out of the result. tasksUpdated is broadcast
// once per affected board.
func (s *TaskServiceImpl) UpdateTasksBatch(ctx context.Context, userID uint, patches []models.TaskPatch) ([]models.Task, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	for i, p := range patches {
		if err := validatePatch(p); err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}

	updated := make([]models.Task, 0, len(patches))
	byBoard := map[uint][]models.Task{}
	for _, p := range patches {
		task, boardID, err := s.applyPatch(ctx, userID, p)
		if err != nil {
			log.WithFields(log.Fields{
				"task_id": p.ID,
				"user_id": userID,
			}).WithError(err).Debug("batch item skipped")
			continue
		}
		updated = append(updated, *task)
		byBoard[boardID] = append(byBoard[boardID], *task)
	}

	boards := make([]uint, 0, len(byBoard))
	for id := range byBoard {
		boards = append(boards, id)
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i] < boards[j] })

	var firstErr error
	for _, boardID := range boards {
		if err := notify(ctx, s.broadcaster, boardID, realtime.EventTasksUpdated, byBoard[boardID]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return updated, firstErr
}

func validatePatch(p models.TaskPatch) error {
	if p.ID == 0 {
		return invalid("id is required")
	}
	if p.Title.Null || (p.Title.Present() && strings.TrimSpace(p.Title.Value) == "") {
		return invalid("title must not be empty")
	}
	if p.ListID.Null || (p.ListID.Present() && p.ListID.Value == 0) {
		return invalid("list_id must not be null")
	}
	if p.Position.Null {
		return invalid("position must not be null")
	}
	if p.Position.Present() && p.Position.Value < 0 {
		return invalid("position must not be negative")
	}
	return nil
}

func (s *TaskServiceImpl) applyPatch(ctx context.Context, userID uint, p models.TaskPatch) (*models.Task, uint, error) {
	db := s.db.WithContext(ctx)

	var task models.Task
	if err := db.First(&task, p.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, notFound("task")
		}
		return nil, 0, err
	}

	boardID, err := s.guard.BoardOfList(ctx, task.ListID)
	if err != nil {
		return nil, 0, err
	}
	if target := p.ListID.Or(task.ListID); target != task.ListID {
		targetBoard, err := s.guard.BoardOfList(ctx, target)
		if err != nil {
			return nil, 0, err
		}
		if targetBoard != boardID {
			return nil, 0, invalid("cannot move a task to another board")
		}
	}
	ok, err := s.guard.Authorize(ctx, userID, boardID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, forbidden("not a member of this board")
	}

	updates := map[string]interface{}{}
	if p.Title.Present() {
		updates["title"] = strings.TrimSpace(p.Title.Value)
	}
	if p.ListID.Present() {
		updates["list_id"] = p.ListID.Value
	}
	if p.Position.Present() {
		updates["position"] = p.Position.Value
	}
	if len(updates) > 0 {
		if err := db.Model(&models.Task{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
			return nil, 0, err
		}
		if err := db.First(&task, task.ID).Error; err != nil {
			return nil, 0, err
		}
	}
	return &task, boardID, nil
}

// DeleteTask removes the task together with its comments and assignee
// links.
func (s *TaskServiceImpl) DeleteTask(ctx context.Context, userID, taskID uint) error {
	boardID, err := s.guard.BoardOfTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	if err := db.Where("task_id = ?", taskID).Delete(&models.Comment{}).Error; err != nil {
		return fmt.Errorf("delete comments of task %d: %w", taskID, err)
	}
	if err := db.Model(&models.Task{ID: taskID}).Association("Assignees").Clear(); err != nil {
		return fmt.Errorf("clear assignees of task %d: %w", taskID, err)
	}
	if err := db.Delete(&models.Task{}, taskID).Error; err != nil {
		return fmt.Errorf("delete task %d: %w", taskID, err)
	}

	return notify(ctx, s.broadcaster, boardID, realtime.EventTaskDeleted, taskID)
}

// loadTaskDetail returns the task with assignees and comments, oldest
// comment first.
func loadTaskDetail(ctx context.Context, db *gorm.DB, taskID uint) (*models.Task, error) {
	var task models.Task
	err := db.WithContext(ctx).
		Preload("Assignees").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Comments.Author").
		First(&task, taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("task")
	}
	if err != nil {
		return nil, fmt.Errorf("load task %d: %w", taskID, err)
	}
	if task.Assignees == nil {
		task.Assignees = []models.User{}
	}
	if task.Comments == nil {
		task.Comments = []models.Comment{}
	}
	return &task, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
