package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskboard/backend/internal/models"
	"taskboard/backend/internal/realtime"

	"gorm.io/gorm"
)

type CreateListRequest struct {
	BoardID uint   `json:"board_id" binding:"required"`
	Title   string `json:"title" binding:"required"`
}

type UpdateListRequest struct {
	Title    models.Optional[string] `json:"title"`
	Position models.Optional[int]    `json:"position"`
}

type ListService interface {
	CreateList(ctx context.Context, userID uint, req CreateListRequest) (*models.List, error)
	UpdateList(ctx context.Context, userID, listID uint, req UpdateListRequest) (*models.List, error)
	DeleteList(ctx context.Context, userID, listID uint) error
}

type ListServiceImpl struct {
	db          *gorm.DB
	guard       BoardAccessGuard
	engine      *ReorderEngine
	broadcaster realtime.Broadcaster
}

func NewListService(db *gorm.DB, guard BoardAccessGuard, engine *ReorderEngine, broadcaster realtime.Broadcaster) *ListServiceImpl {
	return &ListServiceImpl{db: db, guard: guard, engine: engine, broadcaster: broadcaster}
}

// CreateList appends the list after the board's last one.
func (s *ListServiceImpl) CreateList(ctx context.Context, userID uint, req CreateListRequest) (*models.List, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if req.BoardID == 0 {
		return nil, invalid("board_id is required")
	}
	if err := s.guard.Require(ctx, userID, req.BoardID); err != nil {
		return nil, err
	}

	var maxPosition int
	if err := s.db.WithContext(ctx).
		Model(&models.List{}).
		Where("board_id = ?", req.BoardID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&maxPosition).Error; err != nil {
		return nil, fmt.Errorf("read max list position: %w", err)
	}

	list := models.List{BoardID: req.BoardID, Title: title, Position: maxPosition + 1}
	if err := s.db.WithContext(ctx).Create(&list).Error; err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}

	return &list, notify(ctx, s.broadcaster, list.BoardID, realtime.EventListCreated, list)
}

// UpdateList renames and/or moves a list, broadcasting listUpdated once
// if anything was written.
func (s *ListServiceImpl) UpdateList(ctx context.Context, userID, listID uint, req UpdateListRequest) (*models.List, error) {
	if req.Title.Null || (req.Title.Present() && strings.TrimSpace(req.Title.Value) == "") {
		return nil, invalid("title must not be empty")
	}
	if req.Position.Null {
		return nil, invalid("position must not be null")
	}
	if req.Position.Present() && req.Position.Value < 1 {
		return nil, invalid("position must be at least 1")
	}

	boardID, err := s.guard.BoardOfList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	changed := false
	if req.Title.Present() {
		if err := s.db.WithContext(ctx).
			Model(&models.List{}).
			Where("id = ?", listID).
			Update("title", strings.TrimSpace(req.Title.Value)).Error; err != nil {
			return nil, fmt.Errorf("rename list: %w", err)
		}
		changed = true
	}

	var list *models.List
	if req.Position.Present() {
		var moved bool
		list, moved, err = s.engine.move(ctx, boardID, listID, req.Position.Value)
		if err != nil {
			return nil, err
		}
		changed = changed || moved
	} else {
		list = &models.List{}
		if err := s.db.WithContext(ctx).First(list, listID).Error; err != nil {
			return nil, fmt.Errorf("reload list: %w", err)
		}
	}

	if !changed {
		return list, nil
	}
	return list, notify(ctx, s.broadcaster, boardID, realtime.EventListUpdated, list)
}

// DeleteList removes the list with its tasks and their comments, then
// closes the gap it leaves in the board's positions. The steps are not
// wrapped in a transaction.
func (s *ListServiceImpl) DeleteList(ctx context.Context, userID, listID uint) error {
	boardID, err := s.guard.BoardOfList(ctx, listID)
	if err != nil {
		return err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	var list models.List
	if err := db.First(&list, listID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("list")
		}
		return fmt.Errorf("load list: %w", err)
	}

	taskIDs := db.Model(&models.Task{}).Select("id").Where("list_id = ?", listID)
	if err := db.Where("task_id IN (?)", taskIDs).Delete(&models.Comment{}).Error; err != nil {
		return fmt.Errorf("delete comments of list %d: %w", listID, err)
	}
	if err := db.Exec("DELETE FROM task_assignees WHERE task_id IN (?)", taskIDs).Error; err != nil {
		return fmt.Errorf("delete assignees of list %d: %w", listID, err)
	}
	if err := db.Where("list_id = ?", listID).Delete(&models.Task{}).Error; err != nil {
		return fmt.Errorf("delete tasks of list %d: %w", listID, err)
	}
	if err := db.Delete(&models.List{}, listID).Error; err != nil {
		return fmt.Errorf("delete list %d: %w", listID, err)
	}
	if err := db.Model(&models.List{}).
		Where("board_id = ? AND position > ?", boardID, list.Position).
		Update("position", gorm.Expr("position - 1")).Error; err != nil {
		return fmt.Errorf("compact list positions: %w", err)
	}

	return notify(ctx, s.broadcaster, boardID, realtime.EventListDeleted, listID)
}
