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

type CreateBoardRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	BackgroundColor string `json:"background_color"`
	TextColor       string `json:"text_color"`
}

type UpdateBoardRequest struct {
	Title           models.Optional[string] `json:"title"`
	Description     models.Optional[string] `json:"description"`
	BackgroundColor models.Optional[string] `json:"background_color"`
	TextColor       models.Optional[string] `json:"text_color"`
}

// BoardSnapshot is everything a client needs to render a board: lists in
// position order, each with its tasks in position order.
type BoardSnapshot struct {
	Board     models.Board  `json:"board"`
	Lists     []models.List `json:"lists"`
	JoinToken string        `json:"join_token,omitempty"`
}

type BoardMember struct {
	UserID uint             `json:"user_id"`
	Email  string           `json:"email"`
	Name   string           `json:"name"`
	Role   models.BoardRole `json:"role"`
}

type BoardService interface {
	CreateBoard(ctx context.Context, userID uint, req CreateBoardRequest) (*models.Board, error)
	ListBoards(ctx context.Context, userID uint) ([]models.Board, error)
	GetBoard(ctx context.Context, userID, boardID uint) (*BoardSnapshot, error)
	UpdateBoard(ctx context.Context, userID, boardID uint, req UpdateBoardRequest) (*models.Board, error)
	DeleteBoard(ctx context.Context, userID, boardID uint) error
	ListMembers(ctx context.Context, userID, boardID uint) ([]BoardMember, error)
}

type BoardServiceImpl struct {
	db          *gorm.DB
	guard       BoardAccessGuard
	broadcaster realtime.Broadcaster
}

func NewBoardService(db *gorm.DB, guard BoardAccessGuard, broadcaster realtime.Broadcaster) *BoardServiceImpl {
	return &BoardServiceImpl{db: db, guard: guard, broadcaster: broadcaster}
}

// CreateBoard stores the board and makes the creator its owner.
func (s *BoardServiceImpl) CreateBoard(ctx context.Context, userID uint, req CreateBoardRequest) (*models.Board, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalid("title is required")
	}

	board := models.Board{
		Title:           title,
		Description:     req.Description,
		BackgroundColor: req.BackgroundColor,
		TextColor:       req.TextColor,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&board).Error; err != nil {
			return err
		}
		return tx.Create(&models.BoardUser{BoardID: board.ID, UserID: userID, Role: models.RoleOwner}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	return &board, nil
}

func (s *BoardServiceImpl) ListBoards(ctx context.Context, userID uint) ([]models.Board, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	boards := []models.Board{}
	err := s.db.WithContext(ctx).
		Joins("JOIN board_users ON board_users.board_id = boards.id").
		Where("board_users.user_id = ?", userID).
		Order("boards.updated_at DESC, boards.id DESC").
		Find(&boards).Error
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

func (s *BoardServiceImpl) GetBoard(ctx context.Context, userID, boardID uint) (*BoardSnapshot, error) {
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}
	return s.loadSnapshot(ctx, boardID)
}

func (s *BoardServiceImpl) loadSnapshot(ctx context.Context, boardID uint) (*BoardSnapshot, error) {
	db := s.db.WithContext(ctx)

	var board models.Board
	if err := db.First(&board, boardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("board")
		}
		return nil, fmt.Errorf("load board: %w", err)
	}

	lists := []models.List{}
	err := db.Where("board_id = ?", boardID).
		Order("position ASC, id ASC").
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Tasks.Assignees").
		Find(&lists).Error
	if err != nil {
		return nil, fmt.Errorf("load lists: %w", err)
	}

	return &BoardSnapshot{Board: board, Lists: lists}, nil
}

func (s *BoardServiceImpl) UpdateBoard(ctx context.Context, userID, boardID uint, req UpdateBoardRequest) (*models.Board, error) {
	if req.Title.Null || (req.Title.Present() && strings.TrimSpace(req.Title.Value) == "") {
		return nil, invalid("title must not be empty")
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Title.Present() {
		updates["title"] = strings.TrimSpace(req.Title.Value)
	}
	for column, field := range map[string]models.Optional[string]{
		"description":      req.Description,
		"background_color": req.BackgroundColor,
		"text_color":       req.TextColor,
	} {
		if field.Set {
			updates[column] = field.Or("")
		}
	}

	db := s.db.WithContext(ctx)
	if len(updates) > 0 {
		if err := db.Model(&models.Board{}).Where("id = ?", boardID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update board %d: %w", boardID, err)
		}
	}

	var board models.Board
	if err := db.First(&board, boardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("board")
		}
		return nil, fmt.Errorf("reload board: %w", err)
	}
	if len(updates) == 0 {
		return &board, nil
	}
	return &board, notify(ctx, s.broadcaster, boardID, realtime.EventBoardUpdated, board)
}

// DeleteBoard removes the board and everything it owns. Owner only.
func (s *BoardServiceImpl) DeleteBoard(ctx context.Context, userID, boardID uint) error {
	if err := RequireRole(ctx, s.guard, userID, boardID, models.RoleOwner); err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	listIDs := db.Model(&models.List{}).Select("id").Where("board_id = ?", boardID)
	taskIDs := db.Model(&models.Task{}).Select("id").Where("list_id IN (?)", listIDs)

	steps := []struct {
		what string
		run  func() error
	}{
		{"comments", func() error { return db.Where("task_id IN (?)", taskIDs).Delete(&models.Comment{}).Error }},
		{"assignees", func() error { return db.Exec("DELETE FROM task_assignees WHERE task_id IN (?)", taskIDs).Error }},
		{"tasks", func() error { return db.Where("list_id IN (?)", listIDs).Delete(&models.Task{}).Error }},
		{"lists", func() error { return db.Where("board_id = ?", boardID).Delete(&models.List{}).Error }},
		{"invitations", func() error { return db.Where("board_id = ?", boardID).Delete(&models.Invitation{}).Error }},
		{"members", func() error { return db.Where("board_id = ?", boardID).Delete(&models.BoardUser{}).Error }},
		{"board", func() error { return db.Delete(&models.Board{}, boardID).Error }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("delete %s of board %d: %w", step.what, boardID, err)
		}
	}

	return notify(ctx, s.broadcaster, boardID, realtime.EventBoardDeleted, boardID)
}

func (s *BoardServiceImpl) ListMembers(ctx context.Context, userID, boardID uint) ([]BoardMember, error) {
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	var memberships []models.BoardUser
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("board_id = ?", boardID).
		Order("created_at ASC, user_id ASC").
		Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	members := make([]BoardMember, 0, len(memberships))
	for _, m := range memberships {
		member := BoardMember{UserID: m.UserID, Role: m.Role}
		if m.User != nil {
			member.Email = m.User.Email
			member.Name = m.User.Name
		}
		members = append(members, member)
	}
	return members, nil
}
