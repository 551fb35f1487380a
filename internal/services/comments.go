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

type CreateCommentRequest struct {
	TaskID  uint   `json:"taskId" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type UpdateCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

// CommentService mutations each broadcast tasksUpdated carrying the task
// with all of its comments.
type CommentService interface {
	CreateComment(ctx context.Context, userID uint, req CreateCommentRequest) (*models.Comment, error)
	UpdateComment(ctx context.Context, userID, commentID uint, req UpdateCommentRequest) (*models.Comment, error)
	DeleteComment(ctx context.Context, userID, commentID uint) error
}

type CommentServiceImpl struct {
	db          *gorm.DB
	guard       BoardAccessGuard
	broadcaster realtime.Broadcaster
}

func NewCommentService(db *gorm.DB, guard BoardAccessGuard, broadcaster realtime.Broadcaster) *CommentServiceImpl {
	return &CommentServiceImpl{db: db, guard: guard, broadcaster: broadcaster}
}

func (s *CommentServiceImpl) CreateComment(ctx context.Context, userID uint, req CreateCommentRequest) (*models.Comment, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if req.TaskID == 0 {
		return nil, invalid("taskId is required")
	}

	boardID, err := s.guard.BoardOfTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	comment := models.Comment{TaskID: req.TaskID, UserID: userID, Content: content}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	if err := s.db.WithContext(ctx).Preload("Author").First(&comment, comment.ID).Error; err != nil {
		return nil, fmt.Errorf("reload comment: %w", err)
	}

	if err := notify(ctx, s.broadcaster, boardID, realtime.EventCommentCreated, comment); err != nil {
		return &comment, err
	}
	return &comment, s.broadcastTask(ctx, boardID, comment.TaskID)
}

// UpdateComment changes the content. Only the author may edit.
func (s *CommentServiceImpl) UpdateComment(ctx context.Context, userID, commentID uint, req UpdateCommentRequest) (*models.Comment, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalid("content is required")
	}

	comment, boardID, err := s.authorOnly(ctx, userID, commentID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ?", commentID).
		Update("content", content).Error; err != nil {
		return nil, fmt.Errorf("update comment %d: %w", commentID, err)
	}
	if err := s.db.WithContext(ctx).Preload("Author").First(comment, commentID).Error; err != nil {
		return nil, fmt.Errorf("reload comment: %w", err)
	}

	return comment, s.broadcastTask(ctx, boardID, comment.TaskID)
}

// DeleteComment removes the comment. Only the author may delete.
func (s *CommentServiceImpl) DeleteComment(ctx context.Context, userID, commentID uint) error {
	comment, boardID, err := s.authorOnly(ctx, userID, commentID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Comment{}, commentID).Error; err != nil {
		return fmt.Errorf("delete comment %d: %w", commentID, err)
	}

	return s.broadcastTask(ctx, boardID, comment.TaskID)
}

func (s *CommentServiceImpl) authorOnly(ctx context.Context, userID, commentID uint) (*models.Comment, uint, error) {
	boardID, err := s.guard.BoardOfComment(ctx, commentID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, 0, err
	}

	var comment models.Comment
	if err := s.db.WithContext(ctx).First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, notFound("comment")
		}
		return nil, 0, fmt.Errorf("load comment: %w", err)
	}
	if comment.UserID != userID {
		return nil, 0, forbidden("only the author may change this comment")
	}
	return &comment, boardID, nil
}

func (s *CommentServiceImpl) broadcastTask(ctx context.Context, boardID, taskID uint) error {
	task, err := loadTaskDetail(ctx, s.db, taskID)
	if err != nil {
		return err
	}
	return notify(ctx, s.broadcaster, boardID, realtime.EventTasksUpdated, []models.Task{*task})
}
