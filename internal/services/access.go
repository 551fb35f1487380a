package services

import (
	"context"
	"errors"
	"fmt"

	"taskboard/backend/internal/models"

	"gorm.io/gorm"
)

// BoardAccessGuard decides whether a user may act on a board and resolves
// the board that owns a list, task or comment.
type BoardAccessGuard interface {
	// Authorize reports membership. A missing row is (false, nil).
	Authorize(ctx context.Context, userID, boardID uint) (bool, error)
	// Require turns a failed Authorize into ErrUnauthorized or ErrForbidden.
	Require(ctx context.Context, userID, boardID uint) error
	Role(ctx context.Context, userID, boardID uint) (models.BoardRole, error)
	BoardOfList(ctx context.Context, listID uint) (uint, error)
	BoardOfTask(ctx context.Context, taskID uint) (uint, error)
	BoardOfComment(ctx context.Context, commentID uint) (uint, error)
}

type AccessGuard struct {
	db *gorm.DB
}

func NewAccessGuard(db *gorm.DB) *AccessGuard {
	return &AccessGuard{db: db}
}

func (g *AccessGuard) Authorize(ctx context.Context, userID, boardID uint) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.BoardUser{}).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

func (g *AccessGuard) Require(ctx context.Context, userID, boardID uint) error {
	if userID == 0 {
		return ErrUnauthorized
	}
	ok, err := g.Authorize(ctx, userID, boardID)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("not a member of this board")
	}
	return nil
}

func (g *AccessGuard) Role(ctx context.Context, userID, boardID uint) (models.BoardRole, error) {
	if userID == 0 {
		return "", ErrUnauthorized
	}
	var membership models.BoardUser
	err := g.db.WithContext(ctx).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", forbidden("not a member of this board")
	}
	if err != nil {
		return "", fmt.Errorf("load membership: %w", err)
	}
	return membership.Role, nil
}

// RequireRole passes when the user's role is one of roles.
func RequireRole(ctx context.Context, guard BoardAccessGuard, userID, boardID uint, roles ...models.BoardRole) error {
	role, err := guard.Role(ctx, userID, boardID)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if role == r {
			return nil
		}
	}
	return forbidden(fmt.Sprintf("role %s may not perform this action", role))
}

func (g *AccessGuard) BoardOfList(ctx context.Context, listID uint) (uint, error) {
	var list models.List
	err := g.db.WithContext(ctx).Select("id", "board_id").First(&list, listID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, notFound("list")
	}
	if err != nil {
		return 0, fmt.Errorf("resolve list: %w", err)
	}
	return list.BoardID, nil
}

func (g *AccessGuard) BoardOfTask(ctx context.Context, taskID uint) (uint, error) {
	return g.scanBoard("task",
		g.db.WithContext(ctx).
			Table("tasks").
			Select("lists.board_id").
			Joins("JOIN lists ON lists.id = tasks.list_id").
			Where("tasks.id = ?", taskID))
}

func (g *AccessGuard) BoardOfComment(ctx context.Context, commentID uint) (uint, error) {
	return g.scanBoard("comment",
		g.db.WithContext(ctx).
			Table("comments").
			Select("lists.board_id").
			Joins("JOIN tasks ON tasks.id = comments.task_id").
			Joins("JOIN lists ON lists.id = tasks.list_id").
			Where("comments.id = ?", commentID))
}

func (g *AccessGuard) scanBoard(what string, q *gorm.DB) (uint, error) {
	var row struct {
		BoardID uint
	}
	res := q.Limit(1).Scan(&row)
	if res.Error != nil {
		return 0, fmt.Errorf("resolve %s: %w", what, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, notFound(what)
	}
	return row.BoardID, nil
}
