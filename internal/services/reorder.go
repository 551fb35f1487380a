package services

import (
	"context"
	"errors"
	"fmt"

	"taskboard/backend/internal/models"
	"taskboard/backend/internal/realtime"
	"taskboard/backend/internal/reorder"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReorderEngine moves lists within a board. Every move runs in one
// transaction holding row locks on all of the board's lists, so
// concurrent moves on the same board serialize.
type ReorderEngine struct {
	db          *gorm.DB
	guard       BoardAccessGuard
	broadcaster realtime.Broadcaster
}

func NewReorderEngine(db *gorm.DB, guard BoardAccessGuard, broadcaster realtime.Broadcaster) *ReorderEngine {
	return &ReorderEngine{db: db, guard: guard, broadcaster: broadcaster}
}

// MoveList places the list at newPosition among its board's lists and
// broadcasts listUpdated. Positions past the end are clamped to the last
// slot. Moving a list to where it already is writes and broadcasts
// nothing.
func (e *ReorderEngine) MoveList(ctx context.Context, userID, boardID, listID uint, newPosition int) (*models.List, error) {
	if err := e.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	list, moved, err := e.move(ctx, boardID, listID, newPosition)
	if err != nil {
		return nil, err
	}
	if !moved {
		return list, nil
	}
	return list, notify(ctx, e.broadcaster, boardID, realtime.EventListUpdated, list)
}

// move applies the position change without authorization or broadcast.
func (e *ReorderEngine) move(ctx context.Context, boardID, listID uint, newPosition int) (*models.List, bool, error) {
	if newPosition < 1 {
		return nil, false, invalid("position must be at least 1")
	}

	var (
		result models.List
		moved  bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var siblings []models.List
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("board_id = ?", boardID).
			Order("position ASC, id ASC").
			Find(&siblings).Error; err != nil {
			return fmt.Errorf("lock board lists: %w", err)
		}

		items := make([]reorder.Item, len(siblings))
		for i, l := range siblings {
			items[i] = reorder.Item{ID: l.ID, Position: l.Position}
		}

		changes, err := reorder.Plan(items, listID, reorder.Clamp(newPosition, len(items)))
		if errors.Is(err, reorder.ErrItemNotFound) {
			return notFound("list")
		}
		if err != nil {
			return err
		}

		// Shifts come before the moved row in changes.
		for _, ch := range changes {
			if err := tx.Model(&models.List{}).
				Where("id = ?", ch.ID).
				Update("position", ch.To).Error; err != nil {
				return fmt.Errorf("update list %d position: %w", ch.ID, err)
			}
		}
		moved = len(changes) > 0

		return tx.First(&result, listID).Error
	})
	if err != nil {
		return nil, false, err
	}

	if moved {
		log.WithFields(log.Fields{
			"board_id": boardID,
			"list_id":  listID,
			"position": result.Position,
		}).Debug("list moved")
	}
	return &result, moved, nil
}
