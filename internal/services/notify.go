package services

import (
	"context"
	"fmt"

	"taskboard/backend/internal/realtime"

	log "github.com/sirupsen/logrus"
)

// notify runs after the write it reports has been committed. A failure
// leaves that write in place and is returned to the caller.
func notify(ctx context.Context, b realtime.Broadcaster, boardID uint, event string, payload any) error {
	if err := b.Broadcast(ctx, boardID, event, payload); err != nil {
		log.WithFields(log.Fields{
			"board_id": boardID,
			"event":    event,
		}).WithError(err).Error("broadcast failed")
		return fmt.Errorf("broadcast %s: %w", event, err)
	}
	return nil
}
