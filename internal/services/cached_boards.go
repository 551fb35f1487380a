package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskboard/backend/internal/cache"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/realtime"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

const DefaultSnapshotTTL = 5 * time.Minute

// generationTTL outlives any snapshot load.
const generationTTL = 2 * DefaultSnapshotTTL

func snapshotKey(boardID uint) string {
	return fmt.Sprintf("board_snapshot:%d", boardID)
}

// generationKey holds a token that changes on every invalidation of the
// board. A snapshot is only stored if the token did not change while it
// was loaded.
func generationKey(boardID uint) string {
	return fmt.Sprintf("board_snapshot_gen:%d", boardID)
}

func readGeneration(ctx context.Context, c cache.Cache, boardID uint) string {
	var gen string
	if err := c.Get(ctx, generationKey(boardID), &gen); err != nil {
		return ""
	}
	return gen
}

// invalidateSnapshot bumps the generation before dropping the snapshot,
// so a load that started earlier cannot store its result.
func invalidateSnapshot(ctx context.Context, c cache.Cache, boardID uint) {
	entry := log.WithField("board_id", boardID)
	gen, err := uuid.NewV4()
	if err == nil {
		err = c.Set(ctx, generationKey(boardID), gen.String(), generationTTL)
	}
	if err != nil {
		entry.WithError(err).Warn("snapshot generation not bumped")
	}
	if err := c.Delete(ctx, snapshotKey(boardID)); err != nil {
		entry.WithError(err).Warn("snapshot invalidation failed")
	}
}

// CachedBoardService serves board snapshots from cache. Membership is
// checked on every call so a cached snapshot never leaks to non-members.
type CachedBoardService struct {
	BoardService
	guard BoardAccessGuard
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedBoardService(inner BoardService, guard BoardAccessGuard, c cache.Cache, ttl time.Duration) *CachedBoardService {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &CachedBoardService{BoardService: inner, guard: guard, cache: c, ttl: ttl}
}

func (s *CachedBoardService) GetBoard(ctx context.Context, userID, boardID uint) (*BoardSnapshot, error) {
	if err := s.guard.Require(ctx, userID, boardID); err != nil {
		return nil, err
	}

	key := snapshotKey(boardID)
	var snapshot BoardSnapshot
	err := s.cache.Get(ctx, key, &snapshot)
	if err == nil {
		return &snapshot, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.WithError(err).WithField("key", key).Warn("snapshot cache read failed")
	}

	gen := readGeneration(ctx, s.cache, boardID)
	fresh, err := s.BoardService.GetBoard(ctx, userID, boardID)
	if err != nil {
		return nil, err
	}
	if readGeneration(ctx, s.cache, boardID) != gen {
		log.WithField("board_id", boardID).Debug("board changed while loading, snapshot not cached")
		return fresh, nil
	}
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		log.WithError(err).WithField("key", key).Warn("snapshot cache write failed")
	}
	return fresh, nil
}

func (s *CachedBoardService) UpdateBoard(ctx context.Context, userID, boardID uint, req UpdateBoardRequest) (*models.Board, error) {
	defer s.invalidate(ctx, boardID)
	return s.BoardService.UpdateBoard(ctx, userID, boardID, req)
}

func (s *CachedBoardService) DeleteBoard(ctx context.Context, userID, boardID uint) error {
	defer s.invalidate(ctx, boardID)
	return s.BoardService.DeleteBoard(ctx, userID, boardID)
}

func (s *CachedBoardService) invalidate(ctx context.Context, boardID uint) {
	invalidateSnapshot(ctx, s.cache, boardID)
}

// SnapshotInvalidator drops the cached snapshot of a board before any event
// about that board goes out. Every mutation broadcasts, so it is the single
// place where list, task and comment writes reach the cache.
type SnapshotInvalidator struct {
	next  realtime.Broadcaster
	cache cache.Cache
}

func NewSnapshotInvalidator(next realtime.Broadcaster, c cache.Cache) *SnapshotInvalidator {
	return &SnapshotInvalidator{next: next, cache: c}
}

func (i *SnapshotInvalidator) Broadcast(ctx context.Context, boardID uint, event string, payload any) error {
	invalidateSnapshot(ctx, i.cache, boardID)
	return i.next.Broadcast(ctx, boardID, event, payload)
}
