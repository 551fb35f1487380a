package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"taskboard/backend/internal/models"
	"taskboard/backend/internal/realtime"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const DefaultInvitationTTL = 7 * 24 * time.Hour

type CreateInvitationRequest struct {
	Email string           `json:"email" binding:"required"`
	Role  models.BoardRole `json:"role"`
}

// InvitationNotifier delivers a freshly created invitation to its invitee.
// Delivery happens outside the request, so a failure never undoes the
// invitation.
type InvitationNotifier interface {
	InvitationCreated(ctx context.Context, invitation models.Invitation, board models.Board) error
}

type InvitationService interface {
	CreateInvitation(ctx context.Context, userID, boardID uint, req CreateInvitationRequest) (*models.Invitation, error)
	ListInvitations(ctx context.Context, userID, boardID uint) ([]models.Invitation, error)
	RevokeInvitation(ctx context.Context, userID, invitationID uint) error
	AcceptInvitation(ctx context.Context, userID uint, token string) (*models.BoardUser, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

type InvitationServiceImpl struct {
	db          *gorm.DB
	guard       BoardAccessGuard
	broadcaster realtime.Broadcaster
	notifier    InvitationNotifier
	ttl         time.Duration
	now         func() time.Time
}

func NewInvitationService(db *gorm.DB, guard BoardAccessGuard, broadcaster realtime.Broadcaster, notifier InvitationNotifier, ttl time.Duration) *InvitationServiceImpl {
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &InvitationServiceImpl{
		db:          db,
		guard:       guard,
		broadcaster: broadcaster,
		notifier:    notifier,
		ttl:         ttl,
		now:         time.Now,
	}
}

// CreateInvitation is limited to owners and admins. The owner role cannot
// be handed out through an invitation.
func (s *InvitationServiceImpl) CreateInvitation(ctx context.Context, userID, boardID uint, req CreateInvitationRequest) (*models.Invitation, error) {
	email := models.NormalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, invalid("email is not a valid address")
	}
	role := req.Role
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() || role == models.RoleOwner {
		return nil, invalid("role must be admin or member")
	}

	if err := RequireRole(ctx, s.guard, userID, boardID, models.RoleOwner, models.RoleAdmin); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var board models.Board
	if err := db.First(&board, boardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("board")
		}
		return nil, fmt.Errorf("load board: %w", err)
	}

	var existing int64
	if err := db.Model(&models.BoardUser{}).
		Joins("JOIN users ON users.id = board_users.user_id").
		Where("board_users.board_id = ? AND users.email = ?", boardID, email).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check existing member: %w", err)
	}
	if existing > 0 {
		return nil, invalid("%s is already a member of this board", email)
	}

	token, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate invitation token: %w", err)
	}
	invitation := models.Invitation{
		BoardID:   boardID,
		InviterID: userID,
		Email:     email,
		Role:      role,
		Token:     token.String(),
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := db.Create(&invitation).Error; err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.InvitationCreated(ctx, invitation, board); err != nil {
			log.WithFields(log.Fields{
				"invitation_id": invitation.ID,
				"board_id":      boardID,
			}).WithError(err).Warn("invitation notification failed")
		}
	}
	return &invitation, nil
}

func (s *InvitationServiceImpl) ListInvitations(ctx context.Context, userID, boardID uint) ([]models.Invitation, error) {
	if err := RequireRole(ctx, s.guard, userID, boardID, models.RoleOwner, models.RoleAdmin); err != nil {
		return nil, err
	}
	invitations := []models.Invitation{}
	if err := s.db.WithContext(ctx).
		Where("board_id = ? AND expires_at > ?", boardID, s.now()).
		Order("created_at ASC, id ASC").
		Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return invitations, nil
}

func (s *InvitationServiceImpl) RevokeInvitation(ctx context.Context, userID, invitationID uint) error {
	db := s.db.WithContext(ctx)
	var invitation models.Invitation
	if err := db.First(&invitation, invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("invitation")
		}
		return fmt.Errorf("load invitation: %w", err)
	}
	if err := RequireRole(ctx, s.guard, userID, invitation.BoardID, models.RoleOwner, models.RoleAdmin); err != nil {
		return err
	}
	if err := db.Delete(&invitation).Error; err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	return nil
}

// AcceptInvitation grants the invited role to the acting user, whose
// email must match the invitation. The invitation is consumed either way
// once it is found expired or accepted.
func (s *InvitationServiceImpl) AcceptInvitation(ctx context.Context, userID uint, token string) (*models.BoardUser, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	if token == "" {
		return nil, notFound("invitation")
	}

	db := s.db.WithContext(ctx)
	var invitation models.Invitation
	if err := db.Where("token = ?", token).First(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("invitation")
		}
		return nil, fmt.Errorf("load invitation: %w", err)
	}

	if invitation.IsExpired(s.now()) {
		if err := db.Delete(&invitation).Error; err != nil {
			log.WithError(err).WithField("invitation_id", invitation.ID).Warn("expired invitation not deleted")
		}
		return nil, notFound("invitation")
	}

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if models.NormalizeEmail(user.Email) != invitation.Email {
		return nil, forbidden("invitation was issued to another address")
	}

	membership := models.BoardUser{BoardID: invitation.BoardID, UserID: userID, Role: invitation.Role}
	var joined bool
	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.BoardUser{}).
			Where("board_id = ? AND user_id = ?", invitation.BoardID, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
			joined = true
		} else if err := tx.Where("board_id = ? AND user_id = ?", invitation.BoardID, userID).
			First(&membership).Error; err != nil {
			return err
		}
		return tx.Delete(&invitation).Error
	})
	if err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}

	membership.User = &user
	if !joined {
		return &membership, nil
	}
	return &membership, notify(ctx, s.broadcaster, invitation.BoardID, realtime.EventMemberJoined, BoardMember{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   membership.Role,
	})
}

// PurgeExpired deletes every invitation whose expiry has passed.
func (s *InvitationServiceImpl) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Invitation{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge expired invitations: %w", res.Error)
	}
	return res.RowsAffected, nil
}
