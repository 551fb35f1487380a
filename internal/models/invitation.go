package models

import "time"

type Invitation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	BoardID   uint      `json:"board_id" gorm:"not null;index"`
	InviterID uint      `json:"inviter_id" gorm:"not null"`
	Email     string    `json:"email" gorm:"not null;index"`
	Role      BoardRole `json:"role" gorm:"not null;default:'member'"`
	Token     string    `json:"token" gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
