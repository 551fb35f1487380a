package models

import "time"

type BoardRole string

const (
	RoleOwner  BoardRole = "owner"
	RoleAdmin  BoardRole = "admin"
	RoleMember BoardRole = "member"
)

func (r BoardRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

type Board struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Title           string    `json:"title" gorm:"not null"`
	Description     string    `json:"description"`
	BackgroundColor string    `json:"background_color"`
	TextColor       string    `json:"text_color"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Lists []List `json:"lists,omitempty" gorm:"foreignKey:BoardID;constraint:OnDelete:CASCADE"`
}

// BoardUser is the membership relation between a board and a user.
// Exactly one row per (board, user) pair.
type BoardUser struct {
	BoardID   uint      `json:"board_id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"primaryKey;index"`
	Role      BoardRole `json:"role" gorm:"not null;default:'member'"`
	CreatedAt time.Time `json:"created_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (BoardUser) TableName() string {
	return "board_users"
}
