package models

import "time"

// List is an ordered column on a board. Position is 1-based and unique
// among the lists of the same board.
type List struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	BoardID   uint      `json:"board_id" gorm:"not null;index"`
	Title     string    `json:"title" gorm:"not null"`
	Position  int       `json:"position" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Tasks []Task `json:"tasks,omitempty" gorm:"foreignKey:ListID;constraint:OnDelete:CASCADE"`
}
