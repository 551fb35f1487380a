package models

import (
	"encoding/json"
	"time"
)

type Task struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ListID      uint      `json:"list_id" gorm:"not null;index"`
	Title       string    `json:"title" gorm:"not null"`
	Description *string   `json:"description"`
	Position    int       `json:"position" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Nil means not loaded and encodes as null; a loaded task with none
	// encodes as [].
	Assignees []User    `json:"assignees" gorm:"many2many:task_assignees;"`
	Comments  []Comment `json:"comments" gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
}

// TaskPatch is one item of a batch task update. Absent fields are left
// untouched; present fields replace the stored value.
type TaskPatch struct {
	ID       uint             `json:"id"`
	Title    Optional[string] `json:"title"`
	ListID   Optional[uint]   `json:"list_id"`
	Position Optional[int]    `json:"position"`
}

// Empty reports whether the patch carries no field to write.
func (p TaskPatch) Empty() bool {
	return !p.Title.Set && !p.ListID.Set && !p.Position.Set
}

// MarshalJSON writes only the fields that are set, so a patch built by a
// client round-trips without turning absent fields into nulls.
func (p TaskPatch) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"id": p.ID}
	if p.Title.Set {
		out["title"] = p.Title
	}
	if p.ListID.Set {
		out["list_id"] = p.ListID
	}
	if p.Position.Set {
		out["position"] = p.Position
	}
	return json.Marshal(out)
}
