package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SavedBlueprint is the server-side copy of a blueprint, written on manual save.
// The id is the blueprint id, which is also the shared document name.
type SavedBlueprint struct {
	ID        string         `json:"id" gorm:"type:varchar(255);primaryKey"`
	Version   int            `json:"version" gorm:"not null;default:1"`
	Nodes     datatypes.JSON `json:"nodes"`
	Edges     datatypes.JSON `json:"edges"`
	Viewport  datatypes.JSON `json:"viewport"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// TableName override
func (SavedBlueprint) TableName() string {
	return "blueprints"
}
