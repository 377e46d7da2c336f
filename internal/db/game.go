package db

import (
	"time"

	"gorm.io/datatypes"
)

// GameState holds one room's whole state as the JSON storage form.
type GameState struct {
	RoomID    string         `gorm:"primaryKey;size:64"`
	Phase     string         `gorm:"size:32;not null"`
	State     datatypes.JSON `gorm:"type:jsonb;not null"`
	Version   int64          `gorm:"not null;default:0"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}
