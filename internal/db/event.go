package db

import (
	"time"

	"gorm.io/datatypes"
)

type Event struct {
	ID        uint           `gorm:"primaryKey"`
	RoomID    string         `gorm:"size:64;index;not null"`
	Type      string         `gorm:"size:64;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

type EventPayload struct {
	Phase     string `json:"phase,omitempty"`
	From      string `json:"from,omitempty"`
	Word      string `json:"word,omitempty"`
	PlayerID  string `json:"player_id,omitempty"`
	DrawingID string `json:"drawing_id,omitempty"`
	Count     int    `json:"count,omitempty"`
}
