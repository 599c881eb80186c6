package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScheduledEvent is a message waiting to be published. Rows live from the
// moment a follow-up is postponed until it fires or is cancelled.
type ScheduledEvent struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	TypeName     string         `json:"type_name" gorm:"size:64;not null;index:idx_scheduled_events_key"`
	Origin       Origin         `json:"origin" gorm:"size:16;not null;index:idx_scheduled_events_key"`
	ChatID       int64          `json:"chat_id" gorm:"not null;index:idx_scheduled_events_key"`
	DelaySeconds float64        `json:"delay_seconds" gorm:"not null"`
	Payload      datatypes.JSON `json:"payload" gorm:"not null"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null"`
}

func (e *ScheduledEvent) Delay() time.Duration {
	return time.Duration(e.DelaySeconds * float64(time.Second))
}

// Remaining is the delay left at now, never less than floor.
func (e *ScheduledEvent) Remaining(now time.Time, floor time.Duration) time.Duration {
	left := e.Delay() - now.Sub(e.CreatedAt)
	if left < floor {
		return floor
	}
	return left
}
