package models

import "time"

type Player struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	GameID          uint      `json:"game_id" gorm:"not null;index"`
	Origin          Origin    `json:"origin" gorm:"size:16;not null;uniqueIndex:idx_players_origin_chat_user"`
	ChatID          int64     `json:"chat_id" gorm:"not null;uniqueIndex:idx_players_origin_chat_user"`
	UserID          int64     `json:"user_id" gorm:"not null;uniqueIndex:idx_players_origin_chat_user"`
	Name            string    `json:"name" gorm:"size:128"`
	Username        string    `json:"username" gorm:"size:64"`
	Points          int       `json:"points" gorm:"not null;default:0"`
	AlreadyAnswered bool      `json:"already_answered" gorm:"not null;default:false"`
	JoinedAt        time.Time `json:"joined_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
