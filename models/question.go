package models

import (
	"strings"
	"time"
)

type Question struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	ThemeID     uint   `json:"theme_id" gorm:"not null;uniqueIndex:idx_questions_theme_cost"`
	Cost        int    `json:"cost" gorm:"not null;uniqueIndex:idx_questions_theme_cost"` // 100..500
	Text        string `json:"text" gorm:"size:200;not null"`
	Answer      string `json:"answer" gorm:"size:80;not null"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Duration    int    `json:"duration,omitempty"` // seconds to press, 0 means derived from media
}

// PressWindow returns how long players may press the answer button. An explicit
// Duration wins; otherwise media questions get longer than plain text ones.
func (q *Question) PressWindow(text time.Duration) time.Duration {
	if q.Duration > 0 {
		return time.Duration(q.Duration) * time.Second
	}
	switch {
	case q.Filename == "":
		return text
	case strings.HasPrefix(q.ContentType, "image"):
		return text + 5*time.Second
	case strings.HasPrefix(q.ContentType, "audio"):
		return text + 15*time.Second
	case strings.HasPrefix(q.ContentType, "video"):
		return text + 25*time.Second
	default:
		return text
	}
}
