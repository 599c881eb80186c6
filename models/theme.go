package models

import "time"

// Theme is a question pack from the shared bank. Games only reference themes,
// they never own or modify them.
type Theme struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Title     string    `json:"title" gorm:"size:50;not null"`
	Author    string    `json:"author" gorm:"size:50;not null"`
	Available bool      `json:"available" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:ThemeID;constraint:OnDelete:CASCADE"`
}

// Playable reports whether the theme can fill a board column.
func (t *Theme) Playable() bool {
	return t.Available && len(t.Questions) >= QuestionsPerTheme
}

func (t *Theme) question(id uint) (*Question, bool) {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i], true
		}
	}
	return nil, false
}
