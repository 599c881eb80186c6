package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"owngame/models"
	"owngame/store"

	"github.com/gin-gonic/gin/binding"
)

type ImportThemesRequest struct {
	Themes []ImportThemeRequest `json:"themes" binding:"required,min=1,dive"`
}

type ImportThemeRequest struct {
	Title     string                  `json:"title" binding:"required,max=50"`
	Author    string                  `json:"author" binding:"required,max=50"`
	Questions []ImportQuestionRequest `json:"questions" binding:"required,min=5,dive"`
}

type ImportQuestionRequest struct {
	Cost        int    `json:"cost" binding:"required,min=100,max=500"`
	Text        string `json:"text" binding:"required,max=200"`
	Answer      string `json:"answer" binding:"required,max=80"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Duration    int    `json:"duration" binding:"min=0,max=300"`
}

// ImportThemes fills an empty question bank from a JSON document. A bank that
// already has themes is left alone and 0 is returned.
func ImportThemes(ctx context.Context, st *store.Store, r io.Reader) (int, error) {
	var req ImportThemesRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return 0, fmt.Errorf("decode question bank: %w", err)
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return 0, fmt.Errorf("validate question bank: %w", err)
	}
	for _, t := range req.Themes {
		seen := make(map[int]bool, len(t.Questions))
		for _, q := range t.Questions {
			if seen[q.Cost] {
				return 0, fmt.Errorf("validate question bank: theme %q has two questions for %d", t.Title, q.Cost)
			}
			seen[q.Cost] = true
		}
	}

	imported := 0
	err := st.InTx(ctx, func(uow *store.UnitOfWork) error {
		count, err := uow.Themes.Count()
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, t := range req.Themes {
			theme := models.Theme{Title: t.Title, Author: t.Author, Available: true}
			for _, q := range t.Questions {
				theme.Questions = append(theme.Questions, models.Question{
					Cost:        q.Cost,
					Text:        q.Text,
					Answer:      q.Answer,
					Filename:    q.Filename,
					ContentType: q.ContentType,
					Duration:    q.Duration,
				})
			}
			if err := uow.Themes.Add(&theme); err != nil {
				return fmt.Errorf("import theme %q: %w", t.Title, err)
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if imported > 0 {
		log.Printf("[import] loaded %d themes into the question bank", imported)
	}
	return imported, nil
}
