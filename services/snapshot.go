package services

import (
	"context"
	"time"

	"owngame/messages"
	"owngame/models"
	"owngame/store"
)

// GameSnapshot is the public view of a game. It never carries the answer.
type GameSnapshot struct {
	Origin            models.Origin     `json:"origin"`
	ChatID            int64             `json:"chat_id"`
	State             models.GameState  `json:"state"`
	LeadingUserID     *int64            `json:"leading_user_id,omitempty"`
	CurrentUserID     *int64            `json:"current_user_id,omitempty"`
	AnsweringUserID   *int64            `json:"answering_user_id,omitempty"`
	Players           []PlayerSnapshot  `json:"players"`
	Themes            []ThemeSnapshot   `json:"themes,omitempty"`
	SelectedQuestions []uint            `json:"selected_questions"`
	CurrentQuestion   *QuestionSnapshot `json:"current_question,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type PlayerSnapshot struct {
	UserID          int64  `json:"user_id"`
	Name            string `json:"name"`
	Username        string `json:"username,omitempty"`
	Points          int    `json:"points"`
	AlreadyAnswered bool   `json:"already_answered"`
}

type ThemeSnapshot struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

type QuestionSnapshot struct {
	ID   uint   `json:"id"`
	Cost int    `json:"cost"`
	Text string `json:"text"`
}

func NewSnapshot(g *models.Game) GameSnapshot {
	s := GameSnapshot{
		Origin:            g.Origin,
		ChatID:            g.ChatID,
		State:             g.State,
		LeadingUserID:     g.LeadingUserID,
		CurrentUserID:     g.CurrentUserID,
		AnsweringUserID:   g.AnsweringUserID,
		Players:           make([]PlayerSnapshot, 0, len(g.Players)),
		SelectedQuestions: append([]uint{}, g.SelectedQuestions...),
		UpdatedAt:         g.UpdatedAt,
	}
	for _, p := range g.Players {
		s.Players = append(s.Players, PlayerSnapshot{
			UserID:          p.UserID,
			Name:            p.Name,
			Username:        p.Username,
			Points:          p.Points,
			AlreadyAnswered: p.AlreadyAnswered,
		})
	}
	for _, t := range g.Themes {
		s.Themes = append(s.Themes, ThemeSnapshot{ID: t.ID, Title: t.Title})
	}
	if q := g.CurrentQuestion; q != nil && g.State != models.StateQuestionSelection {
		s.CurrentQuestion = &QuestionSnapshot{ID: q.ID, Cost: q.Cost, Text: q.Text}
	}
	return s
}

func (s GameSnapshot) Route() messages.Route {
	return messages.Route{Origin: s.Origin, ChatID: s.ChatID}
}

// Feed receives committed game state for spectators.
type Feed interface {
	Publish(ctx context.Context, snap GameSnapshot)
	Drop(ctx context.Context, route messages.Route)
}

// Feeds fans out to several feeds.
type Feeds []Feed

func (f Feeds) Publish(ctx context.Context, snap GameSnapshot) {
	for _, feed := range f {
		feed.Publish(ctx, snap)
	}
}

func (f Feeds) Drop(ctx context.Context, route messages.Route) {
	for _, feed := range f {
		feed.Drop(ctx, route)
	}
}

// LoadSnapshot reads the stored game for route.
func LoadSnapshot(ctx context.Context, st *store.Store, route messages.Route) (*GameSnapshot, error) {
	uow, err := st.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	g, err := uow.Games.Get(route.Origin, route.ChatID)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot(g)
	return &snap, nil
}

// ListSnapshots reads every stored game. Themes are not loaded.
func ListSnapshots(ctx context.Context, st *store.Store) ([]GameSnapshot, error) {
	uow, err := st.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	games, err := uow.Games.List()
	if err != nil {
		return nil, err
	}
	snaps := make([]GameSnapshot, 0, len(games))
	for i := range games {
		snaps = append(snaps, NewSnapshot(&games[i]))
	}
	return snaps, nil
}
