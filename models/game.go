package models

import (
	"slices"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// Origin is the chat platform a game or player belongs to.
type Origin string

const (
	OriginTelegram Origin = "telegram"
	OriginVK       Origin = "vk"
)

func (o Origin) Valid() bool {
	return o == OriginTelegram || o == OriginVK
}

type GameState string

const (
	StateWaitingForLeading          GameState = "waiting_for_leading"
	StateRegistration               GameState = "registration"
	StateQuestionSelection          GameState = "question_selection"
	StateWaitingForPress            GameState = "waiting_for_press"
	StateWaitingForAnswer           GameState = "waiting_for_answer"
	StateWaitingForChecking         GameState = "waiting_for_checking"
	StateWaitingForCatCatcher       GameState = "waiting_for_cat_catcher"
	StateWaitingForCatInBagAnswer   GameState = "waiting_for_cat_in_bag_answer"
	StateWaitingForCatInBagChecking GameState = "waiting_for_cat_in_bag_checking"
)

const (
	ThemesPerGame     = 2
	QuestionsPerTheme = 5
	MaxQuestions      = ThemesPerGame * QuestionsPerTheme
)

// Rand is the source of randomness for draws. *math/rand/v2.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// Game is one session in one chat. It owns its players; themes are borrowed
// from the question bank.
type Game struct {
	ID                uint                      `json:"id" gorm:"primaryKey"`
	Origin            Origin                    `json:"origin" gorm:"size:16;not null;uniqueIndex:idx_games_origin_chat"`
	ChatID            int64                     `json:"chat_id" gorm:"not null;uniqueIndex:idx_games_origin_chat"`
	State             GameState                 `json:"state" gorm:"size:40;not null"`
	LeadingUserID     *int64                    `json:"leading_user_id"`
	CurrentUserID     *int64                    `json:"current_user_id"`
	AnsweringUserID   *int64                    `json:"answering_user_id"`
	SelectedQuestions datatypes.JSONSlice[uint] `json:"selected_questions"`
	CurrentQuestionID *uint                     `json:"current_question_id"`
	CatTaken          bool                      `json:"cat_taken" gorm:"not null;default:false"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`

	// Relationships
	CurrentQuestion *Question `json:"-" gorm:"foreignKey:CurrentQuestionID"`
	Themes          []Theme   `json:"themes,omitempty" gorm:"many2many:game_themes"`
	Players         []Player  `json:"players,omitempty" gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func NewGame(origin Origin, chatID int64) *Game {
	return &Game{
		Origin:            origin,
		ChatID:            chatID,
		State:             StateWaitingForLeading,
		SelectedQuestions: datatypes.JSONSlice[uint]{},
	}
}

func (g *Game) playerIndex(userID int64) int {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Player returns the registered player with the given user id, or nil.
func (g *Game) Player(userID int64) *Player {
	if i := g.playerIndex(userID); i >= 0 {
		return &g.Players[i]
	}
	return nil
}

func (g *Game) IsLeading(userID int64) bool {
	return g.LeadingUserID != nil && *g.LeadingUserID == userID
}

func (g *Game) isCurrent(userID int64) bool {
	return g.CurrentUserID != nil && *g.CurrentUserID == userID
}

func (g *Game) isAnswering(userID int64) bool {
	return g.AnsweringUserID != nil && *g.AnsweringUserID == userID
}

func (g *Game) SetLeading(userID int64) error {
	if g.State != StateWaitingForLeading {
		return ErrWrongState
	}
	if g.LeadingUserID != nil {
		return ErrLeaderAlreadySet
	}
	g.LeadingUserID = &userID
	g.State = StateRegistration
	return nil
}

func (g *Game) Register(p Player, maxPlayers int) error {
	if g.State != StateRegistration {
		return ErrWrongState
	}
	if g.IsLeading(p.UserID) {
		return ErrLeaderCannotPlay
	}
	if g.playerIndex(p.UserID) >= 0 {
		return ErrAlreadyRegistered
	}
	if maxPlayers > 0 && len(g.Players) >= maxPlayers {
		return ErrGameFull
	}
	p.GameID = g.ID
	p.Origin = g.Origin
	p.ChatID = g.ChatID
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	g.Players = append(g.Players, p)
	return nil
}

func (g *Game) Unregister(userID int64) error {
	if g.State != StateRegistration {
		return ErrWrongState
	}
	i := g.playerIndex(userID)
	if i < 0 {
		return ErrNotPlayer
	}
	g.Players = slices.Delete(g.Players, i, i+1)
	return nil
}

// Start draws the board from pool and picks who selects first.
func (g *Game) Start(actor int64, pool []Theme, minPlayers int, rnd Rand) (*Player, error) {
	if g.State != StateRegistration {
		return nil, ErrWrongState
	}
	if !g.IsLeading(actor) {
		return nil, ErrNotLeader
	}
	if len(g.Players) == 0 || len(g.Players) < minPlayers {
		return nil, ErrNotEnoughPlayers
	}

	playable := make([]Theme, 0, len(pool))
	for _, t := range pool {
		if t.Playable() {
			playable = append(playable, t)
		}
	}
	if len(playable) < ThemesPerGame {
		return nil, ErrNotEnoughThemes
	}
	for i := 0; i < ThemesPerGame; i++ {
		j := i + rnd.IntN(len(playable)-i)
		playable[i], playable[j] = playable[j], playable[i]
	}

	g.Themes = playable[:ThemesPerGame:ThemesPerGame]
	g.SelectedQuestions = datatypes.JSONSlice[uint]{}
	first := &g.Players[rnd.IntN(len(g.Players))]
	uid := first.UserID
	g.CurrentUserID = &uid
	g.AnsweringUserID = nil
	g.State = StateQuestionSelection
	return first, nil
}

func (g *Game) isSelected(id uint) bool {
	return slices.Contains(g.SelectedQuestions, id)
}

func (g *Game) boardQuestion(id uint) (*Question, bool) {
	for i := range g.Themes {
		if q, ok := g.Themes[i].question(id); ok {
			return q, true
		}
	}
	return nil, false
}

// IsCatInBag rolls the surprise question. It must be called before Select
// records the chosen id: the chance is 1/(10-used) once two questions have been
// played, and at most once per game.
func (g *Game) IsCatInBag(rnd Rand) bool {
	used := len(g.SelectedQuestions)
	if g.CatTaken || len(g.Players) < 2 || used < 2 || used >= MaxQuestions {
		return false
	}
	return rnd.IntN(MaxQuestions-used) == 0
}

func (g *Game) Select(actor int64, questionID uint) (*Question, error) {
	if g.State != StateQuestionSelection {
		return nil, ErrWrongState
	}
	if !g.isCurrent(actor) {
		return nil, ErrNotYourTurn
	}
	q, ok := g.boardQuestion(questionID)
	if !ok {
		return nil, ErrQuestionNotFound
	}
	if g.isSelected(questionID) || len(g.SelectedQuestions) >= MaxQuestions {
		return nil, ErrQuestionAlreadySelected
	}

	g.SelectedQuestions = append(g.SelectedQuestions, questionID)
	g.setCurrentQuestion(q)
	for i := range g.Players {
		g.Players[i].AlreadyAnswered = false
	}
	g.AnsweringUserID = nil
	g.State = StateWaitingForPress
	return g.CurrentQuestion, nil
}

func (g *Game) setCurrentQuestion(q *Question) {
	cp := *q
	id := cp.ID
	g.CurrentQuestionID = &id
	g.CurrentQuestion = &cp
}

// RandomQuestion picks uniformly among the board questions not played yet.
func (g *Game) RandomQuestion(rnd Rand) (uint, bool) {
	ids := g.unselected()
	if len(ids) == 0 {
		return 0, false
	}
	return ids[rnd.IntN(len(ids))], true
}

func (g *Game) unselected() []uint {
	var ids []uint
	for _, t := range g.Themes {
		for _, q := range t.Questions {
			if !g.isSelected(q.ID) {
				ids = append(ids, q.ID)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// GetCatFromBag swaps the question just selected for one from a theme that is
// not on the board.
func (g *Game) GetCatFromBag(pool []Theme, rnd Rand) (*Question, error) {
	if g.State != StateWaitingForPress {
		return nil, ErrWrongState
	}
	var spare []Theme
	for _, t := range pool {
		if len(t.Questions) == 0 || !t.Available || g.onBoard(t.ID) {
			continue
		}
		spare = append(spare, t)
	}
	if len(spare) == 0 {
		return nil, ErrNoSpareTheme
	}
	t := spare[rnd.IntN(len(spare))]
	g.setCurrentQuestion(&t.Questions[rnd.IntN(len(t.Questions))])
	g.CatTaken = true
	g.AnsweringUserID = nil
	g.State = StateWaitingForCatCatcher
	return g.CurrentQuestion, nil
}

func (g *Game) onBoard(themeID uint) bool {
	for _, t := range g.Themes {
		if t.ID == themeID {
			return true
		}
	}
	return false
}

// CatCandidates lists the players the current player may hand the surprise
// question to.
func (g *Game) CatCandidates() []Player {
	out := make([]Player, 0, len(g.Players))
	for _, p := range g.Players {
		if !g.isCurrent(p.UserID) {
			out = append(out, p)
		}
	}
	return out
}

func (g *Game) GiveCat(actor, target int64) (*Player, error) {
	if g.State != StateWaitingForCatCatcher {
		return nil, ErrWrongState
	}
	if !g.isCurrent(actor) {
		return nil, ErrNotYourTurn
	}
	if g.isCurrent(target) {
		return nil, ErrInvalidCatTarget
	}
	p := g.Player(target)
	if p == nil {
		return nil, ErrInvalidCatTarget
	}
	uid := p.UserID
	g.AnsweringUserID = &uid
	return p, nil
}

func (g *Game) WaitAnswerForCatInBag() error {
	if g.State != StateWaitingForCatCatcher {
		return ErrWrongState
	}
	if g.AnsweringUserID == nil {
		return ErrNoAnsweringPlayer
	}
	g.State = StateWaitingForCatInBagAnswer
	return nil
}

func (g *Game) Press(userID int64) (*Player, error) {
	if g.State != StateWaitingForPress {
		return nil, ErrWrongState
	}
	p := g.Player(userID)
	if p == nil {
		return nil, ErrNotPlayer
	}
	if p.AlreadyAnswered {
		return nil, ErrAlreadyAnswered
	}
	uid := p.UserID
	g.AnsweringUserID = &uid
	g.State = StateWaitingForAnswer
	return p, nil
}

func (g *Game) Answer(actor int64) error {
	if !g.isAnswering(actor) {
		if g.IsAnswerPhase() {
			return ErrNotYourTurn
		}
		return ErrWrongState
	}
	switch g.State {
	case StateWaitingForAnswer:
		g.State = StateWaitingForChecking
	case StateWaitingForCatInBagAnswer:
		g.State = StateWaitingForCatInBagChecking
	default:
		return ErrWrongState
	}
	return nil
}

func (g *Game) IsAnswerPhase() bool {
	return g.State == StateWaitingForAnswer || g.State == StateWaitingForCatInBagAnswer
}

// ExpectsAnswerFrom reports whether userID is the player whose answer is awaited.
func (g *Game) ExpectsAnswerFrom(userID int64) bool {
	return g.IsAnswerPhase() && g.isAnswering(userID)
}

func (g *Game) IsChecking() bool {
	return g.State == StateWaitingForChecking || g.State == StateWaitingForCatInBagChecking
}

func (g *Game) isCatBranch() bool {
	switch g.State {
	case StateWaitingForCatCatcher, StateWaitingForCatInBagAnswer, StateWaitingForCatInBagChecking:
		return true
	}
	return false
}

// AnsweringPlayer returns the player currently answering, or nil.
func (g *Game) AnsweringPlayer() *Player {
	if g.AnsweringUserID == nil {
		return nil
	}
	return g.Player(*g.AnsweringUserID)
}

func (g *Game) Accept(actor int64) (*Player, error) {
	if !g.IsChecking() {
		return nil, ErrWrongState
	}
	if !g.IsLeading(actor) {
		return nil, ErrNotLeader
	}
	p := g.AnsweringPlayer()
	if p == nil || g.CurrentQuestion == nil {
		return nil, ErrNoAnsweringPlayer
	}
	p.Points += g.CurrentQuestion.Cost
	p.AlreadyAnswered = true
	uid := p.UserID
	g.CurrentUserID = &uid
	g.AnsweringUserID = nil
	g.State = StateQuestionSelection
	return p, nil
}

// Reject takes the question cost from the answering player. reopened reports
// whether the question went back to the other players.
func (g *Game) Reject(actor int64) (p *Player, reopened bool, err error) {
	if !g.IsChecking() {
		return nil, false, ErrWrongState
	}
	if !g.IsLeading(actor) {
		return nil, false, ErrNotLeader
	}
	return g.penalize()
}

// TimeoutAnswer is Reject for a player who ran out of time.
func (g *Game) TimeoutAnswer() (*Player, bool, error) {
	if !g.IsAnswerPhase() {
		return nil, false, ErrWrongState
	}
	return g.penalize()
}

func (g *Game) penalize() (*Player, bool, error) {
	p := g.AnsweringPlayer()
	if p == nil || g.CurrentQuestion == nil {
		return nil, false, ErrNoAnsweringPlayer
	}
	cat := g.isCatBranch()
	p.Points -= g.CurrentQuestion.Cost
	p.AlreadyAnswered = true
	g.AnsweringUserID = nil
	if !cat && !g.AllAnswered() {
		g.State = StateWaitingForPress
		return p, true, nil
	}
	g.State = StateQuestionSelection
	return p, false, nil
}

// CloseQuestion ends a round nobody pressed for.
func (g *Game) CloseQuestion() error {
	if g.State != StateWaitingForPress {
		return ErrWrongState
	}
	g.AnsweringUserID = nil
	g.State = StateQuestionSelection
	return nil
}

func (g *Game) AllAnswered() bool {
	for _, p := range g.Players {
		if !p.AlreadyAnswered {
			return false
		}
	}
	return true
}

// AnyQuestions reports whether the board still has a playable question.
func (g *Game) AnyQuestions() bool {
	return len(g.SelectedQuestions) < MaxQuestions && len(g.unselected()) > 0
}

// Finish drops the borrowed themes. The caller deletes the game afterwards, so
// results can still be rendered from this value.
func (g *Game) Finish() {
	g.Themes = nil
}

// Standings returns the players ordered by points, best first. Equal scores
// keep registration order.
func (g *Game) Standings() []Player {
	out := slices.Clone(g.Players)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Points > out[j].Points
	})
	return out
}

// Winners returns every player tied at the top score.
func (g *Game) Winners() []Player {
	standings := g.Standings()
	if len(standings) == 0 {
		return nil
	}
	top := standings[0].Points
	i := 0
	for i < len(standings) && standings[i].Points == top {
		i++
	}
	return standings[:i]
}
