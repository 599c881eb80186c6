// Package messages defines the closed set of commands and events that flow
// through the dispatcher and the scheduler.
package messages

import (
	"fmt"

	"owngame/models"
)

type Kind string

// Commands come from players through a chat adapter.
const (
	KindPlay              Kind = "play"
	KindCancelGame        Kind = "cancel_game"
	KindSetLeading        Kind = "set_leading"
	KindStartRegistration Kind = "start_registration"
	KindJoin              Kind = "join"
	KindCancelJoin        Kind = "cancel_join"
	KindStartGame         Kind = "start_game"
	KindSelectQuestion    Kind = "select_question"
	KindPressButton       Kind = "press_button"
	KindAnswer            Kind = "answer"
	KindPeekAnswer        Kind = "peek_answer"
	KindAcceptAnswer      Kind = "accept_answer"
	KindRejectAnswer      Kind = "reject_answer"
	KindGiveCat           Kind = "give_cat"
)

// Events are raised by the game itself, mostly through the scheduler.
const (
	KindQuestionFinished            Kind = "question_finished"
	KindGameFinished                Kind = "game_finished"
	KindWaitingForLeadingTimeout    Kind = "waiting_for_leading_timeout"
	KindRegistrationTimeout         Kind = "registration_timeout"
	KindWaitingSelectionTimeout     Kind = "waiting_selection_timeout"
	KindWaitingPressTimeout         Kind = "waiting_press_timeout"
	KindWaitingForAnswerTimeout     Kind = "waiting_for_answer_timeout"
	KindWaitingForCheckingTimeout   Kind = "waiting_for_checking_timeout"
	KindCatInBag                    Kind = "cat_in_bag"
	KindWaitingForCatCatcherTimeout Kind = "waiting_for_cat_catcher_timeout"
)

// Inbound reports whether an adapter may submit kind on behalf of a player.
func (k Kind) Inbound() bool {
	switch k {
	case KindPlay, KindCancelGame, KindSetLeading, KindJoin, KindCancelJoin, KindStartGame,
		KindSelectQuestion, KindPressButton, KindAnswer, KindPeekAnswer, KindAcceptAnswer,
		KindRejectAnswer, KindGiveCat:
		return true
	}
	return false
}

// Route identifies the chat a message belongs to.
type Route struct {
	Origin models.Origin
	ChatID int64
}

func (r Route) String() string {
	return fmt.Sprintf("%s:%d", r.Origin, r.ChatID)
}

// Update is the normalized part every message carries: where it came from,
// who acted and which bot message it refers to.
type Update struct {
	Origin     models.Origin `json:"origin"`
	ChatID     int64         `json:"chat_id"`
	UserID     int64         `json:"user_id,omitempty"`
	MessageID  int64         `json:"message_id,omitempty"`
	CallbackID string        `json:"callback_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Username   string        `json:"username,omitempty"`
}

func (u Update) Route() Route {
	return Route{Origin: u.Origin, ChatID: u.ChatID}
}

func (u Update) Base() Update {
	return u
}

func (Update) isMessage() {}

// WithMessage returns a copy pointing at another bot message.
func (u Update) WithMessage(id int64) Update {
	u.MessageID = id
	return u
}

// Message is implemented only by the types in this package.
type Message interface {
	Kind() Kind
	Route() Route
	Base() Update
	isMessage()
}

type (
	Play              struct{ Update }
	CancelGame        struct{ Update }
	SetLeading        struct{ Update }
	StartRegistration struct{ Update }
	Join              struct{ Update }
	CancelJoin        struct{ Update }
	StartGame         struct{ Update }
	PressButton       struct{ Update }
	PeekAnswer        struct{ Update }
	AcceptAnswer      struct{ Update }
	RejectAnswer      struct{ Update }

	SelectQuestion struct {
		Update
		QuestionID uint `json:"question_id"`
	}

	Answer struct {
		Update
		Text string `json:"text"`
	}

	GiveCat struct {
		Update
		TargetUserID int64 `json:"target_user_id"`
	}
)

type (
	QuestionFinished            struct{ Update }
	GameFinished                struct{ Update }
	WaitingForLeadingTimeout    struct{ Update }
	RegistrationTimeout         struct{ Update }
	WaitingSelectionTimeout     struct{ Update }
	WaitingPressTimeout         struct{ Update }
	WaitingForAnswerTimeout     struct{ Update }
	WaitingForCheckingTimeout   struct{ Update }
	CatInBag                    struct{ Update }
	WaitingForCatCatcherTimeout struct{ Update }
)

func (Play) Kind() Kind              { return KindPlay }
func (CancelGame) Kind() Kind        { return KindCancelGame }
func (SetLeading) Kind() Kind        { return KindSetLeading }
func (StartRegistration) Kind() Kind { return KindStartRegistration }
func (Join) Kind() Kind              { return KindJoin }
func (CancelJoin) Kind() Kind        { return KindCancelJoin }
func (StartGame) Kind() Kind         { return KindStartGame }
func (SelectQuestion) Kind() Kind    { return KindSelectQuestion }
func (PressButton) Kind() Kind       { return KindPressButton }
func (Answer) Kind() Kind            { return KindAnswer }
func (PeekAnswer) Kind() Kind        { return KindPeekAnswer }
func (AcceptAnswer) Kind() Kind      { return KindAcceptAnswer }
func (RejectAnswer) Kind() Kind      { return KindRejectAnswer }
func (GiveCat) Kind() Kind           { return KindGiveCat }

func (QuestionFinished) Kind() Kind            { return KindQuestionFinished }
func (GameFinished) Kind() Kind                { return KindGameFinished }
func (WaitingForLeadingTimeout) Kind() Kind    { return KindWaitingForLeadingTimeout }
func (RegistrationTimeout) Kind() Kind         { return KindRegistrationTimeout }
func (WaitingSelectionTimeout) Kind() Kind     { return KindWaitingSelectionTimeout }
func (WaitingPressTimeout) Kind() Kind         { return KindWaitingPressTimeout }
func (WaitingForAnswerTimeout) Kind() Kind     { return KindWaitingForAnswerTimeout }
func (WaitingForCheckingTimeout) Kind() Kind   { return KindWaitingForCheckingTimeout }
func (CatInBag) Kind() Kind                    { return KindCatInBag }
func (WaitingForCatCatcherTimeout) Kind() Kind { return KindWaitingForCatCatcherTimeout }
