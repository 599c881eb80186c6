package messages

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback data attached to inline buttons. Values with an argument use
// "<name>:<arg>".
const (
	CallbackBecomeLeading  = "become_leading"
	CallbackJoin           = "join"
	CallbackCancelJoin     = "cancel_join"
	CallbackStartGame      = "start_game"
	CallbackSelectQuestion = "select_question"
	CallbackPress          = "press_button"
	CallbackPeek           = "peek"
	CallbackAccept         = "accept"
	CallbackReject         = "reject"
	CallbackGiveCat        = "give_cat"
	// CallbackNoop marks placeholder buttons such as an already played cell.
	CallbackNoop = "_"
)

func SelectQuestionData(questionID uint) string {
	return fmt.Sprintf("%s:%d", CallbackSelectQuestion, questionID)
}

func GiveCatData(userID int64) string {
	return fmt.Sprintf("%s:%d", CallbackGiveCat, userID)
}

// FromCallback turns an inline button press into a command.
func FromCallback(u Update, data string) (Message, error) {
	name, arg, _ := strings.Cut(data, ":")
	switch name {
	case CallbackBecomeLeading:
		return SetLeading{u}, nil
	case CallbackJoin:
		return Join{u}, nil
	case CallbackCancelJoin:
		return CancelJoin{u}, nil
	case CallbackStartGame:
		return StartGame{u}, nil
	case CallbackPress:
		return PressButton{u}, nil
	case CallbackPeek:
		return PeekAnswer{u}, nil
	case CallbackAccept:
		return AcceptAnswer{u}, nil
	case CallbackReject:
		return RejectAnswer{u}, nil
	case CallbackSelectQuestion:
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("callback %q: bad question id: %w", data, err)
		}
		return SelectQuestion{Update: u, QuestionID: uint(id)}, nil
	case CallbackGiveCat:
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("callback %q: bad user id: %w", data, err)
		}
		return GiveCat{Update: u, TargetUserID: id}, nil
	}
	return nil, fmt.Errorf("%w: callback %q", ErrUnknownKind, data)
}

// FromText turns a chat message into a command. Bot commands start or cancel
// a game; any other text is treated as an answer attempt.
func FromText(u Update, text string) Message {
	cmd := strings.TrimSpace(text)
	if at := strings.IndexByte(cmd, '@'); at > 0 && strings.HasPrefix(cmd, "/") {
		cmd = cmd[:at]
	}
	switch cmd {
	case "/play", "/start_game":
		return Play{u}
	case "/cancel", "/stop_game":
		return CancelGame{u}
	}
	return Answer{Update: u, Text: text}
}
