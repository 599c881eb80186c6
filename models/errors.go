package models

import "errors"

// PreconditionError reports an operation that does not apply to the game as it
// is right now: wrong phase, wrong actor, a stale keyboard. The game is left
// untouched when one is returned.
type PreconditionError struct {
	reason string
}

func (e *PreconditionError) Error() string {
	return e.reason
}

func precondition(reason string) error {
	return &PreconditionError{reason: reason}
}

// IsPrecondition reports whether err is a precondition mismatch.
func IsPrecondition(err error) bool {
	var target *PreconditionError
	return errors.As(err, &target)
}

var (
	ErrWrongState              = precondition("game is not in the expected state")
	ErrLeaderAlreadySet        = precondition("the game already has a host")
	ErrNotLeader               = precondition("only the host can do this")
	ErrLeaderCannotPlay        = precondition("the host cannot play")
	ErrNotYourTurn             = precondition("it is not your turn")
	ErrNotPlayer               = precondition("you are not registered in this game")
	ErrAlreadyRegistered       = precondition("you are already registered")
	ErrGameFull                = precondition("no free seats left")
	ErrNotEnoughPlayers        = precondition("not enough players")
	ErrNotEnoughThemes         = precondition("the question bank has too few themes")
	ErrQuestionNotFound        = precondition("question is not on the board")
	ErrQuestionAlreadySelected = precondition("question was already played")
	ErrAlreadyAnswered         = precondition("you have already answered this question")
	ErrNoAnsweringPlayer       = precondition("nobody is answering")
	ErrNoSpareTheme            = precondition("no unused theme left for a surprise question")
	ErrInvalidCatTarget        = precondition("that player cannot receive the question")
)
