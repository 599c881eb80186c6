package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version of the payload schema written by Encode.
const Version = 1

var (
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrUnsupportedVersion = errors.New("unsupported message version")
	ErrInvalidRoute       = errors.New("message has no valid route")
)

// Envelope is the stored and wire form of a message.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(Envelope{Kind: m.Kind(), Version: Version, Payload: payload})
}

func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Open()
}

// Open decodes the payload into the concrete message for Kind.
func (e Envelope) Open() (Message, error) {
	if e.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.Version)
	}
	m, err := DecodePayload(e.Kind, e.Payload)
	if err != nil {
		return nil, err
	}
	if !m.Route().Origin.Valid() || m.Route().ChatID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoute, m.Route())
	}
	return m, nil
}

func DecodePayload(kind Kind, payload json.RawMessage) (Message, error) {
	switch kind {
	case KindPlay:
		return decodeAs[Play](payload)
	case KindCancelGame:
		return decodeAs[CancelGame](payload)
	case KindSetLeading:
		return decodeAs[SetLeading](payload)
	case KindStartRegistration:
		return decodeAs[StartRegistration](payload)
	case KindJoin:
		return decodeAs[Join](payload)
	case KindCancelJoin:
		return decodeAs[CancelJoin](payload)
	case KindStartGame:
		return decodeAs[StartGame](payload)
	case KindSelectQuestion:
		return decodeAs[SelectQuestion](payload)
	case KindPressButton:
		return decodeAs[PressButton](payload)
	case KindAnswer:
		return decodeAs[Answer](payload)
	case KindPeekAnswer:
		return decodeAs[PeekAnswer](payload)
	case KindAcceptAnswer:
		return decodeAs[AcceptAnswer](payload)
	case KindRejectAnswer:
		return decodeAs[RejectAnswer](payload)
	case KindGiveCat:
		return decodeAs[GiveCat](payload)
	case KindQuestionFinished:
		return decodeAs[QuestionFinished](payload)
	case KindGameFinished:
		return decodeAs[GameFinished](payload)
	case KindWaitingForLeadingTimeout:
		return decodeAs[WaitingForLeadingTimeout](payload)
	case KindRegistrationTimeout:
		return decodeAs[RegistrationTimeout](payload)
	case KindWaitingSelectionTimeout:
		return decodeAs[WaitingSelectionTimeout](payload)
	case KindWaitingPressTimeout:
		return decodeAs[WaitingPressTimeout](payload)
	case KindWaitingForAnswerTimeout:
		return decodeAs[WaitingForAnswerTimeout](payload)
	case KindWaitingForCheckingTimeout:
		return decodeAs[WaitingForCheckingTimeout](payload)
	case KindCatInBag:
		return decodeAs[CatInBag](payload)
	case KindWaitingForCatCatcherTimeout:
		return decodeAs[WaitingForCatCatcherTimeout](payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func decodeAs[T Message](payload json.RawMessage) (Message, error) {
	var m T
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Kind(), err)
	}
	return m, nil
}
