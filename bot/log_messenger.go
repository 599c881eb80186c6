package bot

import (
	"context"
	"log"
	"sync/atomic"
)

// LogMessenger writes outgoing traffic to the log. It stands in for a platform
// adapter that has not been connected.
type LogMessenger struct {
	origin string
	nextID atomic.Int64
}

func NewLogMessenger(origin string) *LogMessenger {
	return &LogMessenger{origin: origin}
}

func (m *LogMessenger) Send(_ context.Context, chatID int64, text string, kb Keyboard) (int64, error) {
	id := m.nextID.Add(1)
	log.Printf("[%s] send chat=%d msg=%d buttons=%d: %s", m.origin, chatID, id, kb.count(), text)
	return id, nil
}

func (m *LogMessenger) Edit(_ context.Context, chatID, messageID int64, text string, kb Keyboard) error {
	log.Printf("[%s] edit chat=%d msg=%d buttons=%d: %s", m.origin, chatID, messageID, kb.count(), text)
	return nil
}

func (m *LogMessenger) Delete(_ context.Context, chatID, messageID int64) error {
	log.Printf("[%s] delete chat=%d msg=%d", m.origin, chatID, messageID)
	return nil
}

func (m *LogMessenger) Acknowledge(_ context.Context, callbackID, text string) error {
	log.Printf("[%s] callback %s: %s", m.origin, callbackID, text)
	return nil
}

func (m *LogMessenger) GetUser(_ context.Context, _, userID int64) (User, error) {
	return User{ID: userID}, nil
}

func (kb Keyboard) count() int {
	n := 0
	for _, row := range kb {
		n += len(row)
	}
	return n
}
