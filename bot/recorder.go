package bot

import (
	"context"
	"strings"
	"sync"
)

// Call is one recorded Messenger invocation.
type Call struct {
	Method    string
	ChatID    int64
	MessageID int64
	Text      string
	Keyboard  Keyboard
}

// Recorder is an in-memory Messenger that remembers every call. Users are
// resolved from the Users map.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	nextID int64

	Users map[int64]User
}

func NewRecorder() *Recorder {
	return &Recorder{Users: make(map[int64]User)}
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Recorder) Send(_ context.Context, chatID int64, text string, kb Keyboard) (int64, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()
	r.record(Call{Method: "send", ChatID: chatID, MessageID: id, Text: text, Keyboard: kb})
	return id, nil
}

func (r *Recorder) Edit(_ context.Context, chatID, messageID int64, text string, kb Keyboard) error {
	r.record(Call{Method: "edit", ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return nil
}

func (r *Recorder) Delete(_ context.Context, chatID, messageID int64) error {
	r.record(Call{Method: "delete", ChatID: chatID, MessageID: messageID})
	return nil
}

func (r *Recorder) Acknowledge(_ context.Context, callbackID, text string) error {
	r.record(Call{Method: "ack", Text: text})
	return nil
}

func (r *Recorder) GetUser(_ context.Context, _, userID int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.Users[userID]; ok {
		return u, nil
	}
	return User{ID: userID}, nil
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Contains reports whether any recorded text contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, c := range r.Calls() {
		if strings.Contains(c.Text, substr) {
			return true
		}
	}
	return false
}
