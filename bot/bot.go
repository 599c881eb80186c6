// Package bot is the narrow surface the game uses to talk back to chat
// platforms. Platform adapters implement Messenger.
package bot

import (
	"context"
	"fmt"

	"owngame/models"
)

type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
}

// Keyboard is an inline keyboard, row by row. A nil Keyboard passed to Edit
// removes the existing one.
type Keyboard [][]Button

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

func (u User) Mention() string {
	switch {
	case u.Name != "" && u.Username != "":
		return fmt.Sprintf("%s @%s", u.Name, u.Username)
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return "@" + u.Username
	}
	return fmt.Sprintf("id%d", u.ID)
}

type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int64, error)
	Edit(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error
	Delete(ctx context.Context, chatID, messageID int64) error
	Acknowledge(ctx context.Context, callbackID, text string) error
	GetUser(ctx context.Context, chatID, userID int64) (User, error)
}

// Proxy picks the messenger for a platform.
type Proxy struct {
	byOrigin map[models.Origin]Messenger
	fallback Messenger
}

func NewProxy(fallback Messenger) *Proxy {
	return &Proxy{byOrigin: make(map[models.Origin]Messenger), fallback: fallback}
}

func (p *Proxy) Register(origin models.Origin, m Messenger) {
	p.byOrigin[origin] = m
}

func (p *Proxy) For(origin models.Origin) Messenger {
	if m, ok := p.byOrigin[origin]; ok {
		return m
	}
	return p.fallback
}
