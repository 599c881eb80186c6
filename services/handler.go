package services

import (
	"context"
	"fmt"

	"owngame/messages"
)

type Handler interface {
	Handle(ctx context.Context, msg messages.Message) error
}

type HandlerFunc func(ctx context.Context, msg messages.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg messages.Message) error {
	return f(ctx, msg)
}

// Routes maps each message kind to the handlers that consume it. It is built
// once at startup and handed to the Dispatcher.
type Routes map[messages.Kind][]Handler

// Merge appends the handlers of other to r.
func (r Routes) Merge(other Routes) Routes {
	for kind, hs := range other {
		r[kind] = append(r[kind], hs...)
	}
	return r
}

// on adapts a handler for one concrete message type.
func on[T messages.Message](fn func(context.Context, T) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg messages.Message) error {
		m, ok := msg.(T)
		if !ok {
			var want T
			return fmt.Errorf("handler for %s received %s", want.Kind(), msg.Kind())
		}
		return fn(ctx, m)
	})
}
