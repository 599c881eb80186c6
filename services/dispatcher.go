package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"owngame/messages"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultHandlerTimeout = 30 * time.Second
	lockWaitFactor        = 4
)

// Dispatcher fans a message out to the handlers registered for its kind. All
// handlers of one message run while holding that chat's lock; a failing or
// panicking handler is logged and does not affect its siblings.
type Dispatcher struct {
	routes  Routes
	locker  ChatLocker
	timeout time.Duration
	tracer  trace.Tracer
	wg      sync.WaitGroup
}

func NewDispatcher(routes Routes, locker ChatLocker, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Dispatcher{
		routes:  routes,
		locker:  locker,
		timeout: timeout,
		tracer:  otel.Tracer("owngame/services"),
	}
}

// Dispatch delivers an internal message. It returns at once; delivery waits
// for the chat lock. done, if set, learns whether the handlers ran: false means
// the lock could not be had in time and the caller should try again later.
func (d *Dispatcher) Dispatch(ctx context.Context, msg messages.Message, done func(delivered bool)) {
	if done == nil {
		done = func(bool) {}
	}
	handlers := d.routes[msg.Kind()]
	if len(handlers) == 0 {
		log.Printf("[dispatcher] no handlers for %s", msg.Kind())
		done(true)
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		lockCtx, cancel := context.WithTimeout(ctx, lockWaitFactor*d.timeout)
		unlock, err := d.locker.Lock(lockCtx, msg.Route())
		cancel()
		if err != nil {
			log.Printf("[dispatcher] %s: %s not delivered, chat lock: %v", msg.Route(), msg.Kind(), err)
			done(false)
			return
		}
		d.runAll(ctx, msg, handlers, unlock)
		done(true)
	}()
}

// DispatchInbound delivers a player update. If the chat is busy the update is
// dropped and false is returned: the player lost the race.
func (d *Dispatcher) DispatchInbound(ctx context.Context, msg messages.Message) (bool, error) {
	handlers := d.routes[msg.Kind()]
	if len(handlers) == 0 {
		return false, fmt.Errorf("no handlers for %s", msg.Kind())
	}
	unlock, ok, err := d.locker.TryLock(ctx, msg.Route())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runAll(ctx, msg, handlers, unlock)
	}()
	return true, nil
}

func (d *Dispatcher) runAll(ctx context.Context, msg messages.Message, handlers []Handler, unlock func()) {
	defer unlock()
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			d.run(ctx, h, msg)
		}(h)
	}
	wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, h Handler, msg messages.Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	route := msg.Route()
	ctx, span := d.tracer.Start(ctx, "handle "+string(msg.Kind()),
		trace.WithAttributes(
			attribute.String("chat.origin", string(route.Origin)),
			attribute.Int64("chat.id", route.ChatID),
			attribute.Int64("user.id", msg.Base().UserID),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			log.Printf("[dispatcher] %s: panic handling %s: %v", route, msg.Kind(), r)
		}
	}()

	if err := h.Handle(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("[dispatcher] %s: handling %s: %v", route, msg.Kind(), err)
	}
}

// Wait blocks until every dispatched message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
