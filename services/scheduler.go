package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"owngame/messages"
	"owngame/models"
	"owngame/store"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Target receives messages the scheduler publishes. done must be called once
// with true after the message was handled, or with false when it could not be
// delivered and should be tried again.
type Target interface {
	Dispatch(ctx context.Context, msg messages.Message, done func(delivered bool))
}

// Bus is what handlers use to publish follow-ups.
type Bus interface {
	Publish(msg messages.Message)
	PostponePublish(ctx context.Context, msg messages.Message, delay time.Duration) error
	Cancel(ctx context.Context, kind messages.Kind, route messages.Route) error
	CancelAll(ctx context.Context, route messages.Route) error
	ForcePublish(ctx context.Context, kind messages.Kind, route messages.Route) (bool, error)
}

var _ Bus = (*Scheduler)(nil)

type scheduleKey struct {
	kind  messages.Kind
	route messages.Route
}

type pendingEvent struct {
	id    string
	msg   messages.Message
	timer *time.Timer
}

// delivery is a message on its way to the target. id names its stored row and
// is empty for messages published without a delay.
type delivery struct {
	id  string
	msg messages.Message
}

// Scheduler publishes messages now or after a delay. Delayed messages are
// written to the store first and their row is removed only once the message
// was handled, so anything in flight at shutdown comes back via Restore. At
// most one message is pending per (kind, chat).
type Scheduler struct {
	store    *store.Store
	queue    chan delivery
	stopped  chan struct{}
	now      func() time.Time
	minDelay time.Duration

	mu      sync.Mutex
	pending map[scheduleKey]*pendingEvent
	closed  bool
}

type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now for creation stamps and restore arithmetic.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithMinDelay sets the floor for delays recomputed on restore and for retries.
func WithMinDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.minDelay = d }
}

func NewScheduler(st *store.Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:    st,
		queue:    make(chan delivery, 1024),
		stopped:  make(chan struct{}),
		now:      time.Now,
		minDelay: time.Second,
		pending:  make(map[scheduleKey]*pendingEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run feeds published messages to target until ctx is done, then closes the
// scheduler.
func (s *Scheduler) Run(ctx context.Context, target Target) error {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return nil
		case d := <-s.queue:
			target.Dispatch(ctx, d.msg, s.settle(d))
		}
	}
}

// Publish queues msg for immediate delivery. It never waits for the queue:
// when the queue is full or the scheduler is closed the message is stored and
// delivered by a timer or by the next Restore.
func (s *Scheduler) Publish(msg messages.Message) {
	s.mu.Lock()
	if !s.closed {
		select {
		case s.queue <- delivery{msg: msg}:
			s.mu.Unlock()
			return
		default:
		}
	}
	s.mu.Unlock()
	s.persist(msg, 0)
}

func (s *Scheduler) persist(msg messages.Message, delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.PostponePublish(ctx, msg, delay); err != nil {
		log.Printf("[scheduler] %s: %s lost: %v", msg.Route(), msg.Kind(), err)
	}
}

func (s *Scheduler) PostponePublish(ctx context.Context, msg messages.Message, delay time.Duration) error {
	payload, err := messages.Encode(msg)
	if err != nil {
		return err
	}
	route := msg.Route()
	ev := models.ScheduledEvent{
		ID:           uuid.NewString(),
		TypeName:     string(msg.Kind()),
		Origin:       route.Origin,
		ChatID:       route.ChatID,
		DelaySeconds: delay.Seconds(),
		Payload:      datatypes.JSON(payload),
		CreatedAt:    s.now().UTC(),
	}
	err = s.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		n, err := uow.ScheduledEvents.Delete(ev.TypeName, ev.Origin, ev.ChatID)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("[scheduler] %s: replacing pending %s", route, msg.Kind())
		}
		return uow.ScheduledEvents.Add(&ev)
	})
	if err != nil {
		return fmt.Errorf("persist %s for %s: %w", msg.Kind(), route, err)
	}
	s.arm(ev.ID, msg, delay)
	return nil
}

func (s *Scheduler) newPending(key scheduleKey, id string, msg messages.Message, delay time.Duration) *pendingEvent {
	p := &pendingEvent{id: id, msg: msg}
	p.timer = time.AfterFunc(delay, func() { s.fire(key, id) })
	return p
}

// arm starts the local timer and returns the id of a pending event it
// displaced, if any.
func (s *Scheduler) arm(id string, msg messages.Message, delay time.Duration) string {
	key := scheduleKey{kind: msg.Kind(), route: msg.Route()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	var displaced string
	if old, ok := s.pending[key]; ok {
		old.timer.Stop()
		displaced = old.id
	}
	s.pending[key] = s.newPending(key, id, msg, delay)
	return displaced
}

func (s *Scheduler) fire(key scheduleKey, id string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok || p.id != id {
		// Cancelled or replaced after the timer went off.
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	s.deliver(delivery{id: id, msg: p.msg})
}

// deliver hands a stored message to Run. Once closed the row stays for Restore.
func (s *Scheduler) deliver(d delivery) {
	select {
	case s.queue <- d:
	case <-s.stopped:
	}
}

// settle is called by the target when d is done with. A handled message
// loses its row; an undelivered one is tried again after the minimum delay.
func (s *Scheduler) settle(d delivery) func(delivered bool) {
	return func(delivered bool) {
		switch {
		case delivered && d.id != "":
			s.deleteRow(d.id)
		case delivered:
		case d.id == "":
			log.Printf("[scheduler] %s: %s not delivered, retrying", d.msg.Route(), d.msg.Kind())
			s.persist(d.msg, s.minDelay)
		default:
			s.retry(d)
		}
	}
}

// retry re-arms a stored message that could not be delivered, unless it was
// cancelled or replaced in the meantime.
func (s *Scheduler) retry(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var stored bool
	err := s.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		var err error
		stored, err = uow.ScheduledEvents.Exists(d.id)
		return err
	})
	if err != nil {
		log.Printf("[scheduler] %s: %s left for restore: %v", d.msg.Route(), d.msg.Kind(), err)
		return
	}
	if !stored {
		return
	}

	key := scheduleKey{kind: d.msg.Kind(), route: d.msg.Route()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, newer := s.pending[key]; newer {
		return
	}
	log.Printf("[scheduler] %s: %s not delivered, retrying in %v", key.route, key.kind, s.minDelay)
	s.pending[key] = s.newPending(key, d.id, d.msg, s.minDelay)
}

func (s *Scheduler) deleteRow(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		return uow.ScheduledEvents.DeleteByID(id)
	})
	if err != nil {
		log.Printf("[scheduler] delete scheduled event %s: %v", id, err)
	}
}

// take removes the pending event for key and stops its timer.
func (s *Scheduler) take(key scheduleKey) (*pendingEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[key]
	if !ok {
		return nil, false
	}
	p.timer.Stop()
	delete(s.pending, key)
	return p, true
}

// Cancel drops the pending message of kind for route. Nothing pending is fine.
func (s *Scheduler) Cancel(ctx context.Context, kind messages.Kind, route messages.Route) error {
	s.take(scheduleKey{kind: kind, route: route})
	err := s.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		_, err := uow.ScheduledEvents.Delete(string(kind), route.Origin, route.ChatID)
		return err
	})
	if err != nil {
		return fmt.Errorf("cancel %s for %s: %w", kind, route, err)
	}
	return nil
}

// CancelAll drops every pending message for route.
func (s *Scheduler) CancelAll(ctx context.Context, route messages.Route) error {
	s.mu.Lock()
	for key, p := range s.pending {
		if key.route == route {
			p.timer.Stop()
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()

	err := s.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		_, err := uow.ScheduledEvents.DeleteRoute(route.Origin, route.ChatID)
		return err
	})
	if err != nil {
		return fmt.Errorf("cancel all for %s: %w", route, err)
	}
	return nil
}

// ForcePublish publishes the pending message of kind for route right away.
// It reports false when nothing was pending. The stored row goes once the
// message was handled.
func (s *Scheduler) ForcePublish(_ context.Context, kind messages.Kind, route messages.Route) (bool, error) {
	p, ok := s.take(scheduleKey{kind: kind, route: route})
	if !ok {
		return false, nil
	}
	s.deliver(delivery{id: p.id, msg: p.msg})
	return true, nil
}

// Restore re-arms every stored event with the delay it had left, never less
// than the minimum delay. Rows that no longer decode are discarded.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	var rows []models.ScheduledEvent
	err := s.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		var err error
		rows, err = uow.ScheduledEvents.List()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list scheduled events: %w", err)
	}

	now := s.now()
	restored := 0
	for i := range rows {
		row := &rows[i]
		msg, err := messages.Decode(row.Payload)
		if err != nil {
			log.Printf("[scheduler] discarding scheduled event %s (%s): %v", row.ID, row.TypeName, err)
			s.deleteRow(row.ID)
			continue
		}
		if displaced := s.arm(row.ID, msg, row.Remaining(now, s.minDelay)); displaced != "" {
			s.deleteRow(displaced)
		}
		restored++
	}
	log.Printf("[scheduler] restored %d scheduled events", restored)
	return restored, nil
}

// Pending reports whether a message of kind is waiting for route.
func (s *Scheduler) Pending(kind messages.Kind, route messages.Route) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[scheduleKey{kind: kind, route: route}]
	return ok
}

// Close stops all local timers and the delivery queue. Stored rows are kept
// for the next Restore, and queued messages without a row are stored first.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stopped)
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
	var unsaved []messages.Message
drain:
	for {
		select {
		case d := <-s.queue:
			if d.id == "" {
				unsaved = append(unsaved, d.msg)
			}
		default:
			break drain
		}
	}
	s.mu.Unlock()

	for _, msg := range unsaved {
		s.persist(msg, 0)
	}
}
