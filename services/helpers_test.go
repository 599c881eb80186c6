package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"owngame/messages"
	"owngame/models"
	"owngame/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "owngame.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func seedThemes(t *testing.T, st *store.Store, n int) {
	t.Helper()
	err := st.InTx(context.Background(), func(uow *store.UnitOfWork) error {
		for i := 0; i < n; i++ {
			theme := models.Theme{Title: fmt.Sprintf("theme %d", i), Author: "tests", Available: true}
			for c := 1; c <= models.QuestionsPerTheme; c++ {
				theme.Questions = append(theme.Questions, models.Question{
					Cost:   c * 100,
					Text:   fmt.Sprintf("question %d/%d", i, c),
					Answer: fmt.Sprintf("answer %d/%d", i, c),
				})
			}
			if err := uow.Themes.Add(&theme); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed themes: %v", err)
	}
}

// lastRand always draws the highest value, which keeps the surprise question
// away until the very last pick.
type lastRand struct{}

func (lastRand) IntN(n int) int { return n - 1 }

// fakeBus records what handlers ask the scheduler to do.
type fakeBus struct {
	mu        sync.Mutex
	published []messages.Message
	postponed map[messages.Kind]messages.Message
	delays    map[messages.Kind]time.Duration
	forced    []messages.Kind
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		postponed: make(map[messages.Kind]messages.Message),
		delays:    make(map[messages.Kind]time.Duration),
	}
}

func (b *fakeBus) Publish(msg messages.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
}

func (b *fakeBus) PostponePublish(_ context.Context, msg messages.Message, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.postponed[msg.Kind()] = msg
	b.delays[msg.Kind()] = delay
	return nil
}

func (b *fakeBus) Cancel(_ context.Context, kind messages.Kind, _ messages.Route) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.postponed, kind)
	return nil
}

func (b *fakeBus) CancelAll(context.Context, messages.Route) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.postponed)
	return nil
}

func (b *fakeBus) ForcePublish(_ context.Context, kind messages.Kind, _ messages.Route) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = append(b.forced, kind)
	msg, ok := b.postponed[kind]
	if !ok {
		return false, nil
	}
	delete(b.postponed, kind)
	b.published = append(b.published, msg)
	return true, nil
}

func (b *fakeBus) pending(kind messages.Kind) (messages.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.postponed[kind]
	return msg, ok
}

func (b *fakeBus) lastPublished() messages.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return nil
	}
	return b.published[len(b.published)-1]
}

// recordingTarget collects what a scheduler delivers.
type recordingTarget struct {
	ch chan messages.Message
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{ch: make(chan messages.Message, 16)}
}

func (r *recordingTarget) Dispatch(_ context.Context, msg messages.Message, done func(bool)) {
	r.ch <- msg
	done(true)
}

// targetFunc adapts a function to Target so tests can decide the outcome.
type targetFunc func(ctx context.Context, msg messages.Message, done func(bool))

func (f targetFunc) Dispatch(ctx context.Context, msg messages.Message, done func(bool)) {
	f(ctx, msg, done)
}

func (r *recordingTarget) next(t *testing.T, within time.Duration) messages.Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(within):
		t.Fatalf("no message delivered within %v", within)
		return nil
	}
}

func (r *recordingTarget) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case msg := <-r.ch:
		t.Fatalf("unexpected delivery of %s", msg.Kind())
	case <-time.After(within):
	}
}
