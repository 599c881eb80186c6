package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"owngame/messages"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ChatLocker serializes work on one chat.
type ChatLocker interface {
	// TryLock takes the lock only if it is free right now.
	TryLock(ctx context.Context, route messages.Route) (unlock func(), ok bool, err error)
	// Lock waits for the lock until ctx is done.
	Lock(ctx context.Context, route messages.Route) (unlock func(), err error)
}

type chatLock struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker keeps one semaphore per chat while anyone holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[messages.Route]*chatLock
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[messages.Route]*chatLock)}
}

func (l *MemoryLocker) acquire(route messages.Route) *chatLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.locks[route]
	if !ok {
		c = &chatLock{sem: make(chan struct{}, 1)}
		l.locks[route] = c
	}
	c.refs++
	return c
}

func (l *MemoryLocker) release(route messages.Route, c *chatLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c.refs--
	if c.refs == 0 {
		delete(l.locks, route)
	}
}

func (l *MemoryLocker) unlocker(route messages.Route, c *chatLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-c.sem
			l.release(route, c)
		})
	}
}

func (l *MemoryLocker) TryLock(_ context.Context, route messages.Route) (func(), bool, error) {
	c := l.acquire(route)
	select {
	case c.sem <- struct{}{}:
		return l.unlocker(route, c), true, nil
	default:
		l.release(route, c)
		return nil, false, nil
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, route messages.Route) (func(), error) {
	c := l.acquire(route)
	select {
	case c.sem <- struct{}{}:
		return l.unlocker(route, c), nil
	case <-ctx.Done():
		l.release(route, c)
		return nil, ctx.Err()
	}
}

// Size reports how many chats currently have a lock entry.
func (l *MemoryLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker shares chat locks between processes. Each lock expires after ttl
// so a crashed holder cannot wedge a chat.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

func lockKey(route messages.Route) string {
	return "lock:chat:" + route.String()
}

func (l *RedisLocker) TryLock(ctx context.Context, route messages.Route) (func(), bool, error) {
	key := lockKey(route)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	unlock := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				log.Printf("[locker] release %s: %v", key, err)
			}
		})
	}
	return unlock, true, nil
}

func (l *RedisLocker) Lock(ctx context.Context, route messages.Route) (func(), error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		unlock, ok, err := l.TryLock(ctx, route)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
