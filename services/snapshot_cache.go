package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"owngame/messages"

	"github.com/redis/go-redis/v9"
)

var ErrSnapshotNotFound = errors.New("game snapshot not found")

// SnapshotCache keeps the latest snapshot of every running game in Redis.
type SnapshotCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{redis: client, ttl: ttl}
}

func snapshotKey(route messages.Route) string {
	return fmt.Sprintf("game:%s:%d", route.Origin, route.ChatID)
}

func (c *SnapshotCache) Publish(ctx context.Context, snap GameSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[cache] marshal snapshot %s: %v", snap.Route(), err)
		return
	}
	if err := c.redis.Set(ctx, snapshotKey(snap.Route()), data, c.ttl).Err(); err != nil {
		log.Printf("[cache] store snapshot %s: %v", snap.Route(), err)
	}
}

func (c *SnapshotCache) Drop(ctx context.Context, route messages.Route) {
	if err := c.redis.Del(ctx, snapshotKey(route)).Err(); err != nil {
		log.Printf("[cache] drop snapshot %s: %v", route, err)
	}
}

func (c *SnapshotCache) Get(ctx context.Context, route messages.Route) (*GameSnapshot, error) {
	data, err := c.redis.Get(ctx, snapshotKey(route)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", route, err)
	}
	var snap GameSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", route, err)
	}
	return &snap, nil
}
