package display

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// Setter is the part of *redis.Client the renderer needs
type Setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisRenderer stores the latest board under <prefix>:<container>,
// <prefix>:alert and <prefix>:status so kiosk clients can poll it. Keys
// expire after ttl, so a dead poller does not leave predictions behind.
type RedisRenderer struct {
	client Setter
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisRenderer(client Setter, prefix string, ttl time.Duration) *RedisRenderer {
	return &RedisRenderer{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// NewRedisClient builds a client for addr
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (r *RedisRenderer) RenderArrivals(ctx context.Context, containerID string, list models.DirectionalArrivalList) error {
	return r.set(ctx, containerID, ArrivalsMessage{
		Container:   containerID,
		Arrivals:    list,
		PublishedAt: r.now(),
	})
}

func (r *RedisRenderer) RenderAlert(ctx context.Context, state models.AlertState) error {
	return r.set(ctx, "alert", AlertMessage{AlertState: state, PublishedAt: r.now()})
}

func (r *RedisRenderer) RenderStatus(ctx context.Context, status models.FeedStatus) error {
	return r.set(ctx, "status", StatusMessage{Status: status, PublishedAt: r.now()})
}

func (r *RedisRenderer) set(ctx context.Context, suffix string, msg interface{}) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := r.prefix + ":" + suffix
	if err := r.client.Set(ctx, key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
