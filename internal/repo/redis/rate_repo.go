package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateRepo keeps one fixed counting window per user and action under
// rate:<action>:<user_id>.
type RateRepo struct {
	client *goredis.Client
}

func NewRateRepo(client *goredis.Client) *RateRepo {
	return &RateRepo{client: client}
}

// IncrementWindow consumes one attempt and reports the new count together
// with the time left in the window.
func (r *RateRepo) IncrementWindow(ctx context.Context, action string, userID int64, window time.Duration) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, fmt.Errorf("redis client is nil")
	}
	if action == "" || userID <= 0 || window <= 0 {
		return 0, 0, fmt.Errorf("invalid rate window payload")
	}

	key := rateKey(action, userID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("count %s attempt: %w", action, err)
	}

	// The first attempt opens the window and already knows its ttl.
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("open %s window: %w", action, err)
		}
		return count, window, nil
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read %s window ttl: %w", action, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

// WindowState reports the current count and remaining ttl without consuming
// an attempt.
func (r *RateRepo) WindowState(ctx context.Context, action string, userID int64) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, fmt.Errorf("redis client is nil")
	}
	if action == "" || userID <= 0 {
		return 0, 0, fmt.Errorf("invalid rate window payload")
	}

	key := rateKey(action, userID)
	count, err := r.client.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read %s window count: %w", action, err)
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read %s window ttl: %w", action, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

func rateKey(action string, userID int64) string {
	return "rate:" + action + ":" + strconv.FormatInt(userID, 10)
}
