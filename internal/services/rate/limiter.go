package rate

import (
	"context"
	"fmt"
	"time"
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, action string, userID int64, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, action string, userID int64) (int64, time.Duration, error)
}

// Rule is one fixed counting window: at most Limit actions per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type Limiter struct {
	store WindowStore
}

func NewLimiter(store WindowStore) *Limiter {
	return &Limiter{store: store}
}

// Allow consumes one attempt for the given action. A zero or negative rule
// limit disables the check for that action entirely.
func (l *Limiter) Allow(ctx context.Context, userID int64, action string, rule Rule) (int64, bool, error) {
	if userID <= 0 {
		return 0, false, fmt.Errorf("invalid user id")
	}
	if action == "" {
		return 0, false, fmt.Errorf("rate action is required")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return 0, true, nil
	}

	count, ttl, err := l.store.IncrementWindow(ctx, action, userID, rule.Window)
	if err != nil {
		return 0, false, err
	}
	if count > int64(rule.Limit) {
		return ceilSeconds(ttl), false, nil
	}

	return 0, true, nil
}

// RetryAfter reports the current wait without consuming an attempt.
func (l *Limiter) RetryAfter(ctx context.Context, userID int64, action string, rule Rule) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}
	if action == "" {
		return 0, fmt.Errorf("rate action is required")
	}
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return 0, nil
	}

	count, ttl, err := l.store.WindowState(ctx, action, userID)
	if err != nil {
		return 0, err
	}
	if count >= int64(rule.Limit) {
		return ceilSeconds(ttl), nil
	}

	return 0, nil
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
