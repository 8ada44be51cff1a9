package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestIncrementWindowComposesActionKey(t *testing.T) {
	mr, client := newTestClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewRateRepo(client)
	ctx := context.Background()

	count, ttl, err := repo.IncrementWindow(ctx, "promocode", 42, time.Minute)
	if err != nil {
		t.Fatalf("increment window: %v", err)
	}
	if count != 1 || ttl != time.Minute {
		t.Fatalf("unexpected fresh window: count=%d ttl=%s", count, ttl)
	}
	if !mr.Exists("rate:promocode:42") {
		t.Fatalf("window must be keyed by action and user")
	}

	if _, _, err := repo.IncrementWindow(ctx, "gateway_check", 42, time.Minute); err != nil {
		t.Fatalf("increment other action: %v", err)
	}
	if got, err := client.Get(ctx, "rate:promocode:42").Int64(); err != nil || got != 1 {
		t.Fatalf("actions must not share windows: count=%d err=%v", got, err)
	}
}

func TestWindowStateDoesNotConsumeAttempts(t *testing.T) {
	mr, client := newTestClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewRateRepo(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := repo.IncrementWindow(ctx, "promocode", 42, time.Minute); err != nil {
			t.Fatalf("increment window #%d: %v", i+1, err)
		}
	}

	for i := 0; i < 3; i++ {
		count, ttl, err := repo.WindowState(ctx, "promocode", 42)
		if err != nil {
			t.Fatalf("window state #%d: %v", i+1, err)
		}
		if count != 2 {
			t.Fatalf("peek #%d must not change the count, got %d", i+1, count)
		}
		if ttl <= 0 {
			t.Fatalf("open window must report its remaining ttl, got %s", ttl)
		}
	}
}

func TestWindowStateMissingWindowIsZero(t *testing.T) {
	mr, client := newTestClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewRateRepo(client)

	count, ttl, err := repo.WindowState(context.Background(), "promocode", 99)
	if err != nil {
		t.Fatalf("window state for untouched user: %v", err)
	}
	if count != 0 || ttl != 0 {
		t.Fatalf("untouched user must have an empty window: count=%d ttl=%s", count, ttl)
	}
}

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	return mr, goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
}
