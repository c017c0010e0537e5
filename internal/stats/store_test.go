package stats

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestStore connects to a test Redis instance. Tests are skipped if
// Redis is unavailable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	return NewStore(client), ctx
}

func TestGet_UnknownUserIsZero(t *testing.T) {
	s, ctx := setupTestStore(t)

	c, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.MessagesSent != 0 || c.ChatsStarted != 0 {
		t.Errorf("expected zero counters, got %+v", c)
	}
}

func TestIncrement(t *testing.T) {
	s, ctx := setupTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Increment(ctx, 1, MessagesSent, 1); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := s.Increment(ctx, 1, TotalChatDuration, 120); err != nil {
		t.Fatalf("increment duration: %v", err)
	}

	c, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.MessagesSent != 3 {
		t.Errorf("messages_sent: expected 3, got %d", c.MessagesSent)
	}
	if c.TotalChatDuration != 120 {
		t.Errorf("total_chat_duration: expected 120, got %d", c.TotalChatDuration)
	}
	if c.LastActive == 0 {
		t.Error("last_active not set")
	}
}

func TestChatStarted_BumpsBothCounters(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.ChatStarted(ctx, 1); err != nil {
		t.Fatalf("chat started: %v", err)
	}

	c, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.ChatsStarted != 1 || c.ChatsToday != 1 {
		t.Errorf("expected 1/1, got %d/%d", c.ChatsStarted, c.ChatsToday)
	}

	n, err := s.ChatCount(ctx, 1)
	if err != nil {
		t.Fatalf("chat count: %v", err)
	}
	if n != 1 {
		t.Errorf("chat count: expected 1, got %d", n)
	}
}

func TestDailyReset(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.ChatStarted(ctx, 1); err != nil {
		t.Fatalf("chat started: %v", err)
	}

	// Move the clock to tomorrow; the per-day counter resets, the lifetime
	// counter does not.
	s.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	c, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.ChatsToday != 0 {
		t.Errorf("chats_today: expected reset to 0, got %d", c.ChatsToday)
	}
	if c.ChatsStarted != 1 {
		t.Errorf("chats_started: expected 1, got %d", c.ChatsStarted)
	}
}

func TestGlobal(t *testing.T) {
	s, ctx := setupTestStore(t)

	for _, u := range []int64{1, 2, 3} {
		if err := s.Increment(ctx, u, MessagesSent, 10); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := s.Increment(ctx, 2, RatingsPositive, 1); err != nil {
		t.Fatalf("increment rating: %v", err)
	}

	g, err := s.Global(ctx)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if g.Users != 3 {
		t.Errorf("users: expected 3, got %d", g.Users)
	}
	if g.MessagesSent != 30 {
		t.Errorf("messages: expected 30, got %d", g.MessagesSent)
	}
	if g.RatingsPositive != 1 {
		t.Errorf("ratings: expected 1, got %d", g.RatingsPositive)
	}
}
