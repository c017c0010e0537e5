package blocklist

import (
	"context"
	"testing"

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

func TestBlockIsDirected(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.Block(ctx, 1, 2, "Bob"); err != nil {
		t.Fatalf("block: %v", err)
	}

	if !s.IsBlocked(1, 2) {
		t.Error("expected 1->2 blocked")
	}
	if s.IsBlocked(2, 1) {
		t.Error("relation is directed; 2->1 should not be blocked")
	}
}

func TestUnblock(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.Block(ctx, 1, 2, "Bob"); err != nil {
		t.Fatalf("block: %v", err)
	}

	removed, err := s.Unblock(ctx, 1, 2)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if !removed {
		t.Error("expected removed=true for an existing relation")
	}
	if s.IsBlocked(1, 2) {
		t.Error("still blocked after unblock")
	}

	removed, err = s.Unblock(ctx, 1, 2)
	if err != nil {
		t.Fatalf("second unblock: %v", err)
	}
	if removed {
		t.Error("expected removed=false for a missing relation")
	}
}

func TestLoadMirror_RebuildsFromRedis(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.Block(ctx, 1, 2, "Bob"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := s.Block(ctx, 3, 1, "Alice"); err != nil {
		t.Fatalf("block: %v", err)
	}

	// A fresh store over the same Redis sees nothing until LoadMirror runs.
	fresh := NewStore(s.client)
	if fresh.IsBlocked(1, 2) {
		t.Fatal("mirror populated before LoadMirror")
	}
	if err := fresh.LoadMirror(ctx); err != nil {
		t.Fatalf("load mirror: %v", err)
	}
	if !fresh.IsBlocked(1, 2) || !fresh.IsBlocked(3, 1) {
		t.Error("mirror missing relations after LoadMirror")
	}
	if fresh.IsBlocked(2, 1) {
		t.Error("mirror invented a reverse relation")
	}
}

func TestList_ReturnsNicknameSnapshots(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.Block(ctx, 1, 2, "Bob"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := s.Block(ctx, 1, 3, "Carol"); err != nil {
		t.Fatalf("block: %v", err)
	}

	entries, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	nicks := map[int64]string{}
	for _, e := range entries {
		nicks[e.BlockedID] = e.Nickname
		if e.BlockedAt == 0 {
			t.Errorf("entry %d missing blocked_at", e.BlockedID)
		}
	}
	if nicks[2] != "Bob" || nicks[3] != "Carol" {
		t.Errorf("unexpected nicknames: %v", nicks)
	}
}

func TestDeleteAll_KeepsInboundBlocks(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.Block(ctx, 1, 2, "Bob"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := s.Block(ctx, 2, 1, "Alice"); err != nil {
		t.Fatalf("block: %v", err)
	}

	if err := s.DeleteAll(ctx, 1); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if s.IsBlocked(1, 2) {
		t.Error("outbound block survived DeleteAll")
	}
	if !s.IsBlocked(2, 1) {
		t.Error("inbound block should survive DeleteAll")
	}
}
