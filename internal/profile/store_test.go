package profile

import (
	"context"
	"errors"
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

	return NewStoreWithClient(client), ctx
}

func TestGet_NotFound(t *testing.T) {
	s, ctx := setupTestStore(t)

	if _, err := s.Get(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndGet(t *testing.T) {
	s, ctx := setupTestStore(t)

	rec := &Record{
		UserID:   42,
		Nickname: "Alice",
		Gender:   "female",
		Filter:   "random",
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Nickname != "Alice" || got.Gender != "female" || got.Filter != "random" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestEnsure_AutoRegisters(t *testing.T) {
	s, ctx := setupTestStore(t)

	rec, err := s.Ensure(ctx, 7, "bob smith")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if rec.Nickname != "Bob Smith" {
		t.Errorf("nickname: got %q", rec.Nickname)
	}
	if !rec.AutoRegistered {
		t.Error("expected auto_registered flag")
	}
	if rec.Gender != "not_specified" || rec.Filter != "random" {
		t.Errorf("defaults: %+v", rec)
	}

	// Second call returns the stored profile, no re-registration.
	again, err := s.Ensure(ctx, 7, "different hint")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if again.Nickname != "Bob Smith" {
		t.Errorf("ensure overwrote profile: %+v", again)
	}
}

func TestSetters_ValidateValues(t *testing.T) {
	s, ctx := setupTestStore(t)

	if _, err := s.Ensure(ctx, 9, "carol"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if err := s.SetGender(ctx, 9, "female"); err != nil {
		t.Errorf("valid gender rejected: %v", err)
	}
	if err := s.SetGender(ctx, 9, "other"); err == nil {
		t.Error("invalid gender accepted")
	}
	if err := s.SetFilter(ctx, 9, "male"); err != nil {
		t.Errorf("valid filter rejected: %v", err)
	}
	if err := s.SetFilter(ctx, 9, "everyone"); err == nil {
		t.Error("invalid filter accepted")
	}

	rec, err := s.Get(ctx, 9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Gender != "female" || rec.Filter != "male" {
		t.Errorf("updates not applied: %+v", rec)
	}
	if rec.AutoRegistered {
		t.Error("auto_registered should clear once the user edits their profile")
	}
}

func TestDelete(t *testing.T) {
	s, ctx := setupTestStore(t)

	if _, err := s.Ensure(ctx, 5, "dave"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.Delete(ctx, 5); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
