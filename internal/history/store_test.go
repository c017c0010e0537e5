package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bondly/bondly/internal/pairing"
)

// setupTestStore connects to a test PostgreSQL instance via POSTGRES_TEST_DSN
// and runs the migrations. Tests are skipped if the DSN is unset or the
// database is unreachable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("skipping: POSTGRES_TEST_DSN not set")
	}

	db, err := Open(dsn)
	if err != nil {
		t.Skipf("skipping: PostgreSQL not available: %v", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "DELETE FROM chat_history"); err != nil {
		t.Fatalf("clean table: %v", err)
	}
	t.Cleanup(func() {
		db.ExecContext(context.Background(), "DELETE FROM chat_history")
		db.Close()
	})

	return NewStore(db), ctx
}

func testRecord(session pairing.SessionID, userA, userB pairing.UserID, endedAt time.Time) *pairing.FinalRecord {
	return &pairing.FinalRecord{
		SessionID:  session,
		UserA:      userA,
		UserB:      userB,
		Reason:     pairing.ReasonLeft,
		CreatedAt:  endedAt.Add(-2 * time.Minute),
		EndedAt:    endedAt,
		Duration:   2 * time.Minute,
		MessagesA:  5,
		MessagesB:  3,
		MediaCount: 1,
	}
}

func TestAppendAndForUser(t *testing.T) {
	s, ctx := setupTestStore(t)

	now := time.Now()
	id, err := s.Append(ctx, testRecord(1, 100, 200, now))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == uuid.Nil {
		t.Error("expected a non-nil row ID")
	}

	rows, err := s.ForUser(ctx, 100, 10)
	if err != nil {
		t.Fatalf("for user: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	r := rows[0]
	if r.ID != id {
		t.Errorf("expected row ID %s, got %s", id, r.ID)
	}
	if r.SessionID != 1 || r.UserA != 100 || r.UserB != 200 {
		t.Errorf("unexpected participants: %+v", r)
	}
	if r.Reason != pairing.ReasonLeft {
		t.Errorf("expected reason %q, got %q", pairing.ReasonLeft, r.Reason)
	}
	if r.DurationSec != 120 {
		t.Errorf("expected duration 120s, got %d", r.DurationSec)
	}
	if r.MessagesA != 5 || r.MessagesB != 3 || r.MediaCount != 1 {
		t.Errorf("unexpected counters: %+v", r)
	}
}

func TestForUser_MatchesEitherSideNewestFirst(t *testing.T) {
	s, ctx := setupTestStore(t)

	now := time.Now()
	// User 100 appears on side A, then side B; user 300 is a stranger.
	if _, err := s.Append(ctx, testRecord(1, 100, 200, now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, testRecord(2, 200, 100, now.Add(-1*time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, testRecord(3, 300, 400, now)); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows, err := s.ForUser(ctx, 100, 10)
	if err != nil {
		t.Fatalf("for user: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].SessionID != 2 || rows[1].SessionID != 1 {
		t.Errorf("expected sessions [2 1] newest first, got [%d %d]", rows[0].SessionID, rows[1].SessionID)
	}

	rows, err = s.ForUser(ctx, 100, 1)
	if err != nil {
		t.Fatalf("for user with limit: %v", err)
	}
	if len(rows) != 1 || rows[0].SessionID != 2 {
		t.Errorf("limit 1 should return only the newest session, got %+v", rows)
	}
}

func TestCountSince(t *testing.T) {
	s, ctx := setupTestStore(t)

	now := time.Now()
	if _, err := s.Append(ctx, testRecord(1, 100, 200, now.Add(-10*time.Minute))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, testRecord(2, 300, 400, now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}

	count, err := s.CountSince(ctx, time.Hour)
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 session in the last hour, got %d", count)
	}

	count, err = s.CountSince(ctx, 72*time.Hour)
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 sessions in the last 72h, got %d", count)
	}
}
