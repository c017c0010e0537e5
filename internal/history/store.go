// Package history provides the append-only PostgreSQL log of ended sessions.
// One row is written per FinalRecord; rows are never updated. The matchmaking
// core does not call this package — the service layer appends after
// EndSession returns, and a failed append never rolls the session back.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bondly/bondly/internal/pairing"
)

// Store appends ended-session records to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Row is one persisted history entry.
type Row struct {
	ID          uuid.UUID
	SessionID   int64
	UserA       int64
	UserB       int64
	Reason      string
	DurationSec int64
	MessagesA   int
	MessagesB   int
	MediaCount  int
	StartedAt   time.Time
	EndedAt     time.Time
}

// NewStore creates a history store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one row for a finished session and returns the row ID.
func (s *Store) Append(ctx context.Context, rec *pairing.FinalRecord) (uuid.UUID, error) {
	id := uuid.New()

	const query = `
		INSERT INTO chat_history
			(id, session_id, user_a, user_b, reason, duration_seconds,
			 messages_a, messages_b, media_count, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		id,
		int64(rec.SessionID),
		int64(rec.UserA),
		int64(rec.UserB),
		rec.Reason,
		int64(rec.Duration/time.Second),
		rec.MessagesA,
		rec.MessagesB,
		rec.MediaCount,
		rec.CreatedAt,
		rec.EndedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("history: insert session %d: %w", rec.SessionID, err)
	}
	return id, nil
}

// ForUser returns the user's most recent ended sessions, newest first.
func (s *Store) ForUser(ctx context.Context, userID int64, limit int) ([]Row, error) {
	const query = `
		SELECT id, session_id, user_a, user_b, reason, duration_seconds,
		       messages_a, messages_b, media_count, started_at, ended_at
		FROM chat_history
		WHERE user_a = $1 OR user_b = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserA, &r.UserB, &r.Reason,
			&r.DurationSec, &r.MessagesA, &r.MessagesB, &r.MediaCount,
			&r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}

// CountSince returns how many sessions ended within the given window.
// Used by the ops dashboard, not by the matchmaking path.
func (s *Store) CountSince(ctx context.Context, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM chat_history
		WHERE ended_at >= NOW() - $1::interval`

	var count int
	if err := s.db.QueryRowContext(ctx, query, window.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("history: count since: %w", err)
	}
	return count, nil
}
