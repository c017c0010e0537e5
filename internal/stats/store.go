// Package stats provides Redis-backed per-user counters: messages, media,
// chats, cumulative chat duration, and partner ratings. The matchmaking core
// never writes here; the service layer emits increments derived from match
// results and final records after each registry mutation returns.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsPrefix is the Redis key prefix for per-user counter hashes.
const StatsPrefix = "stats:"

// Counter names. These match the fields stored in Redis.
const (
	MessagesSent      = "messages_sent"
	MessagesReceived  = "messages_received"
	MediaSent         = "media_sent"
	ChatsStarted      = "chats_started"
	ChatsToday        = "chats_today"
	TotalChatDuration = "total_chat_duration" // seconds
	RatingsPositive   = "ratings_positive"
	RatingsNegative   = "ratings_negative"
)

// Counters is a user's full stat record.
type Counters struct {
	MessagesSent      int64 `redis:"messages_sent"`
	MessagesReceived  int64 `redis:"messages_received"`
	MediaSent         int64 `redis:"media_sent"`
	ChatsStarted      int64 `redis:"chats_started"`
	ChatsToday        int64 `redis:"chats_today"`
	TotalChatDuration int64 `redis:"total_chat_duration"`
	RatingsPositive   int64 `redis:"ratings_positive"`
	RatingsNegative   int64 `redis:"ratings_negative"`
	LastActive        int64 `redis:"last_active"` // unix timestamp
}

// GlobalCounters aggregates every user's counters.
type GlobalCounters struct {
	Users             int
	MessagesSent      int64
	ChatsStarted      int64
	TotalChatDuration int64
	RatingsPositive   int64
	RatingsNegative   int64
}

// Store manages stat counters in Redis.
type Store struct {
	client *redis.Client
	now    func() time.Time // injectable for daily-reset tests
}

// NewStore creates a stats store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func key(userID int64) string {
	return StatsPrefix + strconv.FormatInt(userID, 10)
}

// Increment adds delta to a counter and refreshes last_active. The
// chats_today counter is reset first if its last reset was before today.
func (s *Store) Increment(ctx context.Context, userID int64, counter string, delta int64) error {
	k := key(userID)
	if err := s.resetDailyIfStale(ctx, k); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, k, counter, delta)
	pipe.HSet(ctx, k, "last_active", s.now().Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stats: increment %s for %d: %w", counter, userID, err)
	}
	return nil
}

// ChatStarted bumps both the lifetime and per-day chat counters.
func (s *Store) ChatStarted(ctx context.Context, userID int64) error {
	if err := s.Increment(ctx, userID, ChatsStarted, 1); err != nil {
		return err
	}
	return s.Increment(ctx, userID, ChatsToday, 1)
}

// Get returns the user's counters, with the daily counter reset applied.
// A user with no recorded stats gets all-zero counters, not an error.
func (s *Store) Get(ctx context.Context, userID int64) (*Counters, error) {
	k := key(userID)
	if err := s.resetDailyIfStale(ctx, k); err != nil {
		return nil, err
	}

	var c Counters
	if err := s.client.HGetAll(ctx, k).Scan(&c); err != nil {
		return nil, fmt.Errorf("stats: get %d: %w", userID, err)
	}
	return &c, nil
}

// ChatCount returns the user's lifetime chats-started count. Used to
// snapshot compatibility inputs before enqueueing.
func (s *Store) ChatCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.client.HGet(ctx, key(userID), ChatsStarted).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stats: chat count %d: %w", userID, err)
	}
	return n, nil
}

// Delete removes a user's counters (account deletion flow).
func (s *Store) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("stats: delete %d: %w", userID, err)
	}
	return nil
}

// Global walks all stat hashes and returns platform-wide totals.
func (s *Store) Global(ctx context.Context) (*GlobalCounters, error) {
	var g GlobalCounters

	iter := s.client.Scan(ctx, 0, StatsPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		var c Counters
		if err := s.client.HGetAll(ctx, iter.Val()).Scan(&c); err != nil {
			continue
		}
		g.Users++
		g.MessagesSent += c.MessagesSent
		g.ChatsStarted += c.ChatsStarted
		g.TotalChatDuration += c.TotalChatDuration
		g.RatingsPositive += c.RatingsPositive
		g.RatingsNegative += c.RatingsNegative
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stats: global scan: %w", err)
	}
	return &g, nil
}

// resetDailyIfStale zeroes chats_today when the stored last_reset date is
// not today.
func (s *Store) resetDailyIfStale(ctx context.Context, k string) error {
	today := s.now().Format("2006-01-02")

	last, err := s.client.HGet(ctx, k, "last_reset").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("stats: read last_reset: %w", err)
	}
	if last == today {
		return nil
	}

	if err := s.client.HSet(ctx, k, ChatsToday, 0, "last_reset", today).Err(); err != nil {
		return fmt.Errorf("stats: daily reset: %w", err)
	}
	return nil
}
