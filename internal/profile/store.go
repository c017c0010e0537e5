// Package profile provides the Redis-backed profile directory: nickname,
// gender, and search filter per user. The matchmaking core consumes profile
// snapshots; it never reads this store directly.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bondly/bondly/internal/pairing"
)

// ProfilePrefix is the Redis key prefix for profile hashes.
const ProfilePrefix = "profile:"

// ErrNotFound is returned by Get when no profile exists for the user.
var ErrNotFound = errors.New("profile: not found")

// Record is a user's stored profile.
type Record struct {
	UserID         int64  `redis:"user_id"`
	Nickname       string `redis:"nickname"`
	Gender         string `redis:"gender"`        // male | female | not_specified
	Filter         string `redis:"search_filter"` // male | female | random
	AutoRegistered bool   `redis:"auto_registered"`
	RegisteredAt   int64  `redis:"registered_at"` // unix timestamp
}

// Snapshot converts the record into the matcher's profile shape.
func (r *Record) Snapshot() pairing.Profile {
	return pairing.Profile{
		Nickname: r.Nickname,
		Gender:   pairing.Gender(r.Gender),
		Filter:   pairing.Filter(r.Filter),
	}
}

// Store manages profiles in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a profile store connected to Redis at addr.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("profile: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(userID int64) string {
	return ProfilePrefix + strconv.FormatInt(userID, 10)
}

// Get retrieves a profile. Returns ErrNotFound if the user is unregistered.
func (s *Store) Get(ctx context.Context, userID int64) (*Record, error) {
	var rec Record
	if err := s.client.HGetAll(ctx, key(userID)).Scan(&rec); err != nil {
		return nil, fmt.Errorf("profile: get %d: %w", userID, err)
	}
	if rec.UserID == 0 {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Save stores a full profile record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	fields := map[string]interface{}{
		"user_id":         rec.UserID,
		"nickname":        rec.Nickname,
		"gender":          rec.Gender,
		"search_filter":   rec.Filter,
		"auto_registered": rec.AutoRegistered,
		"registered_at":   rec.RegisteredAt,
	}
	if err := s.client.HSet(ctx, key(rec.UserID), fields).Err(); err != nil {
		return fmt.Errorf("profile: save %d: %w", rec.UserID, err)
	}
	return nil
}

// Ensure returns the user's profile, creating an auto-registered one with a
// generated nickname and default gender/filter if none exists. hint seeds the
// nickname (a display name supplied by the transport layer, may be empty).
func (s *Store) Ensure(ctx context.Context, userID int64, hint string) (*Record, error) {
	rec, err := s.Get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	rec = &Record{
		UserID:         userID,
		Nickname:       NicknameFrom(hint),
		Gender:         string(pairing.GenderUnspecified),
		Filter:         string(pairing.FilterRandom),
		AutoRegistered: true,
		RegisteredAt:   time.Now().Unix(),
	}
	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SetNickname updates the nickname after normalising it.
func (s *Store) SetNickname(ctx context.Context, userID int64, nickname string) error {
	return s.setField(ctx, userID, "nickname", CleanNickname(nickname))
}

// SetGender updates the gender.
func (s *Store) SetGender(ctx context.Context, userID int64, gender string) error {
	switch pairing.Gender(gender) {
	case pairing.GenderMale, pairing.GenderFemale, pairing.GenderUnspecified:
	default:
		return fmt.Errorf("profile: invalid gender %q", gender)
	}
	return s.setField(ctx, userID, "gender", gender)
}

// SetFilter updates the search filter.
func (s *Store) SetFilter(ctx context.Context, userID int64, filter string) error {
	switch pairing.Filter(filter) {
	case pairing.FilterMale, pairing.FilterFemale, pairing.FilterRandom:
	default:
		return fmt.Errorf("profile: invalid filter %q", filter)
	}
	return s.setField(ctx, userID, "search_filter", filter)
}

func (s *Store) setField(ctx context.Context, userID int64, field, value string) error {
	if err := s.client.HSet(ctx, key(userID), field, value, "auto_registered", false).Err(); err != nil {
		return fmt.Errorf("profile: set %s for %d: %w", field, userID, err)
	}
	return nil
}

// Delete removes a profile (account deletion flow).
func (s *Store) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("profile: delete %d: %w", userID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
