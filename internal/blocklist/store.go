// Package blocklist manages the directed "do not match" relation between
// users. Relations persist in Redis as one hash per blocker:
//
//	Key:   blocks:<blocker_id>
//	Field: <blocked_id>
//	Value: JSON {nickname, blocked_at}
//
// Because the matcher consults blocks while holding the registry lock, the
// store keeps an in-process mirror of the relation and answers IsBlocked from
// it without touching Redis. Writes go through to Redis first and then update
// the mirror; the mirror is loaded once at startup with LoadMirror.
package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bondly/bondly/internal/pairing"
)

// BlockPrefix is the Redis key prefix for block hashes.
const BlockPrefix = "blocks:"

// Entry is one block relation as stored.
type Entry struct {
	BlockedID int64  `json:"-"`
	Nickname  string `json:"nickname"`
	BlockedAt int64  `json:"blocked_at"` // unix timestamp
}

// Store persists block relations in Redis and mirrors them in memory.
type Store struct {
	client *redis.Client

	mu     sync.RWMutex
	mirror map[int64]map[int64]bool // blocker -> set of blocked
}

// NewStore creates a block store using the provided Redis client. Call
// LoadMirror before handing the store to the matcher.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		mirror: make(map[int64]map[int64]bool),
	}
}

func key(blocker int64) string {
	return BlockPrefix + strconv.FormatInt(blocker, 10)
}

// LoadMirror scans all block hashes in Redis and rebuilds the in-process
// mirror. It replaces any previous mirror contents.
func (s *Store) LoadMirror(ctx context.Context) error {
	mirror := make(map[int64]map[int64]bool)

	iter := s.client.Scan(ctx, 0, BlockPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		blocker, err := strconv.ParseInt(strings.TrimPrefix(k, BlockPrefix), 10, 64)
		if err != nil {
			log.Printf("[blocklist] skipping malformed key %q", k)
			continue
		}

		fields, err := s.client.HKeys(ctx, k).Result()
		if err != nil {
			return fmt.Errorf("blocklist: load %s: %w", k, err)
		}
		for _, f := range fields {
			blocked, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				continue
			}
			if mirror[blocker] == nil {
				mirror[blocker] = make(map[int64]bool)
			}
			mirror[blocker][blocked] = true
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("blocklist: scan: %w", err)
	}

	s.mu.Lock()
	s.mirror = mirror
	s.mu.Unlock()
	return nil
}

// IsBlocked reports whether blocker has blocked blocked. It reads only the
// in-process mirror and never blocks on I/O, which makes it safe to call
// from inside the matchmaking lock. It satisfies pairing.BlockChecker.
func (s *Store) IsBlocked(blocker, blocked pairing.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror[int64(blocker)][int64(blocked)]
}

// Block records that blocker blocks blocked, snapshotting the blocked user's
// nickname at block time. The Redis write happens first; the mirror is only
// updated on success so the two never disagree in the blocked direction.
func (s *Store) Block(ctx context.Context, blocker, blocked int64, nickname string) error {
	entry := Entry{Nickname: nickname, BlockedAt: time.Now().Unix()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("blocklist: marshal entry: %w", err)
	}

	if err := s.client.HSet(ctx, key(blocker), strconv.FormatInt(blocked, 10), data).Err(); err != nil {
		return fmt.Errorf("blocklist: block %d->%d: %w", blocker, blocked, err)
	}

	s.mu.Lock()
	if s.mirror[blocker] == nil {
		s.mirror[blocker] = make(map[int64]bool)
	}
	s.mirror[blocker][blocked] = true
	s.mu.Unlock()
	return nil
}

// Unblock removes a block relation. Returns true if a relation existed.
func (s *Store) Unblock(ctx context.Context, blocker, blocked int64) (bool, error) {
	removed, err := s.client.HDel(ctx, key(blocker), strconv.FormatInt(blocked, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("blocklist: unblock %d->%d: %w", blocker, blocked, err)
	}

	s.mu.Lock()
	delete(s.mirror[blocker], blocked)
	s.mu.Unlock()
	return removed > 0, nil
}

// List returns everyone the blocker has blocked, with nickname snapshots.
func (s *Store) List(ctx context.Context, blocker int64) ([]Entry, error) {
	fields, err := s.client.HGetAll(ctx, key(blocker)).Result()
	if err != nil {
		return nil, fmt.Errorf("blocklist: list %d: %w", blocker, err)
	}

	entries := make([]Entry, 0, len(fields))
	for f, v := range fields {
		blocked, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			log.Printf("[blocklist] malformed entry %d->%s: %v", blocker, f, err)
			continue
		}
		e.BlockedID = blocked
		entries = append(entries, e)
	}
	return entries, nil
}

// DeleteAll removes the blocker's entire block hash (account deletion flow).
// Inbound blocks held by other users are kept: the deleted account's ID must
// stay unmatchable if it is ever re-registered.
func (s *Store) DeleteAll(ctx context.Context, blocker int64) error {
	if err := s.client.Del(ctx, key(blocker)).Err(); err != nil {
		return fmt.Errorf("blocklist: delete all for %d: %w", blocker, err)
	}

	s.mu.Lock()
	delete(s.mirror, blocker)
	s.mu.Unlock()
	return nil
}
