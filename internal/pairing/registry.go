// Package pairing implements the matchmaking core: the waiting pool of users
// searching for a partner, the compatibility matcher, the session registry
// that owns active pairings, and the inactivity sweep.
//
// All state lives in process memory behind a single exclusive mutex; no
// network or disk I/O happens while the lock is held. Collaborators that the
// matcher consults at selection time (block relations) must therefore answer
// from memory — see BlockChecker. Everything else the matcher needs (profile,
// chats-started count) is snapshotted into the waiting entry at enqueue time
// by the caller.
package pairing

import (
	"math/rand"
	"sync"
	"time"
)

// UserID is an opaque user identifier issued by the surrounding application.
type UserID int64

// Gender values as stored in user profiles.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUnspecified Gender = "not_specified"
)

// Filter is a user's search preference.
type Filter string

const (
	FilterMale   Filter = "male"
	FilterFemale Filter = "female"
	FilterRandom Filter = "random"
)

// Profile is the slice of a user's profile the matcher cares about.
type Profile struct {
	Nickname string
	Gender   Gender
	Filter   Filter
}

// WaitingEntry is one user in the waiting pool. The profile and chat count
// are snapshots taken when the user was enqueued.
type WaitingEntry struct {
	UserID       UserID
	Profile      Profile
	ChatsStarted int
	JoinedAt     time.Time

	seq uint64 // enqueue order, breaks JoinedAt ties deterministically
}

// BlockChecker reports whether blocker has blocked blocked. The matcher calls
// it while holding the registry lock, so implementations must answer from
// memory without blocking I/O. A nil checker means no blocks exist.
type BlockChecker interface {
	IsBlocked(blocker, blocked UserID) bool
}

// Config holds the registry's sweep timing parameters.
type Config struct {
	WaitingTimeout time.Duration // waiting entries older than this are evicted
	SessionTimeout time.Duration // sessions idle longer than this are ended
	SweepInterval  time.Duration // how often RunSweeper passes over the registry
}

// DefaultConfig returns the production timeouts: 5 minute search eviction,
// 30 minute idle-session eviction, one sweep per minute.
func DefaultConfig() Config {
	return Config{
		WaitingTimeout: 5 * time.Minute,
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  60 * time.Second,
	}
}

// Registry is the shared matchmaking state: the waiting pool, all sessions
// (active and ended), and the user-to-session index. A single mutex guards
// every operation, which is what makes match-selection and pool-removal one
// atomic step.
type Registry struct {
	mu sync.Mutex

	waiting  map[UserID]*WaitingEntry
	sessions map[SessionID]*Session
	byUser   map[UserID]SessionID // users in an *active* session only

	nextID  SessionID
	nextSeq uint64

	blocks BlockChecker
	rng    *rand.Rand // guarded by mu; *rand.Rand is not goroutine-safe
	now    func() time.Time
	config Config
}

// Option customises a Registry at construction time.
type Option func(*Registry)

// WithRand replaces the jitter source used by the compatibility score.
// Seed it for reproducible match selection in tests.
func WithRand(src rand.Source) Option {
	return func(r *Registry) { r.rng = rand.New(src) }
}

// WithClock replaces the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry. blocks may be nil, in which case no
// block relations exist.
func NewRegistry(config Config, blocks BlockChecker, opts ...Option) *Registry {
	r := &Registry{
		waiting:  make(map[UserID]*WaitingEntry),
		sessions: make(map[SessionID]*Session),
		byUser:   make(map[UserID]SessionID),
		blocks:   blocks,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		config:   config,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the timing parameters the registry was built with.
func (r *Registry) Config() Config {
	return r.config
}

// WaitingCount returns the number of users currently searching.
func (r *Registry) WaitingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

// ActiveSessions returns the number of sessions that have not ended.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser) / 2
}
