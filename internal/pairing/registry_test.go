package pairing

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// fakeBlocks is an in-memory BlockChecker for tests.
type fakeBlocks struct {
	mu    sync.Mutex
	pairs map[[2]UserID]bool
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{pairs: make(map[[2]UserID]bool)}
}

func (f *fakeBlocks) block(blocker, blocked UserID) {
	f.mu.Lock()
	f.pairs[[2]UserID{blocker, blocked}] = true
	f.mu.Unlock()
}

func (f *fakeBlocks) IsBlocked(blocker, blocked UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairs[[2]UserID{blocker, blocked}]
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestRegistry builds a registry with a seeded jitter source so match
// selection is reproducible.
func newTestRegistry(t *testing.T, blocks BlockChecker, opts ...Option) *Registry {
	t.Helper()
	all := append([]Option{WithRand(rand.NewSource(42))}, opts...)
	return NewRegistry(DefaultConfig(), blocks, all...)
}

func maleRandom(nick string) Profile {
	return Profile{Nickname: nick, Gender: GenderMale, Filter: FilterRandom}
}

func femaleRandom(nick string) Profile {
	return Profile{Nickname: nick, Gender: GenderFemale, Filter: FilterRandom}
}

// ---------- waiting pool ----------

func TestEnqueue_RejectsDoubleSearch(t *testing.T) {
	r := newTestRegistry(t, nil)

	if err := r.Enqueue(1, maleRandom("a"), 0); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := r.Enqueue(1, maleRandom("a"), 0); !errors.Is(err, ErrAlreadySearching) {
		t.Errorf("expected ErrAlreadySearching, got %v", err)
	}
	if r.WaitingCount() != 1 {
		t.Errorf("expected pool size 1, got %d", r.WaitingCount())
	}
}

func TestEnqueue_RejectsUserInActiveSession(t *testing.T) {
	r := newTestRegistry(t, nil)

	r.CreateSession(1, maleRandom("a"), 2, femaleRandom("b"))

	if err := r.Enqueue(1, maleRandom("a"), 0); !errors.Is(err, ErrAlreadyInSession) {
		t.Errorf("expected ErrAlreadyInSession, got %v", err)
	}
}

func TestEnqueue_AllowedAgainAfterSessionEnds(t *testing.T) {
	r := newTestRegistry(t, nil)

	sid := r.CreateSession(1, maleRandom("a"), 2, femaleRandom("b"))
	if rec := r.EndSession(sid, ReasonLeft); rec == nil {
		t.Fatal("expected a final record")
	}

	if err := r.Enqueue(1, maleRandom("a"), 0); err != nil {
		t.Errorf("enqueue after session ended: %v", err)
	}
}

func TestDequeue_Idempotent(t *testing.T) {
	r := newTestRegistry(t, nil)

	r.Dequeue(99) // never enqueued, must not panic

	if err := r.Enqueue(1, maleRandom("a"), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	r.Dequeue(1)
	r.Dequeue(1)
	if r.WaitingCount() != 0 {
		t.Errorf("expected empty pool, got %d", r.WaitingCount())
	}
}

func TestSnapshot_OrderedByJoinTimeAndImmutable(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, nil, WithClock(clock.Now))

	for i, u := range []UserID{5, 3, 9} {
		if err := r.Enqueue(u, maleRandom("u"), i); err != nil {
			t.Fatalf("enqueue %d: %v", u, err)
		}
		clock.Advance(time.Second)
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	want := []UserID{5, 3, 9}
	for i, e := range snap {
		if e.UserID != want[i] {
			t.Errorf("position %d: expected user %d, got %d", i, want[i], e.UserID)
		}
	}
	if r.WaitingCount() != 3 {
		t.Errorf("snapshot mutated the pool: size %d", r.WaitingCount())
	}
}

// ---------- session registry ----------

func TestCreateSession_RemovesBothFromPool(t *testing.T) {
	r := newTestRegistry(t, nil)

	mustEnqueue(t, r, 1, maleRandom("a"), 0)
	mustEnqueue(t, r, 2, femaleRandom("b"), 0)

	sid := r.CreateSession(1, maleRandom("a"), 2, femaleRandom("b"))
	if sid == 0 {
		t.Fatal("expected a non-zero session ID")
	}
	if r.WaitingCount() != 0 {
		t.Errorf("expected empty pool after session creation, got %d", r.WaitingCount())
	}

	for _, u := range []UserID{1, 2} {
		gotSID, s, err := r.GetSession(u)
		if err != nil {
			t.Fatalf("GetSession(%d): %v", u, err)
		}
		if gotSID != sid {
			t.Errorf("GetSession(%d): expected sid %d, got %d", u, sid, gotSID)
		}
		if !s.Active {
			t.Errorf("GetSession(%d): session not active", u)
		}
	}
}

func TestSessionIDs_MonotonicAndUnique(t *testing.T) {
	r := newTestRegistry(t, nil)

	var prev SessionID
	for i := 0; i < 5; i++ {
		a := UserID(i*2 + 1)
		b := UserID(i*2 + 2)
		sid := r.CreateSession(a, maleRandom("a"), b, femaleRandom("b"))
		if sid <= prev {
			t.Fatalf("session ID %d not greater than previous %d", sid, prev)
		}
		prev = sid
		r.EndSession(sid, ReasonLeft)
	}
}

func TestRecordMessage_Counters(t *testing.T) {
	r := newTestRegistry(t, nil)

	sid := r.CreateSession(1, maleRandom("a"), 2, femaleRandom("b"))

	r.RecordMessage(sid, 1, false)
	r.RecordMessage(sid, 2, true)

	_, s, err := r.GetSession(1)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.UserA.MessagesSent != 1 {
		t.Errorf("user A messages: expected 1, got %d", s.UserA.MessagesSent)
	}
	if s.UserB.MessagesSent != 1 {
		t.Errorf("user B messages: expected 1, got %d", s.UserB.MessagesSent)
	}
	if s.MediaCount != 1 {
		t.Errorf("media count: expected 1, got %d", s.MediaCount)
	}
	if s.LastMessageAt.IsZero() {
		t.Error("LastMessageAt not set")
	}
}

func TestRecordMessage_IgnoresEndedSessionAndStrangers(t *testing.T) {
	r := newTestRegistry(t, nil)

	sid := r.CreateSession(1, maleRandom("a"), 2, femaleRandom("b"))
	r.RecordMessage(sid, 77, false) // not a participant
	r.EndSession(sid, ReasonLeft)
	r.RecordMessage(sid, 1, false) // ended
	r.RecordMessage(999, 1, false) // unknown session
}

func TestPartner(t *testing.T) {
	r := newTestRegistry(t, nil)

	sid := r.CreateSession(1, maleRandom("alice"), 2, femaleRandom("bob"))

	p, err := r.Partner(sid, 1)
	if err != nil {
		t.Fatalf("Partner: %v", err)
	}
	if p.UserID != 2 || p.Profile.Nickname != "bob" {
		t.Errorf("expected partner 2/bob, got %d/%s", p.UserID, p.Profile.Nickname)
	}

	if _, err := r.Partner(sid, 3); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("stranger: expected ErrNoActiveSession, got %v", err)
	}

	r.EndSession(sid, ReasonLeft)
	if _, err := r.Partner(sid, 1); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ended session: expected ErrNoActiveSession, got %v", err)
	}
}

func TestEndSession_IdempotentSingleFinalRecord(t *testing.T) {
	r := newTestRegistry(t, nil)

	sid := r.CreateSession(1, maleRandom("a"), 2, femaleRandom("b"))
	r.RecordMessage(sid, 1, false)

	first := r.EndSession(sid, ReasonLeft)
	if first == nil {
		t.Fatal("expected a final record from the first EndSession")
	}
	if first.Reason != ReasonLeft {
		t.Errorf("reason: expected %q, got %q", ReasonLeft, first.Reason)
	}
	if first.Duration < 0 {
		t.Errorf("negative duration %v", first.Duration)
	}
	if first.MessagesA != 1 || first.MessagesB != 0 {
		t.Errorf("message counts: expected 1/0, got %d/%d", first.MessagesA, first.MessagesB)
	}

	if second := r.EndSession(sid, ReasonInactive); second != nil {
		t.Errorf("second EndSession returned a record: %+v", second)
	}

	if _, _, err := r.GetSession(1); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("GetSession after end: expected ErrNoActiveSession, got %v", err)
	}
}

func TestEndSessionFor(t *testing.T) {
	r := newTestRegistry(t, nil)

	r.CreateSession(1, maleRandom("a"), 2, femaleRandom("b"))

	rec := r.EndSessionFor(2, ReasonNext)
	if rec == nil {
		t.Fatal("expected a final record")
	}
	if rec.Reason != ReasonNext {
		t.Errorf("reason: expected %q, got %q", ReasonNext, rec.Reason)
	}
	if r.EndSessionFor(1, ReasonLeft) != nil {
		t.Error("expected nil record for user with no session")
	}
}

// ---------- mutual exclusion ----------

// A user is never simultaneously waiting and in an active session, across
// match, end, and re-enqueue transitions.
func TestWaitingAndSessionMutuallyExclusive(t *testing.T) {
	r := newTestRegistry(t, nil)

	mustEnqueue(t, r, 1, maleRandom("a"), 0)
	mustEnqueue(t, r, 2, femaleRandom("b"), 0)

	m, err := r.Match(1)
	if err != nil || m == nil {
		t.Fatalf("Match: %v, %v", m, err)
	}

	for _, u := range []UserID{1, 2} {
		if r.IsWaiting(u) {
			t.Errorf("user %d waiting while in an active session", u)
		}
	}

	r.EndSession(m.SessionID, ReasonLeft)
	mustEnqueue(t, r, 1, maleRandom("a"), 0)
	if _, _, err := r.GetSession(1); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("user waiting but GetSession succeeded")
	}
}

func mustEnqueue(t *testing.T, r *Registry, u UserID, p Profile, chats int) {
	t.Helper()
	if err := r.Enqueue(u, p, chats); err != nil {
		t.Fatalf("enqueue %d: %v", u, err)
	}
}
