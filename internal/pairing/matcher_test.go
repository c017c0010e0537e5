package pairing

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestFindMatch_RequiresWaitingEntry(t *testing.T) {
	r := newTestRegistry(t, nil)

	if _, err := r.FindMatch(1); !errors.Is(err, ErrNotSearching) {
		t.Errorf("expected ErrNotSearching, got %v", err)
	}
}

func TestFindMatch_DoesNotMutate(t *testing.T) {
	r := newTestRegistry(t, nil)

	mustEnqueue(t, r, 1, maleRandom("a"), 5)
	mustEnqueue(t, r, 2, femaleRandom("b"), 5)

	res, err := r.FindMatch(1)
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if res == nil || res.UserB != 2 {
		t.Fatalf("expected candidate 2, got %+v", res)
	}
	if r.WaitingCount() != 2 {
		t.Errorf("FindMatch mutated the pool: size %d", r.WaitingCount())
	}
}

// Scenario: two mutually compatible users; matching removes both from the
// pool and indexes an active session under each.
func TestMatch_PairsAndRemovesBoth(t *testing.T) {
	r := newTestRegistry(t, nil)

	mustEnqueue(t, r, 1, maleRandom("a"), 5)
	mustEnqueue(t, r, 2, femaleRandom("b"), 5)

	m, err := r.Match(1)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.UserB != 2 {
		t.Errorf("expected partner 2, got %d", m.UserB)
	}
	if m.Score < scoreMin || m.Score > scoreMax {
		t.Errorf("score %d outside [%d,%d]", m.Score, scoreMin, scoreMax)
	}
	if r.WaitingCount() != 0 {
		t.Errorf("pool not drained: %d", r.WaitingCount())
	}
	for _, u := range []UserID{1, 2} {
		if _, s, err := r.GetSession(u); err != nil || !s.Active {
			t.Errorf("user %d has no active session after match", u)
		}
	}
}

func TestMatch_EmptyPoolReturnsNoMatch(t *testing.T) {
	r := newTestRegistry(t, nil)

	mustEnqueue(t, r, 1, maleRandom("a"), 0)

	m, err := r.Match(1)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m != nil {
		t.Errorf("expected no match with only self queued, got %+v", m)
	}
	if !r.IsWaiting(1) {
		t.Error("user removed from pool despite no match")
	}
}

// Scenario: A blocked B. Neither direction may ever match, and both stay in
// the pool.
func TestMatch_BlockSymmetry(t *testing.T) {
	blocks := newFakeBlocks()
	blocks.block(1, 2)
	r := newTestRegistry(t, blocks)

	mustEnqueue(t, r, 1, maleRandom("a"), 0)
	mustEnqueue(t, r, 2, femaleRandom("b"), 0)

	for _, u := range []UserID{1, 2} {
		m, err := r.Match(u)
		if err != nil {
			t.Fatalf("Match(%d): %v", u, err)
		}
		if m != nil {
			t.Errorf("Match(%d) paired blocked users: %+v", u, m)
		}
	}
	if r.WaitingCount() != 2 {
		t.Errorf("blocked users left the pool: size %d", r.WaitingCount())
	}
}

func TestMatch_BlockAddedWhileWaiting(t *testing.T) {
	blocks := newFakeBlocks()
	r := newTestRegistry(t, blocks)

	mustEnqueue(t, r, 1, maleRandom("a"), 0)
	mustEnqueue(t, r, 2, femaleRandom("b"), 0)

	// The block lands after both enqueued; the matcher must still honour it.
	blocks.block(2, 1)

	m, err := r.Match(1)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m != nil {
		t.Errorf("matched despite block created mid-wait: %+v", m)
	}
}

func TestMatch_FiltersAreMutual(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Profile
		wantMatch bool
	}{
		{
			name:      "both random",
			a:         Profile{Gender: GenderMale, Filter: FilterRandom},
			b:         Profile{Gender: GenderFemale, Filter: FilterRandom},
			wantMatch: true,
		},
		{
			name:      "searcher wants female, candidate is male",
			a:         Profile{Gender: GenderMale, Filter: FilterFemale},
			b:         Profile{Gender: GenderMale, Filter: FilterRandom},
			wantMatch: false,
		},
		{
			name:      "candidate filter rejects searcher",
			a:         Profile{Gender: GenderFemale, Filter: FilterRandom},
			b:         Profile{Gender: GenderFemale, Filter: FilterMale},
			wantMatch: false,
		},
		{
			name:      "both filters satisfied",
			a:         Profile{Gender: GenderMale, Filter: FilterFemale},
			b:         Profile{Gender: GenderFemale, Filter: FilterMale},
			wantMatch: true,
		},
		{
			name:      "unspecified gender fails a male filter",
			a:         Profile{Gender: GenderUnspecified, Filter: FilterRandom},
			b:         Profile{Gender: GenderFemale, Filter: FilterMale},
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, nil)
			mustEnqueue(t, r, 1, tt.a, 0)
			mustEnqueue(t, r, 2, tt.b, 0)

			m, err := r.Match(1)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if (m != nil) != tt.wantMatch {
				t.Errorf("match = %v, want %v", m != nil, tt.wantMatch)
			}
		})
	}
}

func TestMatch_FilterOnlyMatchesRequestedGender(t *testing.T) {
	r := newTestRegistry(t, nil)

	mustEnqueue(t, r, 1, Profile{Gender: GenderFemale, Filter: FilterMale}, 0)
	mustEnqueue(t, r, 2, Profile{Gender: GenderFemale, Filter: FilterRandom}, 0)
	mustEnqueue(t, r, 3, Profile{Gender: GenderUnspecified, Filter: FilterRandom}, 0)
	mustEnqueue(t, r, 4, Profile{Gender: GenderMale, Filter: FilterRandom}, 0)

	m, err := r.Match(1)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.UserB != 4 {
		t.Errorf("male filter selected user %d (gender %s)", m.UserB, m.ProfileB.Gender)
	}
}

func TestScore_AlwaysWithinBounds(t *testing.T) {
	r := newTestRegistry(t, nil, WithRand(rand.NewSource(7)))

	profiles := []Profile{
		{Gender: GenderMale, Filter: FilterRandom},
		{Gender: GenderFemale, Filter: FilterRandom},
		{Gender: GenderUnspecified, Filter: FilterRandom},
	}
	counts := []int{0, 5, 9, 10, 250}

	for i := 0; i < 200; i++ {
		a := &WaitingEntry{UserID: 1, Profile: profiles[i%3], ChatsStarted: counts[i%5]}
		b := &WaitingEntry{UserID: 2, Profile: profiles[(i+1)%3], ChatsStarted: counts[(i+2)%5]}
		score := r.scoreLocked(a, b)
		if score < scoreMin || score > scoreMax {
			t.Fatalf("iteration %d: score %d outside [%d,%d]", i, score, scoreMin, scoreMax)
		}
	}
}

func TestScore_CloseChatCountsRewarded(t *testing.T) {
	// Zero jitter makes the deterministic components observable.
	r := newTestRegistry(t, nil, WithRand(zeroSource{}))

	a := &WaitingEntry{UserID: 1, Profile: maleRandom("a"), ChatsStarted: 5}
	near := &WaitingEntry{UserID: 2, Profile: maleRandom("b"), ChatsStarted: 9}
	far := &WaitingEntry{UserID: 3, Profile: maleRandom("c"), ChatsStarted: 40}

	if got := r.scoreLocked(a, near); got != scoreBase+scoreSameGender+scoreCloseChats {
		t.Errorf("near counts: expected %d, got %d", scoreBase+scoreSameGender+scoreCloseChats, got)
	}
	if got := r.scoreLocked(a, far); got != scoreBase+scoreSameGender {
		t.Errorf("far counts: expected %d, got %d", scoreBase+scoreSameGender, got)
	}
}

// zeroSource makes rng.Intn(21) return 10 so the +/-10 jitter collapses to 0.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 10 << 32 }
func (zeroSource) Seed(int64)   {}

func TestMatch_TieBreakPrefersEarliestJoined(t *testing.T) {
	clock := newFakeClock()
	// Zero jitter: identical profiles and counts produce identical scores.
	r := newTestRegistry(t, nil, WithClock(clock.Now), WithRand(zeroSource{}))

	mustEnqueue(t, r, 1, maleRandom("searcher"), 0)
	clock.Advance(time.Second)
	mustEnqueue(t, r, 2, maleRandom("early"), 0)
	clock.Advance(time.Second)
	mustEnqueue(t, r, 3, maleRandom("late"), 0)

	m, err := r.Match(1)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.UserB != 2 {
		t.Errorf("tie-break picked user %d, want earliest-joined 2", m.UserB)
	}
}

// With N users queued and N concurrent Match calls, exactly N/2 sessions are
// created and no user lands in two sessions.
func TestMatch_NoDoubleMatchUnderConcurrency(t *testing.T) {
	const n = 20
	r := newTestRegistry(t, nil)

	users := make([]UserID, 0, n)
	for i := 1; i <= n; i++ {
		u := UserID(i)
		users = append(users, u)
		mustEnqueue(t, r, u, maleRandom("u"), 0)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matches []*Match
	)
	for _, u := range users {
		wg.Add(1)
		go func(u UserID) {
			defer wg.Done()
			m, err := r.Match(u)
			if err != nil && !errors.Is(err, ErrNotSearching) {
				t.Errorf("Match(%d): %v", u, err)
				return
			}
			if m != nil {
				mu.Lock()
				matches = append(matches, m)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	if len(matches) != n/2 {
		t.Fatalf("expected %d sessions, got %d", n/2, len(matches))
	}

	seen := make(map[UserID]bool)
	for _, m := range matches {
		for _, u := range []UserID{m.UserA, m.UserB} {
			if seen[u] {
				t.Errorf("user %d appears in two sessions", u)
			}
			seen[u] = true
		}
	}
	if r.WaitingCount() != 0 {
		t.Errorf("pool not empty after full matching: %d", r.WaitingCount())
	}
}
