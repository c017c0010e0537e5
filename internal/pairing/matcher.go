package pairing

// Compatibility score parameters. The score is a heuristic in [30,95]; it
// ranks candidates within one match attempt and is never persisted.
const (
	scoreBase        = 50
	scoreSameGender  = 10
	scoreCloseChats  = 15
	scoreChatsWindow = 10 // |chat count delta| below this earns scoreCloseChats
	scoreJitter      = 10 // uniform jitter in [-scoreJitter, +scoreJitter]
	scoreMin         = 30
	scoreMax         = 95
)

// MatchResult describes a candidate pairing produced by FindMatch. Nothing
// has been mutated yet when one is returned.
type MatchResult struct {
	UserA UserID // the searching user
	UserB UserID // the selected candidate
	Score int
}

// Match is the outcome of an atomic find-and-create: the session exists, both
// users have left the waiting pool.
type Match struct {
	SessionID SessionID
	UserA     UserID
	UserB     UserID
	ProfileA  Profile
	ProfileB  Profile
	Score     int
}

// FindMatch scans the waiting pool for the best candidate for user. It is
// read-only: the pool and the session registry are untouched no matter what
// it returns. The user must hold a waiting entry.
//
// Candidates are skipped when a block relation exists in either direction or
// when either side's gender filter rejects the other. Among the survivors the
// highest-scoring candidate wins; ties go to the earliest-joined.
//
// Returns (nil, nil) when no candidate survives — a fully blocked or fully
// filtered pool is not an error, just no match.
func (r *Registry) FindMatch(user UserID) (*MatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.waiting[user]
	if !ok {
		return nil, ErrNotSearching
	}

	best, score := r.selectLocked(entry)
	if best == nil {
		return nil, nil
	}
	return &MatchResult{UserA: user, UserB: best.UserID, Score: score}, nil
}

// Match finds the best candidate for user and creates a session with them,
// removing both from the waiting pool, all under a single lock acquisition.
// Two concurrent Match calls can therefore never select the same candidate.
//
// Returns (nil, nil) when the pool holds no compatible candidate; the user
// keeps waiting.
func (r *Registry) Match(user UserID) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.waiting[user]
	if !ok {
		return nil, ErrNotSearching
	}

	best, score := r.selectLocked(entry)
	if best == nil {
		return nil, nil
	}

	sid := r.createSessionLocked(entry.UserID, entry.Profile, best.UserID, best.Profile)
	return &Match{
		SessionID: sid,
		UserA:     entry.UserID,
		UserB:     best.UserID,
		ProfileA:  entry.Profile,
		ProfileB:  best.Profile,
		Score:     score,
	}, nil
}

// selectLocked picks the best candidate for entry from the waiting pool.
// Iteration is in JoinedAt order and the best candidate is only replaced on a
// strictly higher score, so equal scores resolve to the earliest-joined.
// Callers must hold r.mu.
func (r *Registry) selectLocked(entry *WaitingEntry) (*WaitingEntry, int) {
	var (
		best      *WaitingEntry
		bestScore int
	)

	for _, candidate := range r.snapshotLocked() {
		if candidate.UserID == entry.UserID {
			continue
		}
		if r.blockedLocked(entry.UserID, candidate.UserID) {
			continue
		}
		if !filterAccepts(entry.Profile.Filter, candidate.Profile.Gender) {
			continue
		}
		if !filterAccepts(candidate.Profile.Filter, entry.Profile.Gender) {
			continue
		}

		score := r.scoreLocked(entry, candidate)
		if best == nil || score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best, bestScore
}

// blockedLocked reports whether a block relation exists between the two users
// in either direction.
func (r *Registry) blockedLocked(a, b UserID) bool {
	if r.blocks == nil {
		return false
	}
	return r.blocks.IsBlocked(a, b) || r.blocks.IsBlocked(b, a)
}

// scoreLocked computes the compatibility score between two waiting entries.
// Callers must hold r.mu (the jitter source is not goroutine-safe).
func (r *Registry) scoreLocked(a, b *WaitingEntry) int {
	score := scoreBase

	if a.Profile.Gender == b.Profile.Gender {
		score += scoreSameGender
	}

	delta := a.ChatsStarted - b.ChatsStarted
	if delta < 0 {
		delta = -delta
	}
	if delta < scoreChatsWindow {
		score += scoreCloseChats
	}

	score += r.rng.Intn(2*scoreJitter+1) - scoreJitter

	if score < scoreMin {
		score = scoreMin
	}
	if score > scoreMax {
		score = scoreMax
	}
	return score
}

// filterAccepts reports whether a search filter is satisfied by a gender.
// FilterRandom (and any unknown value) accepts everyone.
func filterAccepts(f Filter, g Gender) bool {
	switch f {
	case FilterMale:
		return g == GenderMale
	case FilterFemale:
		return g == GenderFemale
	default:
		return true
	}
}
