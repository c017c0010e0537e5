package pairing

import "time"

// SessionID identifies a session. IDs are allocated from a monotonic counter
// and never reused within a process lifetime.
type SessionID uint64

// Session end reasons.
const (
	ReasonLeft           = "left"
	ReasonNext           = "next"
	ReasonBlocked        = "blocked"
	ReasonInactive       = "inactive"
	ReasonAccountDeleted = "account_deleted"
	ReasonDisconnected   = "disconnected"
)

// Participant is one side of a session.
type Participant struct {
	UserID       UserID
	Profile      Profile
	MessagesSent int
	LastActiveAt time.Time
}

// Session is a pairing between two users. Identity fields are immutable after
// creation; the counters mutate while Active. The only state transition is
// Active to ended, and it happens exactly once.
type Session struct {
	ID            SessionID
	UserA         Participant
	UserB         Participant
	CreatedAt     time.Time
	EndedAt       time.Time
	Active        bool
	Reason        string
	MediaCount    int
	LastMessageAt time.Time
}

// FinalRecord is the summary EndSession hands back on the first (and only
// effective) call. The caller emits it as stat increments and a history
// entry; the registry itself never touches external stores.
type FinalRecord struct {
	SessionID  SessionID
	UserA      UserID
	UserB      UserID
	Reason     string
	CreatedAt  time.Time
	EndedAt    time.Time
	Duration   time.Duration
	MessagesA  int
	MessagesB  int
	MediaCount int
}

// CreateSession allocates the next session ID, builds an active session with
// zeroed counters, indexes both users, and removes both from the waiting pool.
// Removal and creation happen under the same lock acquisition; there is no
// moment where a user is matched but still visible to another matcher pass.
func (r *Registry) CreateSession(userA UserID, profileA Profile, userB UserID, profileB Profile) SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createSessionLocked(userA, profileA, userB, profileB)
}

func (r *Registry) createSessionLocked(userA UserID, profileA Profile, userB UserID, profileB Profile) SessionID {
	r.nextID++
	sid := r.nextID
	now := r.now()

	delete(r.waiting, userA)
	delete(r.waiting, userB)

	r.sessions[sid] = &Session{
		ID:        sid,
		UserA:     Participant{UserID: userA, Profile: profileA, LastActiveAt: now},
		UserB:     Participant{UserID: userB, Profile: profileB, LastActiveAt: now},
		CreatedAt: now,
		Active:    true,
	}
	r.byUser[userA] = sid
	r.byUser[userB] = sid

	return sid
}

// GetSession returns a copy of the active session the user participates in
// and refreshes that participant's LastActiveAt. Ended sessions are invisible
// here: once a session ends the user has no session.
func (r *Registry) GetSession(user UserID) (SessionID, Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid, ok := r.byUser[user]
	if !ok {
		return 0, Session{}, ErrNoActiveSession
	}
	s := r.sessions[sid]
	if s == nil || !s.Active {
		return 0, Session{}, ErrNoActiveSession
	}

	if s.UserA.UserID == user {
		s.UserA.LastActiveAt = r.now()
	} else {
		s.UserB.LastActiveAt = r.now()
	}
	return sid, *s, nil
}

// Partner returns a copy of the other participant of the session. It returns
// ErrNoActiveSession if the session does not exist, has ended, or the user is
// not a participant.
func (r *Registry) Partner(sid SessionID, user UserID) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sid]
	if s == nil || !s.Active {
		return Participant{}, ErrNoActiveSession
	}
	switch user {
	case s.UserA.UserID:
		return s.UserB, nil
	case s.UserB.UserID:
		return s.UserA, nil
	default:
		return Participant{}, ErrNoActiveSession
	}
}

// RecordMessage increments the sender's message counter, bumps the session's
// LastMessageAt, and counts media. It is a no-op on a missing or ended
// session, or when sender is not a participant.
func (r *Registry) RecordMessage(sid SessionID, sender UserID, isMedia bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sid]
	if s == nil || !s.Active {
		return
	}

	now := r.now()
	switch sender {
	case s.UserA.UserID:
		s.UserA.MessagesSent++
		s.UserA.LastActiveAt = now
	case s.UserB.UserID:
		s.UserB.MessagesSent++
		s.UserB.LastActiveAt = now
	default:
		return
	}

	s.LastMessageAt = now
	if isMedia {
		s.MediaCount++
	}
}

// EndSession transitions a session out of Active and returns its FinalRecord.
// The transition happens at most once: a second call (any reason) returns nil
// and mutates nothing, so duration and counters are never double-emitted.
func (r *Registry) EndSession(sid SessionID, reason string) *FinalRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endSessionLocked(sid, reason)
}

func (r *Registry) endSessionLocked(sid SessionID, reason string) *FinalRecord {
	s := r.sessions[sid]
	if s == nil || !s.Active {
		return nil
	}

	s.Active = false
	s.EndedAt = r.now()
	s.Reason = reason

	delete(r.byUser, s.UserA.UserID)
	delete(r.byUser, s.UserB.UserID)

	return &FinalRecord{
		SessionID:  sid,
		UserA:      s.UserA.UserID,
		UserB:      s.UserB.UserID,
		Reason:     reason,
		CreatedAt:  s.CreatedAt,
		EndedAt:    s.EndedAt,
		Duration:   s.EndedAt.Sub(s.CreatedAt),
		MessagesA:  s.UserA.MessagesSent,
		MessagesB:  s.UserB.MessagesSent,
		MediaCount: s.MediaCount,
	}
}

// EndSessionFor ends the active session the user participates in, if any.
// It is a convenience for leave/next/block/delete flows where the caller
// knows the user but not the session ID.
func (r *Registry) EndSessionFor(user UserID, reason string) *FinalRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid, ok := r.byUser[user]
	if !ok {
		return nil
	}
	return r.endSessionLocked(sid, reason)
}
