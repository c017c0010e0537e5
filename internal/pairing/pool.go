package pairing

import "sort"

// Enqueue adds a user to the waiting pool with a snapshot of their profile
// and chats-started count. It fails if the user is already searching or is a
// participant in an active session; a user is never in both places at once.
func (r *Registry) Enqueue(user UserID, profile Profile, chatsStarted int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.waiting[user]; ok {
		return ErrAlreadySearching
	}
	if sid, ok := r.byUser[user]; ok {
		if s := r.sessions[sid]; s != nil && s.Active {
			return ErrAlreadyInSession
		}
	}

	r.nextSeq++
	r.waiting[user] = &WaitingEntry{
		UserID:       user,
		Profile:      profile,
		ChatsStarted: chatsStarted,
		JoinedAt:     r.now(),
		seq:          r.nextSeq,
	}
	return nil
}

// Dequeue removes a user from the waiting pool. It is idempotent: removing a
// user who is not waiting is a no-op. This is how a search is cancelled.
func (r *Registry) Dequeue(user UserID) {
	r.mu.Lock()
	delete(r.waiting, user)
	r.mu.Unlock()
}

// IsWaiting reports whether the user currently holds a waiting entry.
func (r *Registry) IsWaiting(user UserID) bool {
	r.mu.Lock()
	_, ok := r.waiting[user]
	r.mu.Unlock()
	return ok
}

// Snapshot returns a copy of the waiting pool ordered by join time, oldest
// first. Taking a snapshot does not mutate the pool.
func (r *Registry) Snapshot() []WaitingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]WaitingEntry, 0, len(r.waiting))
	for _, e := range r.snapshotLocked() {
		out = append(out, *e)
	}
	return out
}

// snapshotLocked returns the waiting entries ordered by JoinedAt ascending,
// with enqueue order as the tie-break. Callers must hold r.mu.
func (r *Registry) snapshotLocked() []*WaitingEntry {
	entries := make([]*WaitingEntry, 0, len(r.waiting))
	for _, e := range r.waiting {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}
