package pairing

import (
	"context"
	"log"
	"time"
)

// SweepResult reports what one sweep pass removed.
type SweepResult struct {
	Evicted []UserID       // waiting entries older than WaitingTimeout
	Ended   []*FinalRecord // sessions idle longer than SessionTimeout
}

// Sweep makes one pass over the registry: waiting entries older than
// WaitingTimeout are dequeued, and active sessions with no message activity
// for SessionTimeout (measured from the later of LastMessageAt and CreatedAt)
// are ended with reason "inactive". Both comparisons are strict: an entry
// whose age equals the timeout exactly survives until the next pass. The
// whole pass holds the registry lock, so it cannot race a concurrent match
// or message; callers act on the result after it returns.
func (r *Registry) Sweep() SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var result SweepResult

	for user, entry := range r.waiting {
		if now.Sub(entry.JoinedAt) > r.config.WaitingTimeout {
			delete(r.waiting, user)
			result.Evicted = append(result.Evicted, user)
		}
	}

	for sid, s := range r.sessions {
		if !s.Active {
			continue
		}
		last := s.CreatedAt
		if s.LastMessageAt.After(last) {
			last = s.LastMessageAt
		}
		if now.Sub(last) > r.config.SessionTimeout {
			result.Ended = append(result.Ended, r.endSessionLocked(sid, ReasonInactive))
		}
	}

	return result
}

// SweepHooks receives what a sweep pass removed. Hooks run after the registry
// lock is released, so they may do I/O.
type SweepHooks struct {
	OnWaitingEvicted func(UserID)
	OnSessionEnded   func(*FinalRecord)
}

// RunSweeper sweeps the registry every Config.SweepInterval until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (r *Registry) RunSweeper(ctx context.Context, hooks SweepHooks) {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[pairing] sweeper stopped")
			return
		case <-ticker.C:
			result := r.Sweep()
			for _, user := range result.Evicted {
				if hooks.OnWaitingEvicted != nil {
					hooks.OnWaitingEvicted(user)
				}
			}
			for _, rec := range result.Ended {
				if hooks.OnSessionEnded != nil {
					hooks.OnSessionEnded(rec)
				}
			}
			if len(result.Evicted) > 0 || len(result.Ended) > 0 {
				log.Printf("[pairing] sweep: evicted %d waiting, ended %d idle sessions",
					len(result.Evicted), len(result.Ended))
			}
		}
	}
}
