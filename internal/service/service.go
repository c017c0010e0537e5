// Package service wires the in-memory pairing registry to its collaborators:
// NATS for command intake and event fan-out, Redis-backed profile, block and
// stat stores, and the Postgres history log. All store and broker I/O happens
// here, before or after a registry call, never inside one.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bondly/bondly/internal/blocklist"
	"github.com/bondly/bondly/internal/history"
	"github.com/bondly/bondly/internal/messaging"
	"github.com/bondly/bondly/internal/metrics"
	"github.com/bondly/bondly/internal/pairing"
	"github.com/bondly/bondly/internal/profile"
	"github.com/bondly/bondly/internal/stats"
)

// storeTimeout bounds every Redis/Postgres call made on the command path.
const storeTimeout = 3 * time.Second

// Service is the matchmaking service: it consumes pairing commands from NATS,
// drives the registry, and emits the resulting events, stat increments, and
// history rows.
type Service struct {
	registry *pairing.Registry
	nats     *messaging.NATSClient
	profiles *profile.Store
	blocks   *blocklist.Store
	stats    *stats.Store
	history  *history.Store // optional; nil disables the history log

	mu            sync.Mutex
	recentPartner map[int64]int64     // user -> most recent partner, for post-session block/rate
	searchStarted map[int64]time.Time // user -> enqueue time, for wait metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a matchmaking service. The history store may be nil.
func NewService(registry *pairing.Registry, nats *messaging.NATSClient, profiles *profile.Store,
	blocks *blocklist.Store, statsStore *stats.Store, historyStore *history.Store) *Service {

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		registry:      registry,
		nats:          nats,
		profiles:      profiles,
		blocks:        blocks,
		stats:         statsStore,
		history:       historyStore,
		recentPartner: make(map[int64]int64),
		searchStarted: make(map[int64]time.Time),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to the command subjects and launches the sweeper.
func (s *Service) Start() error {
	if err := s.nats.SubscribePairRequest(s.handlePairRequest); err != nil {
		return err
	}
	if err := s.nats.SubscribePairCancel(s.handlePairCancel); err != nil {
		return err
	}
	if err := s.nats.SubscribeSessionSend(s.handleSessionSend); err != nil {
		return err
	}
	if err := s.nats.SubscribeSessionControl(s.handleSessionControl); err != nil {
		return err
	}

	go s.registry.RunSweeper(s.ctx, pairing.SweepHooks{
		OnWaitingEvicted: s.onWaitingEvicted,
		OnSessionEnded:   s.finishSession,
	})

	log.Println("[matchd] service started")
	return nil
}

// Stop cancels the sweeper and background work.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[matchd] service stopped")
}

func (s *Service) handlePairRequest(data []byte) {
	var req PairRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matchd] invalid pair request: %v", err)
		return
	}
	s.startSearch(req.UserID, req.NicknameHint)
}

// startSearch snapshots the user's profile and chat count from Redis, then
// enqueues and immediately attempts a match. Store reads happen before the
// registry call so no I/O runs under the registry lock.
func (s *Service) startSearch(userID int64, nicknameHint string) {
	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()

	rec, err := s.profiles.Ensure(ctx, userID, nicknameHint)
	if err != nil {
		log.Printf("[matchd] profile ensure user=%d: %v", userID, err)
		s.publishStatus(userID, PairStatus{Status: StatusRejected, Code: "internal"})
		return
	}

	chats, err := s.stats.ChatCount(ctx, userID)
	if err != nil {
		log.Printf("[matchd] chat count user=%d: %v", userID, err)
		// Score degrades gracefully with a zero count; keep going.
	}

	if err := s.registry.Enqueue(pairing.UserID(userID), rec.Snapshot(), chats); err != nil {
		s.publishStatus(userID, PairStatus{Status: StatusRejected, Code: rejectCode(err)})
		return
	}

	s.mu.Lock()
	s.searchStarted[userID] = time.Now()
	s.mu.Unlock()

	timeout := int(s.registry.Config().WaitingTimeout.Seconds())
	s.publishStatus(userID, PairStatus{Status: StatusSearching, Timeout: timeout})
	metrics.WaitingPoolSize.Set(float64(s.registry.WaitingCount()))

	match, err := s.registry.Match(pairing.UserID(userID))
	if err != nil {
		// The entry vanished between Enqueue and Match (cancel racing in) —
		// nothing to announce.
		log.Printf("[matchd] match user=%d: %v", userID, err)
		return
	}
	if match != nil {
		s.announceMatch(match)
	}
}

func (s *Service) handlePairCancel(data []byte) {
	var req PairCancel
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matchd] invalid cancel request: %v", err)
		return
	}

	s.registry.Dequeue(pairing.UserID(req.UserID))
	s.mu.Lock()
	delete(s.searchStarted, req.UserID)
	s.mu.Unlock()

	s.publishStatus(req.UserID, PairStatus{Status: StatusCancelled})
	metrics.WaitingPoolSize.Set(float64(s.registry.WaitingCount()))
	log.Printf("[matchd] search cancelled user=%d", req.UserID)
}

// announceMatch emits everything a fresh match owes the outside world: wait
// and score metrics, chat counters for both users, and a pair.found event to
// each side carrying the other's public profile.
func (s *Service) announceMatch(m *pairing.Match) {
	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()

	userA, userB := int64(m.UserA), int64(m.UserB)

	now := time.Now()
	s.mu.Lock()
	for _, u := range []int64{userA, userB} {
		if started, ok := s.searchStarted[u]; ok {
			metrics.MatchWaitSeconds.Observe(now.Sub(started).Seconds())
			delete(s.searchStarted, u)
		}
	}
	s.recentPartner[userA] = userB
	s.recentPartner[userB] = userA
	s.mu.Unlock()

	metrics.MatchesTotal.Inc()
	metrics.MatchScore.Observe(float64(m.Score))
	metrics.WaitingPoolSize.Set(float64(s.registry.WaitingCount()))
	metrics.ActiveSessions.Set(float64(s.registry.ActiveSessions()))

	for _, u := range []int64{userA, userB} {
		if err := s.stats.ChatStarted(ctx, u); err != nil {
			log.Printf("[matchd] chat started counter user=%d: %v", u, err)
		}
	}

	s.publishFound(userA, PairFound{
		SessionID:       uint64(m.SessionID),
		PartnerNickname: m.ProfileB.Nickname,
		PartnerGender:   string(m.ProfileB.Gender),
		Score:           m.Score,
	})
	s.publishFound(userB, PairFound{
		SessionID:       uint64(m.SessionID),
		PartnerNickname: m.ProfileA.Nickname,
		PartnerGender:   string(m.ProfileA.Gender),
		Score:           m.Score,
	})

	log.Printf("[matchd] matched %d and %d session=%d score=%d", userA, userB, m.SessionID, m.Score)
}

func (s *Service) handleSessionSend(data []byte) {
	var msg SessionSend
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[matchd] invalid session send: %v", err)
		return
	}

	user := pairing.UserID(msg.UserID)
	sid, _, err := s.registry.GetSession(user)
	if err != nil {
		s.publishStatus(msg.UserID, PairStatus{Status: StatusRejected, Code: rejectCode(err)})
		return
	}

	isMedia := msg.Media != ""
	s.registry.RecordMessage(sid, user, isMedia)

	partner, err := s.registry.Partner(sid, user)
	if err != nil {
		// Session ended between GetSession and Partner.
		return
	}

	relay, err := json.Marshal(SessionRelay{Text: msg.Text, Media: msg.Media, Ts: time.Now().Unix()})
	if err != nil {
		log.Printf("[matchd] marshal relay: %v", err)
		return
	}
	if err := s.nats.PublishSessionRelay(int64(partner.UserID), relay); err != nil {
		log.Printf("[matchd] relay to user=%d: %v", partner.UserID, err)
	}

	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()

	sentCounter := stats.MessagesSent
	msgType := "text"
	if isMedia {
		sentCounter = stats.MediaSent
		msgType = "media"
	}
	metrics.MessagesTotal.WithLabelValues(msgType).Inc()

	if err := s.stats.Increment(ctx, msg.UserID, sentCounter, 1); err != nil {
		log.Printf("[matchd] sent counter user=%d: %v", msg.UserID, err)
	}
	if err := s.stats.Increment(ctx, int64(partner.UserID), stats.MessagesReceived, 1); err != nil {
		log.Printf("[matchd] received counter user=%d: %v", partner.UserID, err)
	}
}

func (s *Service) handleSessionControl(data []byte) {
	var cmd SessionControl
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Printf("[matchd] invalid session control: %v", err)
		return
	}

	switch cmd.Action {
	case ActionLeave:
		s.endForUser(cmd.UserID, pairing.ReasonLeft)
	case ActionNext:
		s.endForUser(cmd.UserID, pairing.ReasonNext)
		s.startSearch(cmd.UserID, "")
	case ActionBlock:
		s.blockPartner(cmd.UserID)
	case ActionUnblock:
		s.unblockUser(cmd.UserID, cmd.TargetID)
	case ActionRate:
		s.ratePartner(cmd.UserID, cmd.Positive)
	case ActionDelete:
		s.deleteAccount(cmd.UserID)
	case ActionDisconnect:
		s.DisconnectUser(cmd.UserID)
	default:
		log.Printf("[matchd] unknown control action %q user=%d", cmd.Action, cmd.UserID)
	}
}

// endForUser ends the user's active session, if any, and performs the
// post-end bookkeeping. Returns the final record, or nil when the user had
// no active session.
func (s *Service) endForUser(userID int64, reason string) *pairing.FinalRecord {
	rec := s.registry.EndSessionFor(pairing.UserID(userID), reason)
	if rec == nil {
		return nil
	}
	s.finishSession(rec)
	return rec
}

// blockPartner ends the current session with reason "blocked" (when one is
// active) and records a block against the current or most recent partner.
func (s *Service) blockPartner(userID int64) {
	var partner int64
	if rec := s.endForUser(userID, pairing.ReasonBlocked); rec != nil {
		partner = otherSide(rec, userID)
	} else {
		s.mu.Lock()
		partner = s.recentPartner[userID]
		s.mu.Unlock()
	}
	if partner == 0 {
		s.publishStatus(userID, PairStatus{Status: StatusRejected, Code: "no_active_session"})
		return
	}

	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()

	nickname := ""
	if rec, err := s.profiles.Get(ctx, partner); err == nil {
		nickname = rec.Nickname
	}
	if err := s.blocks.Block(ctx, userID, partner, nickname); err != nil {
		log.Printf("[matchd] block %d -> %d: %v", userID, partner, err)
		return
	}
	log.Printf("[matchd] user %d blocked %d", userID, partner)
}

// unblockUser removes target from the user's blocked list. Unblocks are routed
// through matchd rather than written to Redis by the gateway so the in-process
// block mirror stays current without a restart.
func (s *Service) unblockUser(userID, target int64) {
	if target == 0 {
		s.publishStatus(userID, PairStatus{Status: StatusRejected, Code: "invalid_target"})
		return
	}

	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()

	removed, err := s.blocks.Unblock(ctx, userID, target)
	if err != nil {
		log.Printf("[matchd] unblock %d -> %d: %v", userID, target, err)
		s.publishStatus(userID, PairStatus{Status: StatusRejected, Code: "internal"})
		return
	}
	if removed {
		log.Printf("[matchd] user %d unblocked %d", userID, target)
	}
	// Acked even when the entry was already gone; the client outcome is the
	// same either way.
	s.publishStatus(userID, PairStatus{Status: StatusUnblocked, TargetID: target})
}

// ratePartner applies a thumbs up/down to the most recent partner.
func (s *Service) ratePartner(userID int64, positive bool) {
	s.mu.Lock()
	partner := s.recentPartner[userID]
	s.mu.Unlock()
	if partner == 0 {
		s.publishStatus(userID, PairStatus{Status: StatusRejected, Code: "no_active_session"})
		return
	}

	counter := stats.RatingsNegative
	if positive {
		counter = stats.RatingsPositive
	}

	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()
	if err := s.stats.Increment(ctx, partner, counter, 1); err != nil {
		log.Printf("[matchd] rate user=%d: %v", partner, err)
	}
}

// deleteAccount ends any active session, removes the user from the waiting
// pool, and erases their profile, stats, and outbound blocks. Blocks other
// users hold against them are kept.
func (s *Service) deleteAccount(userID int64) {
	s.endForUser(userID, pairing.ReasonAccountDeleted)
	s.registry.Dequeue(pairing.UserID(userID))

	s.mu.Lock()
	delete(s.recentPartner, userID)
	delete(s.searchStarted, userID)
	s.mu.Unlock()

	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()

	if err := s.profiles.Delete(ctx, userID); err != nil {
		log.Printf("[matchd] delete profile user=%d: %v", userID, err)
	}
	if err := s.stats.Delete(ctx, userID); err != nil {
		log.Printf("[matchd] delete stats user=%d: %v", userID, err)
	}
	if err := s.blocks.DeleteAll(ctx, userID); err != nil {
		log.Printf("[matchd] delete blocks user=%d: %v", userID, err)
	}

	metrics.WaitingPoolSize.Set(float64(s.registry.WaitingCount()))
	log.Printf("[matchd] account deleted user=%d", userID)
}

// DisconnectUser ends the user's session with reason "disconnected" and drops
// any waiting entry. Gateways publish a "disconnect" control when a client
// connection is lost.
func (s *Service) DisconnectUser(userID int64) {
	s.endForUser(userID, pairing.ReasonDisconnected)
	s.registry.Dequeue(pairing.UserID(userID))
	s.mu.Lock()
	delete(s.searchStarted, userID)
	s.mu.Unlock()
	metrics.WaitingPoolSize.Set(float64(s.registry.WaitingCount()))
}

// finishSession runs once per ended session, regardless of which path ended
// it: duration counters for both users, a history row, end metrics, and a
// session.ended event to each side carrying its own message count.
func (s *Service) finishSession(rec *pairing.FinalRecord) {
	userA, userB := int64(rec.UserA), int64(rec.UserB)

	s.mu.Lock()
	s.recentPartner[userA] = userB
	s.recentPartner[userB] = userA
	s.mu.Unlock()

	metrics.SessionsEndedTotal.WithLabelValues(rec.Reason).Inc()
	metrics.SessionDurationSeconds.Observe(rec.Duration.Seconds())
	metrics.ActiveSessions.Set(float64(s.registry.ActiveSessions()))

	ctx, cancelCtx := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelCtx()

	seconds := int64(rec.Duration.Seconds())
	for _, u := range []int64{userA, userB} {
		if err := s.stats.Increment(ctx, u, stats.TotalChatDuration, seconds); err != nil {
			log.Printf("[matchd] duration counter user=%d: %v", u, err)
		}
	}

	if s.history != nil {
		if _, err := s.history.Append(ctx, rec); err != nil {
			log.Printf("[matchd] history append session=%d: %v", rec.SessionID, err)
		}
	}

	s.publishEnded(userA, SessionEnded{
		Reason:          rec.Reason,
		DurationSeconds: seconds,
		Messages:        int64(rec.MessagesA),
	})
	s.publishEnded(userB, SessionEnded{
		Reason:          rec.Reason,
		DurationSeconds: seconds,
		Messages:        int64(rec.MessagesB),
	})

	log.Printf("[matchd] session %d ended reason=%s duration=%s messages=%d",
		rec.SessionID, rec.Reason, rec.Duration.Round(time.Second), rec.MessagesA+rec.MessagesB)
}

// onWaitingEvicted notifies a user whose search timed out.
func (s *Service) onWaitingEvicted(user pairing.UserID) {
	userID := int64(user)

	var waited int64
	s.mu.Lock()
	if started, ok := s.searchStarted[userID]; ok {
		waited = int64(time.Since(started).Seconds())
		delete(s.searchStarted, userID)
	}
	s.mu.Unlock()

	metrics.WaitingPoolSize.Set(float64(s.registry.WaitingCount()))

	data, err := json.Marshal(WaitingEvicted{WaitedSeconds: waited})
	if err != nil {
		return
	}
	if err := s.nats.PublishWaitingEvicted(userID, data); err != nil {
		log.Printf("[matchd] evicted notify user=%d: %v", userID, err)
	}
}

func (s *Service) publishStatus(userID int64, status PairStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.nats.PublishPairStatus(userID, data); err != nil {
		log.Printf("[matchd] status to user=%d: %v", userID, err)
	}
}

func (s *Service) publishFound(userID int64, found PairFound) {
	data, err := json.Marshal(found)
	if err != nil {
		return
	}
	if err := s.nats.PublishPairFound(userID, data); err != nil {
		log.Printf("[matchd] pair found to user=%d: %v", userID, err)
	}
}

func (s *Service) publishEnded(userID int64, ended SessionEnded) {
	data, err := json.Marshal(ended)
	if err != nil {
		return
	}
	if err := s.nats.PublishSessionEnded(userID, data); err != nil {
		log.Printf("[matchd] session ended to user=%d: %v", userID, err)
	}
}

// otherSide returns the participant in rec that is not userID.
func otherSide(rec *pairing.FinalRecord, userID int64) int64 {
	if int64(rec.UserA) == userID {
		return int64(rec.UserB)
	}
	return int64(rec.UserA)
}

// rejectCode maps registry errors to wire error codes.
func rejectCode(err error) string {
	switch {
	case errors.Is(err, pairing.ErrAlreadySearching):
		return "already_searching"
	case errors.Is(err, pairing.ErrAlreadyInSession):
		return "already_in_session"
	case errors.Is(err, pairing.ErrNotSearching):
		return "not_searching"
	case errors.Is(err, pairing.ErrNoActiveSession):
		return "no_active_session"
	default:
		return "internal"
	}
}
