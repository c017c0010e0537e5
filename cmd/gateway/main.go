package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bondly/bondly/internal/blocklist"
	"github.com/bondly/bondly/internal/messaging"
	"github.com/bondly/bondly/internal/metrics"
	"github.com/bondly/bondly/internal/profile"
	"github.com/bondly/bondly/internal/protocol"
	"github.com/bondly/bondly/internal/ratelimit"
	"github.com/bondly/bondly/internal/service"
	"github.com/bondly/bondly/internal/stats"
	"github.com/bondly/bondly/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "bondly-gateway"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	pingCancel()

	profiles := profile.NewStoreWithClient(rdb)
	statsStore := stats.NewStore(rdb)
	blocks := blocklist.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)

	log.Printf("Bondly gateway starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	// Declare server early so closures can capture it.
	var server *ws.Server

	send := func(userID int64, msgType string, payload interface{}) {
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("[gateway] build %s for user=%d: %v", msgType, userID, err)
			return
		}
		if err := server.SendMessage(userID, data); err != nil {
			log.Printf("[gateway] send %s to user=%d: %v", msgType, userID, err)
		}
	}

	sendError := func(conn *ws.Connection, code, message string) {
		data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: code, Message: message,
		})
		if err != nil {
			return
		}
		_ = conn.WriteMessage(data)
	}

	publishControl := func(userID int64, action string, positive bool) {
		data, err := json.Marshal(service.SessionControl{UserID: userID, Action: action, Positive: positive})
		if err != nil {
			return
		}
		if err := natsClient.PublishSessionControl(data); err != nil {
			log.Printf("[gateway] publish %s for user=%d: %v", action, userID, err)
		}
	}

	// subscribeUserEvents wires the per-user matchd event subjects to the
	// user's WebSocket connection. Called once per connection.
	subscribeUserEvents := func(userID int64) {
		_ = natsClient.SubscribePairStatus(userID, func(data []byte) {
			var status service.PairStatus
			if err := json.Unmarshal(data, &status); err != nil {
				return
			}
			switch status.Status {
			case service.StatusSearching:
				send(userID, protocol.TypeSearching, protocol.SearchingMsg{Timeout: status.Timeout})
			case service.StatusRejected:
				send(userID, protocol.TypeError, protocol.ErrorMsg{Code: status.Code, Message: "request rejected"})
			case service.StatusUnblocked:
				send(userID, protocol.TypeUnblocked, protocol.UnblockedMsg{UserID: status.TargetID})
			}
			// Cancelled is client-initiated; no echo needed.
		})

		_ = natsClient.SubscribePairFound(userID, func(data []byte) {
			var found service.PairFound
			if err := json.Unmarshal(data, &found); err != nil {
				return
			}
			send(userID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
				SessionID:       found.SessionID,
				PartnerNickname: found.PartnerNickname,
				PartnerGender:   found.PartnerGender,
				Score:           found.Score,
			})
		})

		_ = natsClient.SubscribeSessionRelay(userID, func(data []byte) {
			var relay service.SessionRelay
			if err := json.Unmarshal(data, &relay); err != nil {
				return
			}
			send(userID, protocol.TypePartnerMessage, protocol.PartnerMessageMsg{
				Text:  relay.Text,
				Media: relay.Media,
				Ts:    relay.Ts,
			})
		})

		_ = natsClient.SubscribeSessionEnded(userID, func(data []byte) {
			var ended service.SessionEnded
			if err := json.Unmarshal(data, &ended); err != nil {
				return
			}
			send(userID, protocol.TypeSessionEnded, protocol.SessionEndedMsg{
				Reason:   ended.Reason,
				Duration: ended.DurationSeconds,
				Messages: ended.Messages,
			})
		})

		_ = natsClient.SubscribeWaitingEvicted(userID, func(data []byte) {
			send(userID, protocol.TypeSearchEvicted, protocol.SearchEvictedMsg{})
		})
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// find_partner — enter the waiting pool
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeFindPartner, func(conn *ws.Connection, msg interface{}) {
		ctx := context.Background()
		uid := strconv.FormatInt(conn.UserID, 10)

		allowed, _ := limiter.Allow(ctx, uid, ratelimit.RuleSearch)
		if !allowed {
			data, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleSearch.Window.Seconds()),
			})
			_ = conn.WriteMessage(data)
			return
		}

		req, _ := json.Marshal(service.PairRequest{UserID: conn.UserID})
		if err := natsClient.PublishPairRequest(req); err != nil {
			log.Printf("[gateway] publish pair request user=%d: %v", conn.UserID, err)
			sendError(conn, protocol.CodeInternal, "search unavailable")
			return
		}
		log.Printf("find_partner from user=%d", conn.UserID)
	})

	// -----------------------------------------------------------------------
	// cancel_search — leave the waiting pool
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCancelSearch, func(conn *ws.Connection, msg interface{}) {
		req, _ := json.Marshal(service.PairCancel{UserID: conn.UserID})
		if err := natsClient.PublishPairCancel(req); err != nil {
			log.Printf("[gateway] publish cancel user=%d: %v", conn.UserID, err)
		}
		log.Printf("cancel_search from user=%d", conn.UserID)
	})

	// -----------------------------------------------------------------------
	// message — send a chat message to the current partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		if chatMsg.Text == "" && chatMsg.Media == "" {
			sendError(conn, "invalid_message", "empty message")
			return
		}

		ctx := context.Background()
		uid := strconv.FormatInt(conn.UserID, 10)
		allowed, _ := limiter.Allow(ctx, uid, ratelimit.RuleMessage)
		if !allowed {
			data, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
			})
			_ = conn.WriteMessage(data)
			return
		}

		payload, _ := json.Marshal(service.SessionSend{
			UserID: conn.UserID,
			Text:   chatMsg.Text,
			Media:  chatMsg.Media,
		})
		if err := natsClient.PublishSessionSend(payload); err != nil {
			log.Printf("[gateway] publish message user=%d: %v", conn.UserID, err)
		}
	})

	// -----------------------------------------------------------------------
	// leave / next / block — session controls forwarded to matchd
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeave, func(conn *ws.Connection, msg interface{}) {
		publishControl(conn.UserID, service.ActionLeave, false)
		log.Printf("leave from user=%d", conn.UserID)
	})

	dispatcher.Register(protocol.TypeNext, func(conn *ws.Connection, msg interface{}) {
		publishControl(conn.UserID, service.ActionNext, false)
		log.Printf("next from user=%d", conn.UserID)
	})

	dispatcher.Register(protocol.TypeBlock, func(conn *ws.Connection, msg interface{}) {
		publishControl(conn.UserID, service.ActionBlock, false)
		log.Printf("block from user=%d", conn.UserID)
	})

	// -----------------------------------------------------------------------
	// unblock / blocked_list — blocked-list management. Listing reads Redis
	// directly; unblocking goes through matchd so its block mirror stays
	// current.
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeUnblock, func(conn *ws.Connection, msg interface{}) {
		unblockMsg, ok := msg.(protocol.UnblockMsg)
		if !ok || unblockMsg.UserID <= 0 {
			sendError(conn, "invalid_target", "missing or invalid user_id")
			return
		}
		data, err := json.Marshal(service.SessionControl{
			UserID:   conn.UserID,
			Action:   service.ActionUnblock,
			TargetID: unblockMsg.UserID,
		})
		if err != nil {
			return
		}
		if err := natsClient.PublishSessionControl(data); err != nil {
			log.Printf("[gateway] publish unblock user=%d: %v", conn.UserID, err)
		}
		log.Printf("unblock from user=%d target=%d", conn.UserID, unblockMsg.UserID)
	})

	dispatcher.Register(protocol.TypeBlockedList, func(conn *ws.Connection, msg interface{}) {
		ctx, cancelCtx := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancelCtx()

		entries, err := blocks.List(ctx, conn.UserID)
		if err != nil {
			sendError(conn, protocol.CodeInternal, "blocked list unavailable")
			return
		}

		out := make([]protocol.BlockedEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, protocol.BlockedEntry{
				UserID:    e.BlockedID,
				Nickname:  e.Nickname,
				BlockedAt: e.BlockedAt,
			})
		}
		data, _ := protocol.NewServerMessage(protocol.TypeBlockedListResult, protocol.BlockedListResultMsg{
			Blocked: out,
		})
		_ = conn.WriteMessage(data)
	})

	// -----------------------------------------------------------------------
	// rate — thumbs up/down for the most recent partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRate, func(conn *ws.Connection, msg interface{}) {
		rateMsg, ok := msg.(protocol.RateMsg)
		if !ok {
			return
		}
		publishControl(conn.UserID, service.ActionRate, rateMsg.Positive)
	})

	// -----------------------------------------------------------------------
	// stats — the user's own counters, read straight from Redis
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStats, func(conn *ws.Connection, msg interface{}) {
		ctx, cancelCtx := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancelCtx()

		counters, err := statsStore.Get(ctx, conn.UserID)
		if err != nil {
			sendError(conn, protocol.CodeInternal, "stats unavailable")
			return
		}

		data, _ := protocol.NewServerMessage(protocol.TypeStatsResult, protocol.StatsResultMsg{
			ChatsStarted:  counters.ChatsStarted,
			ChatsToday:    counters.ChatsToday,
			MessagesSent:  counters.MessagesSent,
			MediaSent:     counters.MediaSent,
			TotalDuration: counters.TotalChatDuration,
			RatingUp:      counters.RatingsPositive,
			RatingDown:    counters.RatingsNegative,
		})
		_ = conn.WriteMessage(data)
	})

	// -----------------------------------------------------------------------
	// set_profile — update nickname, gender, or search filter
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSetProfile, func(conn *ws.Connection, msg interface{}) {
		profMsg, ok := msg.(protocol.SetProfileMsg)
		if !ok {
			return
		}
		ctx, cancelCtx := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancelCtx()

		if _, err := profiles.Ensure(ctx, conn.UserID, profMsg.Nickname); err != nil {
			sendError(conn, protocol.CodeInternal, "profile unavailable")
			return
		}

		if profMsg.Nickname != "" {
			if err := profiles.SetNickname(ctx, conn.UserID, profMsg.Nickname); err != nil {
				sendError(conn, protocol.CodeInvalidProfile, "invalid nickname")
				return
			}
		}
		if profMsg.Gender != "" {
			if err := profiles.SetGender(ctx, conn.UserID, profMsg.Gender); err != nil {
				sendError(conn, protocol.CodeInvalidProfile, "invalid gender")
				return
			}
		}
		if profMsg.Filter != "" {
			if err := profiles.SetFilter(ctx, conn.UserID, profMsg.Filter); err != nil {
				sendError(conn, protocol.CodeInvalidProfile, "invalid filter")
				return
			}
		}

		rec, err := profiles.Get(ctx, conn.UserID)
		if err != nil {
			sendError(conn, protocol.CodeInternal, "profile unavailable")
			return
		}
		data, _ := protocol.NewServerMessage(protocol.TypeProfileUpdated, protocol.ProfileUpdatedMsg{
			Nickname: rec.Nickname,
			Gender:   rec.Gender,
			Filter:   rec.Filter,
		})
		_ = conn.WriteMessage(data)
		log.Printf("set_profile from user=%d", conn.UserID)
	})

	// -----------------------------------------------------------------------
	// delete_me — erase the account and close the connection
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeDeleteMe, func(conn *ws.Connection, msg interface{}) {
		publishControl(conn.UserID, service.ActionDelete, false)
		log.Printf("delete_me from user=%d", conn.UserID)
		server.RemoveConnection(conn)
	})

	server = ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Per-IP connection rate limiting at upgrade time.
	server.SetAuthorize(func(r *http.Request) (int64, bool) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil || userID <= 0 {
			return 0, false
		}

		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			ip = r.RemoteAddr
		}
		ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelCtx()
		allowed, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		return userID, allowed
	})

	server.SetOnConnect(func(conn *ws.Connection) {
		subscribeUserEvents(conn.UserID)
		metrics.ConnectionsTotal.Set(float64(server.Connections().Count()))
	})

	server.SetOnDisconnect(func(userID int64) {
		natsClient.UnsubscribeUser(userID)
		publishControl(userID, service.ActionDisconnect, false)
		metrics.ConnectionsTotal.Set(float64(server.Connections().Count()))
		log.Printf("disconnect cleanup for user=%d", userID)
	})

	// Prometheus metrics endpoint.
	metricsAddr := ":9091"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
