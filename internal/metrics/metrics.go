// Package metrics provides Prometheus instrumentation for the Bondly
// matchmaking platform. It exposes gauges for pool and session sizes,
// counters for matches and messages, and histograms for score and wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bondly_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// WaitingPoolSize tracks the current number of users searching for a partner.
	WaitingPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bondly_waiting_pool_size",
		Help: "Current number of users in the waiting pool",
	})

	// ActiveSessions tracks the current number of active chat sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bondly_active_sessions",
		Help: "Current number of active chat sessions",
	})

	// MatchesTotal counts the total number of matches created.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bondly_matches_total",
		Help: "Total number of matches created",
	})

	// SessionsEndedTotal counts ended sessions labeled by end reason:
	// "left", "next", "blocked", "inactive", "account_deleted", "disconnected".
	SessionsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bondly_sessions_ended_total",
		Help: "Total number of ended sessions by reason",
	}, []string{"reason"})

	// MessagesTotal counts relayed chat messages, labeled by type: "text" or "media".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bondly_messages_total",
		Help: "Total number of relayed chat messages",
	}, []string{"type"}) // type = "text", "media"

	// MatchScore records the compatibility score of created matches.
	MatchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bondly_match_score",
		Help:    "Compatibility score of created matches",
		Buckets: []float64{30, 40, 50, 60, 70, 80, 90, 95},
	})

	// MatchWaitSeconds records the time users spent waiting before a match.
	MatchWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bondly_match_wait_seconds",
		Help:    "Time from search start to match found",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
	})

	// SessionDurationSeconds records how long ended sessions lasted.
	SessionDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bondly_session_duration_seconds",
		Help:    "Duration of ended chat sessions",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		WaitingPoolSize,
		ActiveSessions,
		MatchesTotal,
		SessionsEndedTotal,
		MessagesTotal,
		MatchScore,
		MatchWaitSeconds,
		SessionDurationSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
