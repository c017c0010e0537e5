package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bondly/bondly/internal/blocklist"
	"github.com/bondly/bondly/internal/history"
	"github.com/bondly/bondly/internal/messaging"
	"github.com/bondly/bondly/internal/metrics"
	"github.com/bondly/bondly/internal/pairing"
	"github.com/bondly/bondly/internal/profile"
	"github.com/bondly/bondly/internal/service"
	"github.com/bondly/bondly/internal/stats"
)

func main() {
	log.Println("Starting Bondly matchmaking service...")

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	profiles := profile.NewStoreWithClient(rdb)
	statsStore := stats.NewStore(rdb)

	blocks := blocklist.NewStore(rdb)
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if err := blocks.LoadMirror(ctx); err != nil {
		cancel()
		log.Fatalf("failed to load block mirror: %v", err)
	}
	cancel()

	// Postgres history log (optional).
	var historyStore *history.Store
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn != "" {
		db, err := history.Open(dsn)
		if err != nil {
			log.Fatalf("failed to open history database: %v", err)
		}
		defer db.Close()
		historyStore = history.NewStore(db)
	} else {
		log.Println("POSTGRES_DSN not set, history log disabled")
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "bondly-matchd"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Registry setup.
	pairingConfig := pairing.DefaultConfig()
	if v := os.Getenv("WAITING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			pairingConfig.WaitingTimeout = d
		}
	}
	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			pairingConfig.SessionTimeout = d
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			pairingConfig.SweepInterval = d
		}
	}

	registry := pairing.NewRegistry(pairingConfig, blocks)

	svc := service.NewService(registry, natsClient, profiles, blocks, statsStore, historyStore)
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start matchmaking service: %v", err)
	}

	// Prometheus metrics endpoint.
	metricsAddr := ":9090"
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

	log.Printf("Bondly matchmaking service running")
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  waiting_timeout: %s", pairingConfig.WaitingTimeout)
	log.Printf("  session_timeout: %s", pairingConfig.SessionTimeout)
	log.Printf("  sweep_interval:  %s", pairingConfig.SweepInterval)
	log.Printf("  history_log:     %v", historyStore != nil)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	svc.Stop()
	natsClient.Close()
	rdb.Close()
}
