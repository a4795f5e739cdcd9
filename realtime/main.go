package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gigstream/gigstream/realtime/auth"
	"github.com/gigstream/gigstream/realtime/feed"
	"github.com/gigstream/gigstream/realtime/middleware"
	"github.com/gigstream/gigstream/realtime/store"
	"github.com/gigstream/gigstream/realtime/subscription"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	// Storage backend. Without a database the service still runs for local
	// dev, but messages are ephemeral and the change feed is off.
	var (
		s      store.Store
		bridge *feed.Bridge
	)
	hub := NewHub()

	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		pg, err := store.NewPostgresStore(ctx, connString)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pg.Close()
		log.Printf("Connected to Postgres message log")
		s = pg
		bridge = feed.NewBridge(connString, hub)
	} else {
		log.Printf("DATABASE_URL not set. Using in-memory store (single-node dev mode, no change feed)")
		s = store.NewMemoryStore()
	}

	// Token verification, optionally fronted by a Redis cache.
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Printf("WARNING: JWT_SECRET not set. Using insecure default for local dev ONLY.")
		secret = "insecure_default_secret_for_dev_mode_only_32bytes"
	}
	var verifier auth.Verifier
	jwtVerifier, err := auth.NewJWTVerifier([]byte(secret), os.Getenv("JWT_ISSUER"))
	if err != nil {
		log.Fatalf("Invalid JWT_SECRET: %v", err)
	}
	verifier = jwtVerifier

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("Redis unavailable at %s, token cache disabled: %v", redisAddr, err)
		} else {
			log.Printf("Connected to Redis at %s for token verification cache", redisAddr)
			verifier = auth.NewCachingVerifier(jwtVerifier, client)
		}
	}

	publisher := NewPublisher(s, hub)
	subs := subscription.NewManager(s)
	api := NewAPI(s, hub, publisher, subs, verifier)

	if bridge != nil {
		bridge.Start(ctx)
		defer bridge.Stop()
	}

	mux := http.NewServeMux()
	api.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    listenAddr,
		Handler: middleware.CORS(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Realtime messaging service listening on %s", listenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("Realtime messaging service shut down")
}
