package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients tracks the number of live websocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gigstream_connected_clients",
		Help: "Current number of live websocket connections",
	})

	// MessagesPersisted tracks successful message inserts by path.
	// path: rpc (send() function) or direct (fallback insert).
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigstream_messages_persisted_total",
		Help: "Messages persisted to the durable log by insert path",
	}, []string{"path"})

	// PersistFailures tracks failed insert attempts by path. A rising rpc
	// count with a flat direct count means the preferred path is degraded.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigstream_persist_failures_total",
		Help: "Failed message insert attempts by insert path",
	}, []string{"path"})

	// PersistLatency tracks end-to-end message persistence latency.
	PersistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gigstream_persist_latency_seconds",
		Help:    "Message persistence latency including fallback attempts",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// BroadcastFrames tracks frames delivered through local fan-out.
	// source: publish (direct path) or feed (change-feed redrive).
	BroadcastFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigstream_broadcast_frames_total",
		Help: "Frames delivered to local connections by delivery source",
	}, []string{"source"})

	// BroadcastErrors tracks per-recipient send failures during fan-out.
	BroadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigstream_broadcast_errors_total",
		Help: "Per-recipient send failures during fan-out (recipient skipped)",
	})

	// FeedEvents tracks change-feed notifications by outcome.
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigstream_feed_events_total",
		Help: "Change-feed notifications by outcome",
	}, []string{"result"}) // delivered, no_listeners, decode_error

	// FeedReconnects tracks change-feed listener reconnect attempts.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigstream_feed_reconnects_total",
		Help: "Change-feed listener reconnect attempts",
	})

	// RateLimitedFrames tracks inbound frames dropped by the per-principal limiter.
	RateLimitedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigstream_rate_limited_frames_total",
		Help: "Inbound websocket frames dropped by the rate limiter",
	})

	// AuthCacheHits tracks token verifications served from the Redis cache.
	AuthCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigstream_auth_cache_total",
		Help: "Token verification cache lookups by outcome",
	}, []string{"outcome"}) // hit, miss
)
