package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gigstream/gigstream/realtime/observability"
)

const cacheTTL = 5 * time.Minute

// CachingVerifier fronts another Verifier with a Redis cache keyed by token
// hash. Invalid tokens are never cached, so a rejected token is re-verified
// on every attempt.
type CachingVerifier struct {
	inner  Verifier
	client *redis.Client
}

// NewCachingVerifier wraps inner with a Redis cache.
func NewCachingVerifier(inner Verifier, client *redis.Client) *CachingVerifier {
	return &CachingVerifier{inner: inner, client: client}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:token:" + hex.EncodeToString(sum[:])
}

// Verify returns the cached principal when present, otherwise delegates and
// caches the result. Redis errors degrade to a plain verification.
func (v *CachingVerifier) Verify(ctx context.Context, token string) (string, error) {
	key := cacheKey(token)

	principal, err := v.client.Get(ctx, key).Result()
	if err == nil && principal != "" {
		observability.AuthCacheHits.WithLabelValues("hit").Inc()
		return principal, nil
	}
	observability.AuthCacheHits.WithLabelValues("miss").Inc()

	principal, err = v.inner.Verify(ctx, token)
	if err != nil {
		return "", err
	}

	// Best effort: a failed SET just means the next verify misses again.
	v.client.Set(ctx, key, principal, cacheTTL)
	return principal, nil
}
