package main

import (
	"sync"

	"golang.org/x/time/rate"
)

// principalLimiter rate-limits inbound frames per principal. One bucket per
// principal covers all of their simultaneous connections.
type principalLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

func newPrincipalLimiter(r float64, b int) *principalLimiter {
	return &principalLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

// Allow checks whether the principal may send another frame.
func (l *principalLimiter) Allow(principal string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[principal]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[principal] = limiter
	}

	return limiter.Allow()
}
