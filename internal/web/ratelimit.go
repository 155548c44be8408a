// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/softfail"
)

const (
	// maxRateLimiters caps the number of tracked clients. When full,
	// the least recently seen client is evicted.
	maxRateLimiters = 10000

	rateLimiterCleanupInterval = 2 * time.Minute
	rateLimiterMaxAge          = 10 * time.Minute
)

// ipRateLimiter holds one token bucket per client address.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(r rate.Limit, burst int, now func() time.Time) *ipRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &ipRateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		rate:     r,
		burst:    burst,
		now:      now,
	}
}

// allow reports whether the client may make one more request now.
func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= maxRateLimiters {
			l.evictOldestLocked()
		}
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) evictOldestLocked() {
	var oldest string
	var oldestSeen time.Time
	for ip, entry := range l.limiters {
		if oldest == "" || entry.lastSeen.Before(oldestSeen) {
			oldest = ip
			oldestSeen = entry.lastSeen
		}
	}
	delete(l.limiters, oldest)
}

// cleanup drops the clients not seen for maxAge and returns how many
// were removed.
func (l *ipRateLimiter) cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cleaned := 0
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > maxAge {
			delete(l.limiters, ip)
			cleaned++
		}
	}
	return cleaned
}

func (l *ipRateLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// startCleanup periodically drops idle clients until ctx is canceled.
// The returned channel is closed when the goroutine has stopped.
func (l *ipRateLimiter) startCleanup(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(rateLimiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.cleanup(rateLimiterMaxAge); n > 0 {
					log.FromContext(ctx).V(1).Info("rate limiter cleanup", "removed", n)
				}
			}
		}
	}()
	return stopped
}

// rateLimit wraps next with the per-client limiter. Script endpoints
// answer with a soft-fail payload, the others with 429.
func (h *Handler) rateLimit(script bool, next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := identity.ClientIP(r.Header, r.RemoteAddr)
		if h.limiter.allow(ip) {
			next(w, r)
			return
		}
		log.FromContext(r.Context()).V(1).Info("request rate limited", "ip", ip, "path", r.URL.Path)
		if script {
			softfail.Write(w, presentError(ErrRateLimited))
			return
		}
		w.Header().Set("Retry-After", "1")
		http.Error(w, presentError(ErrRateLimited).Message, http.StatusTooManyRequests)
	}
}
