// Package ratelimit throttles mutating requests per client address.
package ratelimit

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"spendly/internal/log"
)

// Limiter counts requests per client in fixed one-minute windows.
type Limiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	logger       *log.Logger
	now          func() time.Time
	hits         int64

	requestsPerMinute int
	cleanupInterval   time.Duration
	staleAfter        time.Duration
}

type clientInfo struct {
	windowStart time.Time
	lastRequest time.Time
	requests    int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewLimiter creates a rate limiter and starts its cleanup goroutine. Call
// Stop to release it.
func NewLimiter(config Config, logger *log.Logger) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	rl := &Limiter{
		clients:           make(map[string]*clientInfo),
		stopCleanup:       make(chan struct{}),
		logger:            logger.WithComponent(log.ComponentRateLimit),
		now:               time.Now,
		requestsPerMinute: config.RequestsPerMinute,
		cleanupInterval:   config.CleanupInterval,
		staleAfter:        10 * time.Minute,
	}
	go rl.startCleanup()
	return rl
}

// Allow checks if a request from the given IP should be allowed
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients[clientIP]
	if !exists || now.Sub(client.windowStart) >= time.Minute {
		rl.clients[clientIP] = &clientInfo{windowStart: now, lastRequest: now, requests: 1}
		return true
	}

	client.requests++
	client.lastRequest = now
	if client.requests > rl.requestsPerMinute {
		atomic.AddInt64(&rl.hits, 1)
		return false
	}
	return true
}

func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.cleanupStaleEntries(); n > 0 {
				rl.logger.Debug("Removed stale rate limit entries", log.FieldCount, n)
			}
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops clients idle for longer than staleAfter.
func (rl *Limiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.staleAfter)
	removed := 0
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop shuts down the cleanup goroutine. Safe to call more than once.
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	TotalHits   int64
	ClientCount int64
}

// GetMetrics returns current rate limiting metrics
func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalHits:   atomic.LoadInt64(&rl.hits),
		ClientCount: int64(rl.ActiveClients()),
	}
}

// Middleware limits requests whose method is in methods; an empty list limits
// every request. onLimit writes the rejection; nil falls back to a plain 429.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request), methods ...string) func(http.Handler) http.Handler {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(limited) > 0 && !limited[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := extractIP(r)
			if !rl.Allow(clientIP) {
				log.FromContext(r.Context()).Warn("Rate limit exceeded",
					log.FieldClientIP, clientIP, log.FieldPath, r.URL.Path)
				w.Header().Set("Retry-After", "60")
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
