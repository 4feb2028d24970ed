package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/mezonai/stakepool/config"
	"github.com/mezonai/stakepool/exception"
	"github.com/mezonai/stakepool/utils"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	MaxRequests     int           // Maximum number of requests allowed
	WindowSize      time.Duration // Time window for rate limiting
	CleanupInterval time.Duration // How often to clean up expired entries
}

// DefaultConfig returns a default configuration
func DefaultConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		MaxRequests:     config.DefaultRateLimitRequests,
		WindowSize:      config.DefaultRateLimitWindow * time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

// FromNodeConfig builds the per-IP limit from the [ratelimit] section.
// It returns nil when limiting is disabled.
func FromNodeConfig(c config.RateLimitConfig) *RateLimiterConfig {
	if !c.Enabled {
		return nil
	}
	cfg := DefaultConfig()
	cfg.MaxRequests = c.MaxRequests
	cfg.WindowSize = time.Duration(c.WindowSeconds) * time.Second
	return cfg
}

// RateLimiter implements sliding window rate limiting per key.
type RateLimiter struct {
	config      *RateLimiterConfig
	clock       utils.Clock
	requests    map[string][]time.Time
	mu          sync.Mutex
	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(cfg *RateLimiterConfig, clock utils.Clock) *RateLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	rl := &RateLimiter{
		config:      cfg,
		clock:       clock,
		requests:    make(map[string][]time.Time),
		stopCleanup: make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		exception.SafeGo("RateLimiterCleanup", rl.cleanupExpiredEntries)
	}
	return rl
}

// Allow records a request for key and reports whether it is within the
// limit. A rejected request is not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.Reserve(key)
	return ok
}

// Reserve is Allow that also reports how long until the oldest request in
// the window expires, which is when the next one would be admitted.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	valid := rl.prune(key, now)
	if len(valid) >= rl.config.MaxRequests {
		rl.requests[key] = valid
		return false, valid[0].Add(rl.config.WindowSize).Sub(now)
	}
	rl.requests[key] = append(valid, now)
	return true, 0
}

// prune drops timestamps that fell out of the window. Caller holds mu.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.config.WindowSize)
	requests := rl.requests[key]
	i := 0
	for i < len(requests) && !requests[i].After(cutoff) {
		i++
	}
	return requests[i:]
}

// GetStats returns the number of requests in the current window for key.
func (rl *RateLimiter) GetStats(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.prune(key, rl.clock.Now()))
}

// Reset removes all entries for a given key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.requests, key)
}

func (rl *RateLimiter) cleanupExpiredEntries() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key := range rl.requests {
		if valid := rl.prune(key, now); len(valid) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = valid
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// RateLimitError represents a rate limit error
type RateLimitError struct {
	Type       string
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s '%s', retry in %s", e.Type, e.Key, e.RetryAfter.Round(time.Second))
}

// RequestLimiter applies one limit per client IP and a second one per
// signing actor, so that one key cannot spread requests over many IPs.
type RequestLimiter struct {
	ip    *RateLimiter
	actor *RateLimiter
}

// NewRequestLimiter uses cfg for IPs and the same window at half the
// budget for actors.
func NewRequestLimiter(cfg *RateLimiterConfig, clock utils.Clock) *RequestLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	actorCfg := *cfg
	actorCfg.MaxRequests = max(1, cfg.MaxRequests/2)
	return &RequestLimiter{
		ip:    NewRateLimiter(cfg, clock),
		actor: NewRateLimiter(&actorCfg, clock),
	}
}

// CheckIP returns a *RateLimitError when ip is over its budget.
func (l *RequestLimiter) CheckIP(ip string) error {
	if ok, wait := l.ip.Reserve(ip); !ok {
		return &RateLimitError{Type: "ip", Key: ip, RetryAfter: wait}
	}
	return nil
}

// CheckActor returns a *RateLimitError when actor is over its budget.
func (l *RequestLimiter) CheckActor(actor string) error {
	if ok, wait := l.actor.Reserve(actor); !ok {
		return &RateLimitError{Type: "actor", Key: actor, RetryAfter: wait}
	}
	return nil
}

func (l *RequestLimiter) Stop() {
	l.ip.Stop()
	l.actor.Stop()
}
