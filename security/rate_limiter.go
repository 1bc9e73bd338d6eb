package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepInterval = time.Minute
	idleEviction  = 5 * time.Minute
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	Window            time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key. Buckets idle longer than
// idleEviction are dropped by a background sweep so the map stays bounded.
type RateLimiter struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	stop    chan struct{}
}

func CreateRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) Allow(key string, config RateLimitConfig) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, ok := rl.clients[key]
	if !ok {
		client = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		}
		rl.clients[key] = client
	}
	client.lastSeen = time.Now()

	return client.limiter.Allow()
}

// GetStats reports the remaining tokens for a key, how long ago it was last
// seen, and whether the key has a bucket at all.
func (rl *RateLimiter) GetStats(key string) (int, time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, ok := rl.clients[key]
	if !ok {
		return 0, 0, false
	}

	return int(client.limiter.Tokens()), time.Since(client.lastSeen), true
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-idleEviction)
	for key, client := range rl.clients {
		if client.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) Close() {
	close(rl.stop)
}

// TieredRateLimiter applies a per-tier limit schedule. Unknown tiers fall
// back to the "default" entry.
type TieredRateLimiter struct {
	tiers map[string]RateLimitConfig
	rl    *RateLimiter
}

func CreateTieredRateLimiter(tiers map[string]RateLimitConfig) *TieredRateLimiter {
	return &TieredRateLimiter{
		tiers: tiers,
		rl:    CreateRateLimiter(),
	}
}

func (trl *TieredRateLimiter) Allow(key, tier string) bool {
	config, ok := trl.tiers[tier]
	if !ok {
		config = trl.tiers["default"]
	}

	return trl.rl.Allow(key, config)
}

func (trl *TieredRateLimiter) GetStats(key string) (int, time.Duration, bool) {
	return trl.rl.GetStats(key)
}

func (trl *TieredRateLimiter) Close() {
	trl.rl.Close()
}
