package hub

import (
	"sync"
	"time"
)

// RateLimiter implements per-connection rate limiting
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientLimit
	now     func() time.Time
}

// clientLimit tracks one connection's current window
type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows perMinute events per connection. Zero or less disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   perMinute,
		window:  time.Minute,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow reports whether the connection may send one more event
func (rl *RateLimiter) Allow(connID string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients[connID]
	if !exists {
		// FUNCTIONAL DISCOVERY: First message always allowed, initialize tracking
		rl.clients[connID] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: Fixed window resets exactly every minute
	if now.Sub(client.windowStart) >= rl.window {
		client.count = 1
		client.windowStart = now
		return true
	}

	if client.count >= rl.limit {
		return false
	}
	client.count++
	return true
}

// Forget drops the state of a closed connection
func (rl *RateLimiter) Forget(connID string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.clients, connID)
	rl.mu.Unlock()
}

// Cleanup removes entries idle for five windows
func (rl *RateLimiter) Cleanup() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for connID, client := range rl.clients {
		if now.Sub(client.windowStart) > 5*rl.window {
			delete(rl.clients, connID)
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
