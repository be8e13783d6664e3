// Package throttle gates token-endpoint traffic per cache key. A burst of
// concurrent cache misses for the same client and scope set should not
// turn into a burst of identical network requests against the identity
// provider.
package throttle

import (
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines a per-key request budget.
type Config struct {
	// RequestsPerWindow is the number of requests allowed in the window.
	RequestsPerWindow int
	// Window is the budget window.
	Window time.Duration
	// Burst allows temporary bursts above the steady rate.
	Burst int
}

// DefaultTokenRequests budgets token-endpoint calls per (client, scope)
// key. Ten per minute is far above what a healthy cache produces, so
// hitting it indicates a retry loop.
// Override with: THROTTLE_TOKEN_REQUESTS, THROTTLE_TOKEN_WINDOW_SEC, THROTTLE_TOKEN_BURST
var DefaultTokenRequests = Config{
	RequestsPerWindow: 10,
	Window:            time.Minute,
	Burst:             10,
}

func init() {
	DefaultTokenRequests = ParseConfigFromEnv("TOKEN", DefaultTokenRequests)
}

// ParseConfigFromEnv reads a throttle configuration from environment
// variables following the pattern THROTTLE_{prefix}_{field}.
func ParseConfigFromEnv(prefix string, defaultConfig Config) Config {
	config := defaultConfig

	if val := os.Getenv("THROTTLE_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}
	if val := os.Getenv("THROTTLE_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}
	if val := os.Getenv("THROTTLE_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// Gate tracks one limiter per key. Keys are arbitrary strings; the cache
// manager passes its access-token cache key so each client+scope pair has
// an independent budget.
type Gate struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
	now         func() time.Time
}

// NewGate builds a Gate from config.
func NewGate(config Config) *Gate {
	return &Gate{
		rate:        rate.Limit(float64(config.RequestsPerWindow) / config.Window.Seconds()),
		burst:       config.Burst,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether a request under key fits the budget right now.
func (g *Gate) Allow(key string) bool {
	return g.limiter(key).Allow()
}

// RetryAfter returns how long until the next request under key would be
// allowed. Zero means it would be allowed immediately.
func (g *Gate) RetryAfter(key string) time.Duration {
	limiter := g.limiter(key)
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

func (g *Gate) limiter(key string) *rate.Limiter {
	if limiter, ok := g.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(g.rate, g.burst)
	actual, _ := g.limiters.LoadOrStore(key, limiter)

	g.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose buckets are full again; a full bucket
// means the key has been idle for at least a window.
func (g *Gate) maybeCleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.now().Sub(g.lastCleanup) < 5*time.Minute {
		return
	}
	g.lastCleanup = g.now()

	g.limiters.Range(func(key, value any) bool {
		limiter := value.(*rate.Limiter)
		if limiter.Tokens() >= float64(g.burst) {
			g.limiters.Delete(key)
		}
		return true
	})
}
