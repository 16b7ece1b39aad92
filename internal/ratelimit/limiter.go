// ABOUTME: Keyed token-bucket rate limiting for client addresses and signing identities
// ABOUTME: Idle keys are dropped in the background so the visitor map stays bounded by active clients

package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = time.Minute
	idleTimeout     = 3 * time.Minute
)

// visitor tracks the bucket and last seen time for a key.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a limiter allowing rps requests per second per key with the
// given burst, and starts its cleanup loop. A non-positive rps returns nil,
// and a nil *Limiter allows everything.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	l := newLimiter(rps, burst, time.Now)
	go l.cleanupLoop()
	return l
}

func newLimiter(rps float64, burst int, now func() time.Time) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      now,
		done:     make(chan struct{}),
	}
}

// Allow reports whether a request for key may proceed now, consuming a token
// if so.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

// cleanup removes keys idle for longer than idleTimeout.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > idleTimeout {
			delete(l.visitors, key)
		}
	}
}

// Close stops the cleanup loop. It is safe to call multiple times and on nil.
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}

// ClientAddr returns the remote IP of r without its port.
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return host
}
