// ABOUTME: Tests for the keyed rate limiter
// ABOUTME: Covers burst exhaustion, refill, per-key isolation, idle cleanup and the nil limiter

package ratelimit

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestLimiter(rps float64, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return newLimiter(rps, burst, clock.Now), clock
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("wallet"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("wallet"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow("wallet"))
	assert.False(t, l.Allow("wallet"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, 1)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiter_CleanupDropsIdleKeys(t *testing.T) {
	l, clock := newTestLimiter(1, 1)

	l.Allow("idle")
	clock.Advance(2 * time.Minute)
	l.Allow("active")
	clock.Advance(2 * time.Minute)

	l.cleanup()
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(0, 10)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("anyone"))
	}
	assert.NotPanics(t, l.Close)
}

func TestLimiter_CloseTwice(t *testing.T) {
	l := New(10, 10)
	l.Close()
	assert.NotPanics(t, l.Close)
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/payments", nil)

	r.RemoteAddr = "203.0.113.7:51234"
	assert.Equal(t, "203.0.113.7", ClientAddr(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientAddr(r))

	r.RemoteAddr = "[2001:db8::2]"
	assert.Equal(t, "2001:db8::2", ClientAddr(r))
}
